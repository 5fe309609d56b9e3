package score

import (
	"sort"
	"strings"

	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/core/normalize"
)

const (
	fieldName  = "name"
	fieldBrand = "brand"
)

type weighted struct {
	field  string
	weight float64
}

var core = []weighted{
	{fieldName, 3},
	{fieldBrand, 3},
	{model.FieldWeight, 3},
	{model.FieldPrice, 3},
}

var general = []weighted{
	{model.FieldDescription, 1},
	{model.FieldProductURL, 1},
	{model.ListMaterials, 1},
	{model.ListFeatures, 1},
}

var byCategory = map[model.Category][]weighted{
	model.CategoryBackpack:        {{model.FieldVolume, 2}},
	model.CategoryTent:            {{model.FieldCapacity, 2}, {model.FieldPackedWeight, 1}, {model.FieldWaterproof, 1}, {model.FieldPackedSize, 1}},
	model.CategorySleepingBag:     {{model.FieldTempF, 2}, {model.FieldFillPower, 2}, {model.FieldFillWeight, 1}, {model.FieldPackedSize, 1}},
	model.CategorySleepingPad:     {{model.FieldRValue, 2}, {model.FieldPackedSize, 1}},
	model.CategoryClothing:        {{model.FieldWaterproof, 1}, {model.FieldFillPower, 1}},
	model.CategoryFootwear:        {{model.FieldWaterproof, 1}},
	model.CategoryStove:           {{model.FieldFuelType, 2}, {model.FieldBurnTime, 1}},
	model.CategoryWaterFiltration: {{model.FieldFilterType, 2}, {model.FieldFlowRate, 1}},
	model.CategoryLighting:        {{model.FieldLumens, 2}, {model.FieldBurnTime, 1}},
}

func weightsFor(c model.Category) []weighted {
	out := make([]weighted, 0, len(core)+len(general)+4)
	out = append(out, core...)
	out = append(out, general...)
	return append(out, byCategory[c]...)
}

// Score returns the weighted share of present fields for e's category.
// It is pure; callers recompute it after every mutation.
func Score(e *model.Equipment) float64 {
	if e == nil {
		return 0
	}
	var have, total float64
	for _, w := range weightsFor(e.Category) {
		total += w.weight
		if present(e, w.field) {
			have += w.weight
		}
	}
	if total == 0 {
		return 0
	}
	s := have / total
	if s > 1 {
		return 1
	}
	return s
}

// Missing lists absent fields, heaviest first, for enrichment.
func Missing(e *model.Equipment) []string {
	if e == nil {
		return nil
	}
	ws := weightsFor(e.Category)
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].weight != ws[j].weight {
			return ws[i].weight > ws[j].weight
		}
		return ws[i].field < ws[j].field
	})
	var out []string
	for _, w := range ws {
		if !present(e, w.field) {
			out = append(out, w.field)
		}
	}
	return out
}

func present(e *model.Equipment, field string) bool {
	switch field {
	case fieldName:
		return meaningful(e.Name)
	case fieldBrand:
		return meaningful(e.Brand)
	}
	if model.IsListField(field) {
		for _, v := range e.List(field) {
			if meaningful(v) {
				return true
			}
		}
		return false
	}
	f := e.Field(field)
	if !f.Present() {
		return false
	}
	if f.Value.Num != nil {
		return true
	}
	return meaningful(f.Value.Text)
}

func meaningful(s string) bool {
	return strings.TrimSpace(s) != "" && !normalize.IsSentinel(s)
}
