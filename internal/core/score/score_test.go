package score

import (
	"testing"

	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/stretchr/testify/assert"
)

func field(v model.Value) *model.Field {
	return &model.Field{Value: v, Confidence: 0.8}
}

func fullBackpack() *model.Equipment {
	return &model.Equipment{
		Name:     "Exos 58",
		Brand:    "Osprey",
		Category: model.CategoryBackpack,
		Fields: map[string]*model.Field{
			model.FieldWeight:      field(model.Number(1100)),
			model.FieldPrice:       field(model.Number(220)),
			model.FieldDescription: field(model.Text("Ultralight frame pack")),
			model.FieldProductURL:  field(model.Text("https://osprey.example/exos-58")),
			model.FieldVolume:      field(model.Number(58)),
		},
		Materials: []string{"nylon"},
		Features:  []string{"hipbelt pockets"},
	}
}

func TestScore_FullEntityIsOne(t *testing.T) {
	assert.Equal(t, 1.0, Score(fullBackpack()))
	assert.Empty(t, Missing(fullBackpack()))
}

func TestScore_NameAndBrandOnly(t *testing.T) {
	e := &model.Equipment{Name: "Exos 58", Brand: "Osprey", Category: model.CategoryBackpack}
	s := Score(e)

	// core weights: name, brand, weight, price = 12 of 18 for a backpack
	coreFraction := 12.0 / 18.0
	assert.Greater(t, s, 0.0)
	assert.Less(t, s, coreFraction)
	assert.InDelta(t, 6.0/18.0, s, 1e-9)
}

func TestScore_PlaceholdersCountAsAbsent(t *testing.T) {
	e := fullBackpack()
	e.Fields[model.FieldDescription] = field(model.Text("Unknown"))
	e.Materials = []string{"n/a"}
	assert.InDelta(t, 16.0/18.0, Score(e), 1e-9)

	missing := Missing(e)
	assert.Equal(t, []string{model.FieldDescription, model.ListMaterials}, missing)
}

func TestScore_Bounds(t *testing.T) {
	for _, c := range []model.Category{
		model.CategoryBackpack, model.CategoryTent, model.CategorySleepingBag,
		model.CategoryLighting, model.CategoryOther, model.Category("bogus"),
	} {
		empty := &model.Equipment{Category: c}
		assert.Equal(t, 0.0, Score(empty))

		e := fullBackpack()
		e.Category = c
		s := Score(e)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
	assert.Equal(t, 0.0, Score(nil))
}

func TestMissing_OrderedByWeight(t *testing.T) {
	e := &model.Equipment{Name: "Disco 15", Brand: "NEMO", Category: model.CategorySleepingBag}
	missing := Missing(e)
	assert.Equal(t, []string{model.FieldPrice, model.FieldWeight, model.FieldFillPower, model.FieldTempF}, missing[:4])
}
