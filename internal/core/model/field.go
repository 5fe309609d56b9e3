package model

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Kind int

const (
	KindNumber Kind = iota
	KindText
)

// Unit is the canonical unit a numeric field is stored in.
type Unit string

const (
	UnitNone       Unit = ""
	UnitGrams      Unit = "grams"
	UnitUSD        Unit = "usd"
	UnitLiters     Unit = "liters"
	UnitFahrenheit Unit = "fahrenheit"
	UnitCelsius    Unit = "celsius"
	UnitCount      Unit = "count"
	UnitRatio      Unit = "ratio"
)

const (
	FieldWeight       = "weight_grams"
	FieldPrice        = "price_usd"
	FieldDescription  = "description"
	FieldProductURL   = "product_url"
	FieldImageURL     = "image_url"
	FieldModel        = "model"
	FieldVolume       = "volume_liters"
	FieldTempF        = "temp_rating_f"
	FieldTempC        = "temp_rating_c"
	FieldFillPower    = "fill_power"
	FieldFillWeight   = "fill_weight_grams"
	FieldRValue       = "r_value"
	FieldCapacity     = "capacity_persons"
	FieldPackedWeight = "packed_weight_grams"
	FieldPackedSize   = "packed_size"
	FieldWaterproof   = "waterproof_rating"
	FieldLumens       = "lumens"
	FieldBurnTime     = "burn_time"
	FieldFuelType     = "fuel_type"
	FieldFilterType   = "filter_type"
	FieldFlowRate     = "flow_rate"

	ListMaterials = "materials"
	ListFeatures  = "features"
	ListUseCases  = "use_cases"
)

// FieldSpec describes one scalar attribute. Empty Categories means the field
// applies to every category.
type FieldSpec struct {
	Name       string
	Kind       Kind
	Unit       Unit
	Categories []Category
}

func (s FieldSpec) AppliesTo(c Category) bool {
	if len(s.Categories) == 0 {
		return true
	}
	for _, cat := range s.Categories {
		if cat == c {
			return true
		}
	}
	return false
}

var fieldSpecs = map[string]FieldSpec{
	FieldWeight:       {Name: FieldWeight, Kind: KindNumber, Unit: UnitGrams},
	FieldPrice:        {Name: FieldPrice, Kind: KindNumber, Unit: UnitUSD},
	FieldDescription:  {Name: FieldDescription, Kind: KindText},
	FieldProductURL:   {Name: FieldProductURL, Kind: KindText},
	FieldImageURL:     {Name: FieldImageURL, Kind: KindText},
	FieldModel:        {Name: FieldModel, Kind: KindText},
	FieldVolume:       {Name: FieldVolume, Kind: KindNumber, Unit: UnitLiters, Categories: []Category{CategoryBackpack}},
	FieldTempF:        {Name: FieldTempF, Kind: KindNumber, Unit: UnitFahrenheit, Categories: []Category{CategorySleepingBag}},
	FieldTempC:        {Name: FieldTempC, Kind: KindNumber, Unit: UnitCelsius, Categories: []Category{CategorySleepingBag}},
	FieldFillPower:    {Name: FieldFillPower, Kind: KindNumber, Unit: UnitCount, Categories: []Category{CategorySleepingBag, CategoryClothing}},
	FieldFillWeight:   {Name: FieldFillWeight, Kind: KindNumber, Unit: UnitGrams, Categories: []Category{CategorySleepingBag, CategoryClothing}},
	FieldRValue:       {Name: FieldRValue, Kind: KindNumber, Unit: UnitRatio, Categories: []Category{CategorySleepingPad}},
	FieldCapacity:     {Name: FieldCapacity, Kind: KindNumber, Unit: UnitCount, Categories: []Category{CategoryTent}},
	FieldPackedWeight: {Name: FieldPackedWeight, Kind: KindNumber, Unit: UnitGrams, Categories: []Category{CategoryTent, CategorySleepingBag}},
	FieldPackedSize:   {Name: FieldPackedSize, Kind: KindText, Categories: []Category{CategoryTent, CategorySleepingBag, CategorySleepingPad}},
	FieldWaterproof:   {Name: FieldWaterproof, Kind: KindText, Categories: []Category{CategoryTent, CategoryClothing, CategoryFootwear}},
	FieldLumens:       {Name: FieldLumens, Kind: KindNumber, Unit: UnitCount, Categories: []Category{CategoryLighting}},
	FieldBurnTime:     {Name: FieldBurnTime, Kind: KindText, Categories: []Category{CategoryLighting, CategoryStove}},
	FieldFuelType:     {Name: FieldFuelType, Kind: KindText, Categories: []Category{CategoryStove}},
	FieldFilterType:   {Name: FieldFilterType, Kind: KindText, Categories: []Category{CategoryWaterFiltration}},
	FieldFlowRate:     {Name: FieldFlowRate, Kind: KindText, Categories: []Category{CategoryWaterFiltration}},
}

var listFields = map[string]bool{ListMaterials: true, ListFeatures: true, ListUseCases: true}

func LookupField(name string) (FieldSpec, bool) {
	s, ok := fieldSpecs[name]
	return s, ok
}

func IsListField(name string) bool {
	return listFields[name]
}

// FieldsFor returns the scalar fields that apply to c, sorted by name.
func FieldsFor(c Category) []FieldSpec {
	var out []FieldSpec
	for _, s := range fieldSpecs {
		if s.AppliesTo(c) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Value is either a number (Num set) or text.
type Value struct {
	Num  *float64 `json:"num,omitempty"`
	Text string   `json:"text,omitempty"`
}

func Number(f float64) Value {
	return Value{Num: &f}
}

func Text(s string) Value {
	return Value{Text: s}
}

func (v Value) IsZero() bool {
	return v.Num == nil && v.Text == ""
}

func (v Value) Float() (float64, bool) {
	if v.Num == nil {
		return 0, false
	}
	return *v.Num, true
}

func (v Value) Equal(o Value) bool {
	if v.Num != nil || o.Num != nil {
		if v.Num == nil || o.Num == nil {
			return false
		}
		return math.Abs(*v.Num-*o.Num) < 1e-9
	}
	return strings.EqualFold(strings.TrimSpace(v.Text), strings.TrimSpace(o.Text))
}

func (v Value) String() string {
	if v.Num != nil {
		return strconv.FormatFloat(*v.Num, 'f', -1, 64)
	}
	return v.Text
}

// Provenance records one observation of a field value.
type Provenance struct {
	SourceRef  string    `json:"source_ref"`
	Raw        string    `json:"raw,omitempty"`
	Value      Value     `json:"value"`
	Confidence float64   `json:"confidence"`
	ObservedAt time.Time `json:"observed_at"`
	Status     string    `json:"status,omitempty"` // verification status reported upstream
	Override   bool      `json:"override,omitempty"`
	Reviewer   string    `json:"reviewer,omitempty"`
}

// SameObservation reports whether p and o assert the same value from the same source.
func (p Provenance) SameObservation(o Provenance) bool {
	return p.SourceRef == o.SourceRef && p.Override == o.Override && p.Value.Equal(o.Value)
}

type FieldStatus string

const (
	StatusOK         FieldStatus = ""
	StatusConflict   FieldStatus = "conflict"
	StatusOverridden FieldStatus = "overridden"
)

type Field struct {
	Value      Value        `json:"value"`
	Confidence float64      `json:"confidence"`
	Status     FieldStatus  `json:"status,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
	Provenance []Provenance `json:"provenance"`
}

func (f *Field) Present() bool {
	return f != nil && !f.Value.IsZero()
}

func (f *Field) HasObservation(p Provenance) bool {
	return f.ObservationIndex(p) >= 0
}

// ObservationIndex returns the position of the provenance record asserting
// the same observation as p, or -1.
func (f *Field) ObservationIndex(p Provenance) int {
	if f == nil {
		return -1
	}
	for i, existing := range f.Provenance {
		if existing.SameObservation(p) {
			return i
		}
	}
	return -1
}

func (f *Field) Clone() *Field {
	if f == nil {
		return nil
	}
	c := *f
	if f.Value.Num != nil {
		n := *f.Value.Num
		c.Value.Num = &n
	}
	c.Provenance = append([]Provenance(nil), f.Provenance...)
	return &c
}
