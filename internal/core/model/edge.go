package model

// Relationship types written to the graph.
const (
	RelManufacturedBy = "MANUFACTURED_BY"
	RelHasSpec        = "HAS_SPEC"
	RelMentions       = "MENTIONS"
	RelHasExperience  = "HAS_EXPERIENCE"
	RelVariantOf      = "VARIANT_OF"
)

// Node labels that can be left dangling when their last entity goes away.
const (
	LabelBrand         = "Brand"
	LabelInsight       = "Insight"
	LabelProductFamily = "ProductFamily"
)

// Orphan is a node no live entity points at.
type Orphan struct {
	Label string `json:"label"`
	Key   string `json:"key"`
	Name  string `json:"name,omitempty"`
}

// Variant patterns reported by the family grouper.
const (
	PatternTrailingNumber = "trailing_number"
	PatternNumberUnit     = "number_unit"
	PatternSuffixCode     = "suffix_code"
)

// FamilyAssignment is the VARIANT_OF edge from an item to its product family.
type FamilyAssignment struct {
	FamilyName string  `json:"family_name"`
	Base       string  `json:"base"`
	Brand      string  `json:"brand"`
	Variant    string  `json:"variant"`
	Pattern    string  `json:"pattern"`
	Confidence float64 `json:"confidence"`
}

func (a FamilyAssignment) Family() ProductFamily {
	return ProductFamily{Brand: a.Brand, Base: a.Base, Name: a.FamilyName}
}

// Edge is a relationship row as returned by the store for an entity.
type Edge struct {
	Type       string         `json:"type"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Properties map[string]any `json:"properties,omitempty"`
}
