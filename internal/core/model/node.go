package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CanonicalKey is the normalized (name, brand, category) identity of an item.
type CanonicalKey struct {
	Name     string   `json:"name"`
	Brand    string   `json:"brand"`
	Category Category `json:"category"`
}

func (k CanonicalKey) String() string {
	return string(k.Category) + "|" + k.Brand + "|" + k.Name
}

// EquipmentID derives a stable entity ID from the canonical key so that
// repeated creates of the same key address the same node.
func EquipmentID(k CanonicalKey) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("geargraph:equipment:"+k.String())).String()
}

func (k CanonicalKey) IsZero() bool {
	return k.Name == "" && k.Brand == "" && k.Category == ""
}

type Equipment struct {
	ID           string            `json:"id"`
	Key          CanonicalKey      `json:"key"`
	Name         string            `json:"name"`
	Brand        string            `json:"brand"`
	Category     Category          `json:"category"`
	Fields       map[string]*Field `json:"fields,omitempty"`
	Materials    []string          `json:"materials,omitempty"`
	Features     []string          `json:"features,omitempty"`
	UseCases     []string          `json:"use_cases,omitempty"`
	Completeness float64           `json:"completeness"`
	AbsorbedInto string            `json:"absorbed_into,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (e *Equipment) Absorbed() bool {
	return e.AbsorbedInto != ""
}

func (e *Equipment) Field(name string) *Field {
	if e == nil || e.Fields == nil {
		return nil
	}
	return e.Fields[name]
}

func (e *Equipment) Number(name string) (float64, bool) {
	f := e.Field(name)
	if !f.Present() {
		return 0, false
	}
	return f.Value.Float()
}

func (e *Equipment) TextValue(name string) (string, bool) {
	f := e.Field(name)
	if !f.Present() || f.Value.Num != nil {
		return "", false
	}
	return f.Value.Text, true
}

func (e *Equipment) WeightGrams() (float64, bool)     { return e.Number(FieldWeight) }
func (e *Equipment) PriceUSD() (float64, bool)        { return e.Number(FieldPrice) }
func (e *Equipment) VolumeLiters() (float64, bool)    { return e.Number(FieldVolume) }
func (e *Equipment) TempRatingF() (float64, bool)     { return e.Number(FieldTempF) }
func (e *Equipment) FillPower() (float64, bool)       { return e.Number(FieldFillPower) }
func (e *Equipment) RValue() (float64, bool)          { return e.Number(FieldRValue) }
func (e *Equipment) CapacityPersons() (float64, bool) { return e.Number(FieldCapacity) }
func (e *Equipment) Lumens() (float64, bool)          { return e.Number(FieldLumens) }
func (e *Equipment) Description() (string, bool)      { return e.TextValue(FieldDescription) }
func (e *Equipment) ProductURL() (string, bool)       { return e.TextValue(FieldProductURL) }

// List returns the list attribute with the given name.
func (e *Equipment) List(name string) []string {
	switch name {
	case ListMaterials:
		return e.Materials
	case ListFeatures:
		return e.Features
	case ListUseCases:
		return e.UseCases
	}
	return nil
}

// SetList stores values as a sorted, deduplicated set.
func (e *Equipment) SetList(name string, values []string) {
	set := SortedSet(values)
	switch name {
	case ListMaterials:
		e.Materials = set
	case ListFeatures:
		e.Features = set
	case ListUseCases:
		e.UseCases = set
	}
}

// FieldNames returns the names of scalar fields that carry a value, sorted.
func (e *Equipment) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for name, f := range e.Fields {
		if f.Present() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (e *Equipment) Clone() *Equipment {
	if e == nil {
		return nil
	}
	c := *e
	c.Fields = make(map[string]*Field, len(e.Fields))
	for name, f := range e.Fields {
		c.Fields[name] = f.Clone()
	}
	c.Materials = append([]string(nil), e.Materials...)
	c.Features = append([]string(nil), e.Features...)
	c.UseCases = append([]string(nil), e.UseCases...)
	return &c
}

// SortedSet trims, drops empties, deduplicates and sorts values.
func SortedSet(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

type Brand struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Country string `json:"country,omitempty"`
	Website string `json:"website,omitempty"`
}

type SourceCounts struct {
	Candidates int `json:"candidates"`
	Created    int `json:"created"`
	Merged     int `json:"merged"`
	Flagged    int `json:"flagged"`
	Failed     int `json:"failed"`
	Invalid    int `json:"invalid"`
	Insights   int `json:"insights"`
}

type Source struct {
	Ref         string       `json:"ref"`
	Kind        string       `json:"kind,omitempty"` // video, article, review ...
	Title       string       `json:"title,omitempty"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
	Counts      SourceCounts `json:"counts"`
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentMixed    Sentiment = "mixed"
)

type Insight struct {
	Key       string    `json:"key"`
	Summary   string    `json:"summary"`
	Content   string    `json:"content,omitempty"`
	Category  string    `json:"category,omitempty"`
	Scenario  string    `json:"scenario,omitempty"`
	Sentiment Sentiment `json:"sentiment"`
	EntityID  string    `json:"entity_id,omitempty"`
	SourceRef string    `json:"source_ref"`
}

// InsightKey hashes the statement with its entity and source so the same
// experience reported twice maps onto one node.
func InsightKey(sourceRef, entityID, summary string) string {
	sum := sha256.Sum256([]byte(sourceRef + "\x00" + entityID + "\x00" + strings.ToLower(summary)))
	return hex.EncodeToString(sum[:16])
}

// ProductFamily is keyed by normalized brand and normalized base name.
type ProductFamily struct {
	Brand string `json:"brand"`
	Base  string `json:"base"`
	Name  string `json:"name"` // display base name
}

func (f ProductFamily) Key() string {
	return f.Brand + "|" + f.Base
}
