package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// RawField is one scalar value as proposed by an upstream collaborator.
// A nil Confidence means none was given; an explicit 0 is kept.
type RawField struct {
	Value      any      `json:"value" yaml:"value"`
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	SourceRef  string   `json:"source_ref,omitempty" yaml:"source_ref,omitempty"`
	Status     string   `json:"status,omitempty" yaml:"status,omitempty"`
}

// Conf returns c as a RawField confidence.
func Conf(c float64) *float64 {
	return &c
}

// UnmarshalJSON accepts either the object form or a bare scalar value.
func (r *RawField) UnmarshalJSON(data []byte) error {
	if b := bytes.TrimSpace(data); len(b) > 0 && b[0] == '{' {
		type plain RawField
		var p plain
		if err := json.Unmarshal(b, &p); err != nil {
			return err
		}
		*r = RawField(p)
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = RawField{Value: v}
	return nil
}

type Experience struct {
	Summary   string `json:"summary" yaml:"summary"`
	Content   string `json:"content,omitempty" yaml:"content,omitempty"`
	Category  string `json:"category,omitempty" yaml:"category,omitempty"`
	Scenario  string `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	Sentiment string `json:"sentiment,omitempty" yaml:"sentiment,omitempty"`
}

// Candidate is the ingestion contract: a draft item proposed by extraction
// and verification, not yet resolved against the graph.
type Candidate struct {
	Name         string              `json:"name" yaml:"name"`
	Brand        string              `json:"brand" yaml:"brand"`
	Category     string              `json:"category" yaml:"category"`
	BrandCountry string              `json:"brand_country,omitempty" yaml:"brand_country,omitempty"`
	BrandWebsite string              `json:"brand_website,omitempty" yaml:"brand_website,omitempty"`
	Fields       map[string]RawField `json:"fields,omitempty" yaml:"fields,omitempty"`
	Lists        map[string][]string `json:"lists,omitempty" yaml:"lists,omitempty"`
	Experiences  []Experience        `json:"experiences,omitempty" yaml:"experiences,omitempty"`
	SourceRef    string              `json:"source_ref,omitempty" yaml:"source_ref,omitempty"`
}

// Observation is a normalized field value with its provenance.
type Observation struct {
	Field      string    `json:"field"`
	Value      Value     `json:"value"`
	Raw        string    `json:"raw,omitempty"`
	Confidence float64   `json:"confidence"`
	SourceRef  string    `json:"source_ref"`
	ObservedAt time.Time `json:"observed_at"`
	Status     string    `json:"status,omitempty"`
	Override   bool      `json:"override,omitempty"`
	Reviewer   string    `json:"reviewer,omitempty"`
}

func (o Observation) Provenance() Provenance {
	return Provenance{
		SourceRef:  o.SourceRef,
		Raw:        o.Raw,
		Value:      o.Value,
		Confidence: o.Confidence,
		ObservedAt: o.ObservedAt,
		Status:     o.Status,
		Override:   o.Override,
		Reviewer:   o.Reviewer,
	}
}

type NormalizedCandidate struct {
	Key          CanonicalKey        `json:"key"`
	Name         string              `json:"name"`
	Brand        string              `json:"brand"`
	Category     Category            `json:"category"`
	MatchName    string              `json:"match_name"` // key name with the brand prefix stripped
	Tokens       []string            `json:"tokens"`
	Observations []Observation       `json:"observations,omitempty"`
	Lists        map[string][]string `json:"lists,omitempty"`
	Experiences  []Experience        `json:"experiences,omitempty"`
	BrandInfo    Brand               `json:"brand_info"`
	SourceRef    string              `json:"source_ref"`
}

// Observation returns the observation for field, if any.
func (c *NormalizedCandidate) Observation(field string) (Observation, bool) {
	for _, o := range c.Observations {
		if o.Field == field {
			return o, true
		}
	}
	return Observation{}, false
}
