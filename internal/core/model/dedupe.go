package model

import "time"

type Match struct {
	EntityID     string  `json:"entity_id"`
	Name         string  `json:"name"`
	Brand        string  `json:"brand"`
	Score        float64 `json:"score"`
	NameScore    float64 `json:"name_score"`
	Completeness float64 `json:"completeness"`
}

type Action string

const (
	ActionCreate Action = "create"
	ActionMerge  Action = "merge"
	ActionReview Action = "review"
)

type Origin string

const (
	OriginPipeline Origin = "pipeline"
	OriginReview   Origin = "review"
)

// Override is a human decision on a single field. It always wins.
type Override struct {
	EntityID string    `json:"entity_id"`
	Field    string    `json:"field"`
	Value    Value     `json:"value"`
	Raw      string    `json:"raw,omitempty"`
	Reviewer string    `json:"reviewer"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

func (o Override) Provenance() Provenance {
	return Provenance{
		SourceRef:  "review:" + o.Reviewer,
		Raw:        o.Raw,
		Value:      o.Value,
		Confidence: 1,
		ObservedAt: o.At,
		Override:   true,
		Reviewer:   o.Reviewer,
	}
}

// MergeRecord is the resolver's decision for one candidate. It is never
// persisted as a node.
type MergeRecord struct {
	Action    Action              `json:"action"`
	TargetID  string              `json:"target_id,omitempty"`
	Key       CanonicalKey        `json:"key"`
	Candidate NormalizedCandidate `json:"candidate"`
	Score     float64             `json:"score"`
	Matches   []Match             `json:"matches,omitempty"`
	Overrides []Override          `json:"overrides,omitempty"`
	Family    *FamilyAssignment   `json:"family,omitempty"`
	Source    *Source             `json:"source,omitempty"` // source node the candidate came from
	Origin    Origin              `json:"origin"`
}

type FieldConflict struct {
	EntityID string     `json:"entity_id"`
	Field    string     `json:"field"`
	Existing Provenance `json:"existing"`
	Proposed Provenance `json:"proposed"`
}

type MergeReport struct {
	Created            bool            `json:"created"`
	Changed            bool            `json:"changed"`
	ChangedFields      []string        `json:"changed_fields,omitempty"`
	Conflicts          []FieldConflict `json:"conflicts,omitempty"`
	AppendedProvenance int             `json:"appended_provenance"`
}

// DuplicatePair is a scored pair found by the duplicate audit.
type DuplicatePair struct {
	CanonicalID string  `json:"canonical_id"`
	DuplicateID string  `json:"duplicate_id"`
	Score       float64 `json:"score"`
}
