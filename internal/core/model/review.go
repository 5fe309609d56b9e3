package model

import "time"

type ReviewKind string

const (
	ReviewAmbiguousMatch ReviewKind = "ambiguous_match"
	ReviewFieldConflict  ReviewKind = "field_conflict"
	ReviewDuplicateGroup ReviewKind = "duplicate_group"
)

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewAccepted ReviewStatus = "accepted"
	ReviewEdited   ReviewStatus = "edited"
	ReviewRejected ReviewStatus = "rejected"
)

// Suggestion is an advisory hint attached to an ambiguous match.
type Suggestion struct {
	EntityID   string  `json:"entity_id,omitempty"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

type ReviewItem struct {
	ID         string               `json:"id"`
	Kind       ReviewKind           `json:"kind"`
	Status     ReviewStatus         `json:"status"`
	SourceRef  string               `json:"source_ref,omitempty"`
	Candidate  *NormalizedCandidate `json:"candidate,omitempty"`
	Matches    []Match              `json:"matches,omitempty"`
	EntityID   string               `json:"entity_id,omitempty"`
	Field      string               `json:"field,omitempty"`
	Existing   *Provenance          `json:"existing,omitempty"`
	Proposed   *Provenance          `json:"proposed,omitempty"`
	Group      []string             `json:"group,omitempty"` // duplicate_group members, canonical first
	Suggestion *Suggestion          `json:"suggestion,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	ResolvedAt *time.Time           `json:"resolved_at,omitempty"`
	Reviewer   string               `json:"reviewer,omitempty"`
	Decision   *Decision            `json:"decision,omitempty"`
}

type DecisionAction string

const (
	DecisionAccept DecisionAction = "accept"
	DecisionEdit   DecisionAction = "edit"
	DecisionReject DecisionAction = "reject"
)

type Decision struct {
	Action   DecisionAction    `json:"action"`
	TargetID string            `json:"target_id,omitempty"`
	Values   map[string]string `json:"values,omitempty"`
	Reviewer string            `json:"reviewer"`
	Reason   string            `json:"reason,omitempty"`
}
