package dedupe

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agenthands/geargraph/internal/core/model"
)

// ReviewID derives a deterministic review item ID so the same situation
// reported twice is stored once.
func ReviewID(kind model.ReviewKind, parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(string(kind)+"\x00"+strings.Join(parts, "\x00"))).String()
}

// AmbiguousReview builds the pending item for a candidate in the review band.
func AmbiguousReview(rec model.MergeRecord, now time.Time) model.ReviewItem {
	c := rec.Candidate
	return model.ReviewItem{
		ID:        ReviewID(model.ReviewAmbiguousMatch, c.SourceRef, c.Key.String()),
		Kind:      model.ReviewAmbiguousMatch,
		Status:    model.ReviewPending,
		SourceRef: c.SourceRef,
		Candidate: &c,
		Matches:   rec.Matches,
		EntityID:  rec.TargetID,
		CreatedAt: now,
	}
}

// ConflictReview builds the pending item for two disagreeing verified values.
func ConflictReview(fc model.FieldConflict, sourceRef string, now time.Time) model.ReviewItem {
	existing, proposed := fc.Existing, fc.Proposed
	return model.ReviewItem{
		ID: ReviewID(model.ReviewFieldConflict, fc.EntityID, fc.Field,
			existing.SourceRef, existing.Value.String(), proposed.SourceRef, proposed.Value.String()),
		Kind:      model.ReviewFieldConflict,
		Status:    model.ReviewPending,
		SourceRef: sourceRef,
		EntityID:  fc.EntityID,
		Field:     fc.Field,
		Existing:  &existing,
		Proposed:  &proposed,
		CreatedAt: now,
	}
}

// DuplicateReview builds the pending item for an audit group. group[0] is
// the canonical entity.
func DuplicateReview(group []string, pairs []model.DuplicatePair, now time.Time) model.ReviewItem {
	matches := make([]model.Match, 0, len(pairs))
	for _, p := range pairs {
		matches = append(matches, model.Match{EntityID: p.DuplicateID, Score: p.Score})
	}
	return model.ReviewItem{
		ID:        ReviewID(model.ReviewDuplicateGroup, group...),
		Kind:      model.ReviewDuplicateGroup,
		Status:    model.ReviewPending,
		EntityID:  group[0],
		Group:     group,
		Matches:   matches,
		CreatedAt: now,
	}
}
