package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/agenthands/geargraph/internal/core/dedupe"
	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/core/normalize"
	"github.com/agenthands/geargraph/internal/core/persist"
	"github.com/agenthands/geargraph/internal/logger"
	"github.com/agenthands/geargraph/internal/metrics"
)

var ErrInvalidDecision = errors.New("invalid decision")

// Store is the pending-review persistence used by Service.
type Store interface {
	Put(item model.ReviewItem) (bool, error)
	Get(id string) (model.ReviewItem, error)
	List(f Filter) ([]model.ReviewItem, error)
	Resolve(id string, d model.Decision, at time.Time) (model.ReviewItem, error)
	CountPending() (int, error)
}

// Graph is the part of the persistence gateway review decisions write through.
type Graph interface {
	Commit(ctx context.Context, rec model.MergeRecord) (persist.CommitResult, error)
	ApplyOverrides(ctx context.Context, entityID string, overrides []model.Override) (persist.CommitResult, error)
	Absorb(ctx context.Context, canonicalID, duplicateID string) (persist.CommitResult, error)
	Entity(ctx context.Context, id string) (*model.Equipment, error)
}

// Outcome is what a decision did to the graph.
type Outcome struct {
	Item      model.ReviewItem `json:"item"`
	EntityIDs []string         `json:"entity_ids,omitempty"`
	Created   bool             `json:"created"`
	Conflicts []string         `json:"conflicts,omitempty"` // review items raised by the decision
}

// Service turns review decisions into explicit merge and override inputs.
type Service struct {
	store   Store
	graph   Graph
	locks   *persist.KeyLock // per review ID
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

func NewService(store Store, graph Graph, m *metrics.Metrics, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: store, graph: graph, locks: persist.NewKeyLock(), metrics: m, log: log.With("component", "review"), now: time.Now}
}

// Submit stores a new pending item. Re-submitting the same situation is a no-op.
func (s *Service) Submit(item model.ReviewItem) (bool, error) {
	created, err := s.store.Put(item)
	if err == nil && created {
		s.refreshGauge()
	}
	return created, err
}

func (s *Service) Get(id string) (model.ReviewItem, error) {
	return s.store.Get(id)
}

func (s *Service) List(f Filter) ([]model.ReviewItem, error) {
	return s.store.List(f)
}

// Decide applies d to the pending item id and marks it resolved. Decisions
// on the same item run one at a time; only the first one applies.
func (s *Service) Decide(ctx context.Context, id string, d model.Decision) (Outcome, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	item, err := s.store.Get(id)
	if err != nil {
		return Outcome{}, err
	}
	if item.Status != model.ReviewPending {
		return Outcome{}, fmt.Errorf("%s is %s: %w", id, item.Status, ErrAlreadyResolved)
	}
	if d.Reviewer == "" {
		return Outcome{}, fmt.Errorf("%w: reviewer is required", ErrInvalidDecision)
	}

	var out Outcome
	switch item.Kind {
	case model.ReviewAmbiguousMatch:
		out, err = s.decideMatch(ctx, item, d)
	case model.ReviewFieldConflict:
		out, err = s.decideConflict(ctx, item, d)
	case model.ReviewDuplicateGroup:
		out, err = s.decideDuplicates(ctx, item, d)
	default:
		err = fmt.Errorf("%w: unknown review kind %q", ErrInvalidDecision, item.Kind)
	}
	if err != nil {
		return Outcome{}, err
	}

	resolved, err := s.store.Resolve(id, d, s.now())
	if err != nil {
		return Outcome{}, err
	}
	out.Item = resolved
	s.refreshGauge()
	s.log.Info("review decided", "id", id, "kind", item.Kind, "action", d.Action, "reviewer", d.Reviewer, "entities", out.EntityIDs)
	return out, nil
}

func (s *Service) decideMatch(ctx context.Context, item model.ReviewItem, d model.Decision) (Outcome, error) {
	if item.Candidate == nil {
		return Outcome{}, fmt.Errorf("%w: item %s has no candidate", ErrInvalidDecision, item.ID)
	}
	c := *item.Candidate
	rec := model.MergeRecord{
		Key:       c.Key,
		Candidate: c,
		Matches:   item.Matches,
		Origin:    model.OriginReview,
	}
	if c.SourceRef != "" {
		rec.Source = &model.Source{Ref: c.SourceRef}
	}

	switch d.Action {
	case model.DecisionAccept:
		target := d.TargetID
		if target == "" {
			target = item.EntityID
		}
		if !matchListed(item.Matches, target) {
			return Outcome{}, fmt.Errorf("%w: %s is not among the proposed matches", ErrInvalidDecision, target)
		}
		rec.Action, rec.TargetID = model.ActionMerge, target
	case model.DecisionEdit:
		if d.TargetID != "" {
			rec.Action, rec.TargetID = model.ActionMerge, d.TargetID
		} else {
			rec.Action = model.ActionCreate
		}
	case model.DecisionReject:
		rec.Action = model.ActionCreate
	default:
		return Outcome{}, fmt.Errorf("%w: action %q", ErrInvalidDecision, d.Action)
	}

	res, err := s.graph.Commit(ctx, rec)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{EntityIDs: []string{res.Entity.ID}, Created: res.Report.Created}
	out.Conflicts = s.raiseConflicts(res.Report.Conflicts, c.SourceRef)

	if d.Action == model.DecisionEdit && len(d.Values) > 0 {
		overrides, err := s.overrides(res.Entity.ID, d)
		if err != nil {
			return Outcome{}, err
		}
		if _, err := s.graph.ApplyOverrides(ctx, res.Entity.ID, overrides); err != nil {
			return Outcome{}, err
		}
	}
	return out, nil
}

func (s *Service) decideConflict(ctx context.Context, item model.ReviewItem, d model.Decision) (Outcome, error) {
	var o model.Override
	switch d.Action {
	case model.DecisionAccept:
		if item.Proposed == nil {
			return Outcome{}, fmt.Errorf("%w: item %s has no proposed value", ErrInvalidDecision, item.ID)
		}
		o = s.override(item.EntityID, item.Field, item.Proposed.Value, item.Proposed.Raw, d)
	case model.DecisionEdit:
		raw, ok := d.Values[item.Field]
		if !ok {
			return Outcome{}, fmt.Errorf("%w: edit must supply %s", ErrInvalidDecision, item.Field)
		}
		overrides, err := s.overrides(item.EntityID, model.Decision{Values: map[string]string{item.Field: raw}, Reviewer: d.Reviewer, Reason: d.Reason})
		if err != nil {
			return Outcome{}, err
		}
		o = overrides[0]
	case model.DecisionReject:
		e, err := s.graph.Entity(ctx, item.EntityID)
		if err != nil {
			return Outcome{}, err
		}
		f := e.Field(item.Field)
		if !f.Present() {
			return Outcome{}, fmt.Errorf("%w: %s has no current %s", ErrInvalidDecision, item.EntityID, item.Field)
		}
		o = s.override(item.EntityID, item.Field, f.Value, "", d)
	default:
		return Outcome{}, fmt.Errorf("%w: action %q", ErrInvalidDecision, d.Action)
	}

	if _, err := s.graph.ApplyOverrides(ctx, item.EntityID, []model.Override{o}); err != nil {
		return Outcome{}, err
	}
	return Outcome{EntityIDs: []string{item.EntityID}}, nil
}

func (s *Service) decideDuplicates(ctx context.Context, item model.ReviewItem, d model.Decision) (Outcome, error) {
	if d.Action == model.DecisionReject {
		return Outcome{}, nil
	}
	if d.Action != model.DecisionAccept && d.Action != model.DecisionEdit {
		return Outcome{}, fmt.Errorf("%w: action %q", ErrInvalidDecision, d.Action)
	}
	if len(item.Group) < 2 {
		return Outcome{}, fmt.Errorf("%w: group %s has fewer than two members", ErrInvalidDecision, item.ID)
	}
	canonical := item.Group[0]
	if d.TargetID != "" {
		if !contains(item.Group, d.TargetID) {
			return Outcome{}, fmt.Errorf("%w: %s is not in the group", ErrInvalidDecision, d.TargetID)
		}
		canonical = d.TargetID
	}

	out := Outcome{EntityIDs: []string{canonical}}
	for _, id := range item.Group {
		if id == canonical {
			continue
		}
		res, err := s.graph.Absorb(ctx, canonical, id)
		if err != nil {
			return Outcome{}, fmt.Errorf("absorb %s into %s: %w", id, canonical, err)
		}
		out.Conflicts = append(out.Conflicts, s.raiseConflicts(res.Report.Conflicts, "")...)
	}
	return out, nil
}

// overrides parses edited values into field overrides.
func (s *Service) overrides(entityID string, d model.Decision) ([]model.Override, error) {
	fields := make([]string, 0, len(d.Values))
	for f := range d.Values {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	out := make([]model.Override, 0, len(fields))
	for _, f := range fields {
		raw := d.Values[f]
		name := normalize.CanonicalField(f)
		if model.IsListField(name) {
			out = append(out, s.override(entityID, name, model.Value{}, raw, d))
			continue
		}
		name, v, err := normalize.ParseFieldValue(f, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDecision, f, err)
		}
		out = append(out, s.override(entityID, name, v, raw, d))
	}
	return out, nil
}

func (s *Service) override(entityID, field string, v model.Value, raw string, d model.Decision) model.Override {
	return model.Override{
		EntityID: entityID,
		Field:    field,
		Value:    v,
		Raw:      raw,
		Reviewer: d.Reviewer,
		Reason:   d.Reason,
		At:       s.now(),
	}
}

func (s *Service) raiseConflicts(conflicts []model.FieldConflict, sourceRef string) []string {
	var ids []string
	for _, fc := range conflicts {
		item := dedupe.ConflictReview(fc, sourceRef, s.now())
		if _, err := s.Submit(item); err != nil {
			s.log.Error("failed to store conflict review", "entity", fc.EntityID, "field", fc.Field, "error", err)
			continue
		}
		ids = append(ids, item.ID)
	}
	return ids
}

func (s *Service) refreshGauge() {
	if n, err := s.store.CountPending(); err == nil {
		s.metrics.SetPendingReviews(n)
	}
}

func matchListed(matches []model.Match, id string) bool {
	if id == "" {
		return false
	}
	for _, m := range matches {
		if m.EntityID == id {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
