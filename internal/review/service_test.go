package review

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/core/dedupe"
	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/core/normalize"
	"github.com/agenthands/geargraph/internal/core/persist"
)

var at = time.Date(2026, 5, 3, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	gateway  *persist.Gateway
	store    *persist.MemoryStore
	resolver *dedupe.Resolver
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Persistence.InitialBackoff = "1ms"
	ms := persist.NewMemoryStore()
	resolver := dedupe.NewResolver(cfg.Matching, cfg.Merge)
	g := persist.NewGateway(ms, resolver, cfg.Persistence, nil, nil)
	svc := NewService(newStore(t), g, nil, nil)
	svc.now = func() time.Time { return at }
	return fixture{svc: svc, gateway: g, store: ms, resolver: resolver}
}

func normalized(t *testing.T, name, source string, grams float64, conf float64) model.NormalizedCandidate {
	t.Helper()
	c, _, err := normalize.New(0.5).Normalize(model.Candidate{
		Name: name, Brand: "Osprey", Category: "backpack", SourceRef: source,
		Fields: map[string]model.RawField{model.FieldWeight: {Value: grams, Confidence: model.Conf(conf)}},
	}, at)
	require.NoError(t, err)
	return c
}

func (f fixture) create(t *testing.T, c model.NormalizedCandidate) *model.Equipment {
	t.Helper()
	res, err := f.gateway.Commit(context.Background(), model.MergeRecord{Action: model.ActionCreate, Key: c.Key, Candidate: c})
	require.NoError(t, err)
	return res.Entity
}

func (f fixture) ambiguous(t *testing.T, target *model.Equipment, c model.NormalizedCandidate) model.ReviewItem {
	t.Helper()
	rec := f.resolver.Decide(c, []model.Match{{EntityID: target.ID, Name: target.Name, Score: 0.8}})
	require.Equal(t, model.ActionReview, rec.Action)
	item := dedupe.AmbiguousReview(rec, at)
	_, err := f.svc.Submit(item)
	require.NoError(t, err)
	return item
}

func TestDecide_AmbiguousAcceptMergesIntoChosenEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exos := f.create(t, normalized(t, "Exos 58", "vid-1", 1100, 0.9))
	item := f.ambiguous(t, exos, normalized(t, "Exos 58 Pack", "vid-2", 1110, 0.4))

	out, err := f.svc.Decide(ctx, item.ID, model.Decision{Action: model.DecisionAccept, Reviewer: "kim"})
	require.NoError(t, err)
	assert.Equal(t, []string{exos.ID}, out.EntityIDs)
	assert.False(t, out.Created)
	assert.Equal(t, model.ReviewAccepted, out.Item.Status)
	assert.Equal(t, 1, f.store.EntityCount())

	e, err := f.gateway.Entity(ctx, exos.ID)
	require.NoError(t, err)
	assert.Len(t, e.Field(model.FieldWeight).Provenance, 2)

	_, err = f.svc.Decide(ctx, item.ID, model.Decision{Action: model.DecisionAccept, Reviewer: "kim"})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestDecide_AmbiguousRejectCreatesDistinctEntity(t *testing.T) {
	f := newFixture(t)
	exos := f.create(t, normalized(t, "Exos 58", "vid-1", 1100, 0.9))
	item := f.ambiguous(t, exos, normalized(t, "Exos 58 Pack", "vid-2", 1110, 0.4))

	out, err := f.svc.Decide(context.Background(), item.ID, model.Decision{Action: model.DecisionReject, Reviewer: "kim"})
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.NotEqual(t, exos.ID, out.EntityIDs[0])
	assert.Equal(t, 2, f.store.EntityCount())
}

func TestDecide_AmbiguousEditAppliesOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exos := f.create(t, normalized(t, "Exos 58", "vid-1", 1100, 0.9))
	item := f.ambiguous(t, exos, normalized(t, "Exos 58 Pack", "vid-2", 1110, 0.4))

	_, err := f.svc.Decide(ctx, item.ID, model.Decision{
		Action: model.DecisionEdit, TargetID: exos.ID, Reviewer: "kim",
		Values: map[string]string{"weight": "1.18 kg", "materials": "dyneema, nylon"},
	})
	require.NoError(t, err)

	e, err := f.gateway.Entity(ctx, exos.ID)
	require.NoError(t, err)
	assert.Equal(t, 1180.0, *e.Field(model.FieldWeight).Value.Num)
	assert.Equal(t, model.StatusOverridden, e.Field(model.FieldWeight).Status)
	assert.Equal(t, []string{"dyneema", "nylon"}, e.Materials)
}

func TestDecide_AcceptRejectsUnlistedTarget(t *testing.T) {
	f := newFixture(t)
	exos := f.create(t, normalized(t, "Exos 58", "vid-1", 1100, 0.9))
	item := f.ambiguous(t, exos, normalized(t, "Exos 58 Pack", "vid-2", 1110, 0.4))

	_, err := f.svc.Decide(context.Background(), item.ID, model.Decision{Action: model.DecisionAccept, TargetID: "other", Reviewer: "kim"})
	assert.ErrorIs(t, err, ErrInvalidDecision)

	got, err := f.svc.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewPending, got.Status)
}

func TestDecide_FieldConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exos := f.create(t, normalized(t, "Exos 58", "vid-b", 1100, 0.9))

	c := normalized(t, "Exos 58", "vid-a", 900, 0.5)
	res, err := f.gateway.Commit(ctx, model.MergeRecord{Action: model.ActionMerge, TargetID: exos.ID, Key: c.Key, Candidate: c})
	require.NoError(t, err)
	require.Len(t, res.Report.Conflicts, 1)

	item := dedupe.ConflictReview(res.Report.Conflicts[0], "vid-a", at)
	_, err = f.svc.Submit(item)
	require.NoError(t, err)

	out, err := f.svc.Decide(ctx, item.ID, model.Decision{Action: model.DecisionAccept, Reviewer: "kim", Reason: "scale photo"})
	require.NoError(t, err)
	assert.Equal(t, model.ReviewAccepted, out.Item.Status)

	e, err := f.gateway.Entity(ctx, exos.ID)
	require.NoError(t, err)
	w := e.Field(model.FieldWeight)
	assert.Equal(t, 900.0, *w.Value.Num)
	assert.Equal(t, model.StatusOverridden, w.Status)
	assert.Len(t, w.Provenance, 3)
}

func TestDecide_FieldConflictRejectKeepsCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exos := f.create(t, normalized(t, "Exos 58", "vid-b", 1100, 0.9))
	c := normalized(t, "Exos 58", "vid-a", 900, 0.5)
	res, err := f.gateway.Commit(ctx, model.MergeRecord{Action: model.ActionMerge, TargetID: exos.ID, Key: c.Key, Candidate: c})
	require.NoError(t, err)

	item := dedupe.ConflictReview(res.Report.Conflicts[0], "vid-a", at)
	_, err = f.svc.Submit(item)
	require.NoError(t, err)

	_, err = f.svc.Decide(ctx, item.ID, model.Decision{Action: model.DecisionReject, Reviewer: "kim"})
	require.NoError(t, err)

	e, err := f.gateway.Entity(ctx, exos.ID)
	require.NoError(t, err)
	assert.Equal(t, 1100.0, *e.Field(model.FieldWeight).Value.Num)
	assert.Equal(t, model.StatusOverridden, e.Field(model.FieldWeight).Status)
}

func TestDecide_DuplicateGroupAbsorbs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, normalized(t, "Exos 58", "vid-1", 1100, 0.9))
	b := f.create(t, normalized(t, "Exos58", "vid-2", 1100, 0.7))

	item := dedupe.DuplicateReview([]string{a.ID, b.ID}, []model.DuplicatePair{{CanonicalID: a.ID, DuplicateID: b.ID, Score: 0.9}}, at)
	_, err := f.svc.Submit(item)
	require.NoError(t, err)

	_, err = f.svc.Decide(ctx, item.ID, model.Decision{Action: model.DecisionAccept, Reviewer: "kim"})
	require.NoError(t, err)

	dup, err := f.gateway.Entity(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, dup.AbsorbedInto)
}

func TestDecide_RequiresReviewer(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(model.ReviewItem{ID: "r1", Kind: model.ReviewDuplicateGroup, Group: []string{"a", "b"}})
	require.NoError(t, err)

	_, err = f.svc.Decide(context.Background(), "r1", model.Decision{Action: model.DecisionAccept})
	assert.ErrorIs(t, err, ErrInvalidDecision)
}

// countingGraph counts graph writes made by decisions.
type countingGraph struct {
	Graph
	commits atomic.Int32
}

func (g *countingGraph) Commit(ctx context.Context, rec model.MergeRecord) (persist.CommitResult, error) {
	g.commits.Add(1)
	return g.Graph.Commit(ctx, rec)
}

func TestDecide_ConcurrentDecidersApplyOnce(t *testing.T) {
	f := newFixture(t)
	exos := f.create(t, normalized(t, "Exos 58", "vid-1", 1100, 0.9))
	item := f.ambiguous(t, exos, normalized(t, "Exos 58 Pack", "vid-2", 1110, 0.4))

	graph := &countingGraph{Graph: f.gateway}
	f.svc.graph = graph

	var (
		wg       sync.WaitGroup
		applied  atomic.Int32
		resolved atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Decide(context.Background(), item.ID, model.Decision{Action: model.DecisionReject, Reviewer: "kim"})
			switch {
			case err == nil:
				applied.Add(1)
			case errors.Is(err, ErrAlreadyResolved):
				resolved.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, int32(7), resolved.Load())
	assert.Equal(t, int32(1), graph.commits.Load())
	assert.Zero(t, f.svc.locks.Len())
}
