package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/core/dedupe"
	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/driver"
	"github.com/agenthands/geargraph/internal/logger"
	"github.com/agenthands/geargraph/internal/metrics"
)

// maxRedirects bounds how many absorbed entities a commit follows.
const maxRedirects = 4

type CommitResult struct {
	Entity   *model.Equipment
	Report   model.MergeReport
	Action   model.Action // what actually happened: create or merge
	Family   *model.FamilyAssignment
	Insights int
}

// Gateway is the only writer of the graph. It serializes work per entity,
// re-applies merge records on fresh state and retries transient failures.
type Gateway struct {
	store    Store
	resolver *dedupe.Resolver
	locks    *KeyLock
	cfg      config.PersistenceConfig
	metrics  *metrics.Metrics
	log      *logger.Logger
	now      func() time.Time

	initialBackoff time.Duration
	maxBackoff     time.Duration
	txTimeout      time.Duration
}

func NewGateway(store Store, resolver *dedupe.Resolver, cfg config.PersistenceConfig, m *metrics.Metrics, log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Gateway{
		store:          store,
		resolver:       resolver,
		locks:          NewKeyLock(),
		cfg:            cfg,
		metrics:        m,
		log:            log.With("component", "gateway"),
		now:            time.Now,
		initialBackoff: config.Duration(cfg.InitialBackoff, 200*time.Millisecond),
		maxBackoff:     config.Duration(cfg.MaxBackoff, 5*time.Second),
		txTimeout:      config.Duration(cfg.TxTimeout, 15*time.Second),
	}
}

func (g *Gateway) Store() Store { return g.store }

func (g *Gateway) Ping(ctx context.Context) error {
	return g.store.Ping(ctx)
}

// Commit applies a create or merge record. The target entity is locked,
// re-read and merged again, so the caller's view of the graph may be stale.
func (g *Gateway) Commit(ctx context.Context, rec model.MergeRecord) (CommitResult, error) {
	start := g.now()
	defer func() { g.metrics.ObserveCommit(time.Since(start).Seconds()) }()

	for i := 0; i <= maxRedirects; i++ {
		res, redirect, err := g.commitOnce(ctx, rec)
		if err != nil {
			return CommitResult{}, err
		}
		if redirect == "" {
			return res, nil
		}
		g.log.Debug("following absorbed entity", "from", rec.TargetID, "to", redirect)
		rec.Action = model.ActionMerge
		rec.TargetID = redirect
	}
	return CommitResult{}, fmt.Errorf("commit %s: too many absorbed redirects", rec.Key)
}

func (g *Gateway) commitOnce(ctx context.Context, rec model.MergeRecord) (CommitResult, string, error) {
	id := rec.TargetID
	if id == "" {
		id = model.EquipmentID(rec.Key)
	}
	unlock := g.locks.Lock(id)
	defer unlock()

	var (
		res      CommitResult
		redirect string
	)
	err := g.retry(ctx, "commit", func(ctx context.Context) error {
		res, redirect = CommitResult{}, ""
		current, err := g.store.Get(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			if rec.TargetID != "" {
				return backoff.Permanent(fmt.Errorf("merge target %s: %w", rec.TargetID, ErrNotFound))
			}
			current = nil
		case err != nil:
			return err
		}
		if current != nil && current.Absorbed() {
			redirect = current.AbsorbedInto
			return nil
		}

		next, report := g.resolver.Apply(current, rec, g.now())
		w := Write{EntityID: next.ID}
		if report.Changed {
			w.Entity = next
		}
		c := rec.Candidate
		if c.Key.Brand != "" {
			b := c.BrandInfo
			if b.Key == "" {
				b = model.Brand{Key: c.Key.Brand, Name: c.Brand}
			}
			w.Brand = &b
		}
		if rec.Source != nil && rec.Source.Ref != "" {
			src := *rec.Source
			w.Source = &src
		} else if c.SourceRef != "" {
			w.Source = &model.Source{Ref: c.SourceRef}
		}
		w.Insights = insights(next.ID, c)
		if rec.Family != nil {
			fam := *rec.Family
			w.Family = &fam
		}
		if !w.Empty() {
			if err := g.store.Apply(ctx, w); err != nil {
				return err
			}
		}

		res = CommitResult{Entity: next, Report: report, Family: w.Family, Insights: len(w.Insights)}
		res.Action = model.ActionMerge
		if report.Created {
			res.Action = model.ActionCreate
		}
		return nil
	})
	if err != nil {
		return CommitResult{}, "", err
	}
	return res, redirect, nil
}

func insights(entityID string, c model.NormalizedCandidate) []model.Insight {
	out := make([]model.Insight, 0, len(c.Experiences))
	for _, ex := range c.Experiences {
		out = append(out, model.Insight{
			Key:       model.InsightKey(c.SourceRef, entityID, ex.Summary),
			Summary:   ex.Summary,
			Content:   ex.Content,
			Category:  ex.Category,
			Scenario:  ex.Scenario,
			Sentiment: model.Sentiment(ex.Sentiment),
			EntityID:  entityID,
			SourceRef: c.SourceRef,
		})
	}
	return out
}

// ApplyOverrides writes human decisions on fields of one entity.
func (g *Gateway) ApplyOverrides(ctx context.Context, entityID string, overrides []model.Override) (CommitResult, error) {
	if len(overrides) == 0 {
		return CommitResult{}, errors.New("no overrides")
	}
	unlock := g.locks.Lock(entityID)
	defer unlock()

	var res CommitResult
	err := g.retry(ctx, "override", func(ctx context.Context) error {
		current, err := g.store.Get(ctx, entityID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		if current.Absorbed() {
			return backoff.Permanent(fmt.Errorf("entity %s was absorbed into %s", entityID, current.AbsorbedInto))
		}
		rec := model.MergeRecord{Action: model.ActionMerge, TargetID: entityID, Key: current.Key, Overrides: overrides, Origin: model.OriginReview}
		next, report := g.resolver.Apply(current, rec, g.now())
		if report.Changed {
			if err := g.store.Apply(ctx, Write{Entity: next, EntityID: next.ID}); err != nil {
				return err
			}
		}
		res = CommitResult{Entity: next, Report: report, Action: model.ActionMerge}
		return nil
	})
	return res, err
}

// Absorb soft-merges duplicateID into canonicalID: provenance and lists
// are merged into the canonical, relationships move over and the duplicate
// is marked absorbed. Absorbing twice is a no-op.
func (g *Gateway) Absorb(ctx context.Context, canonicalID, duplicateID string) (CommitResult, error) {
	if canonicalID == duplicateID {
		return CommitResult{}, errors.New("cannot absorb an entity into itself")
	}
	unlock := g.locks.Lock(canonicalID, duplicateID)
	defer unlock()

	var res CommitResult
	err := g.retry(ctx, "absorb", func(ctx context.Context) error {
		canonical, err := g.store.Get(ctx, canonicalID)
		if err != nil {
			return permanentIfMissing(err)
		}
		dup, err := g.store.Get(ctx, duplicateID)
		if err != nil {
			return permanentIfMissing(err)
		}
		if canonical.Absorbed() {
			return backoff.Permanent(fmt.Errorf("canonical %s is itself absorbed into %s", canonicalID, canonical.AbsorbedInto))
		}
		if dup.AbsorbedInto == canonicalID {
			res = CommitResult{Entity: canonical, Action: model.ActionMerge}
			return nil
		}

		now := g.now()
		next, report := g.resolver.Apply(canonical, absorbRecord(canonical, dup), now)
		w := Write{
			EntityID: canonicalID,
			Absorb:   &Absorption{CanonicalID: canonicalID, DuplicateID: duplicateID, At: now},
		}
		if report.Changed {
			w.Entity = next
		}
		if err := g.store.Apply(ctx, w); err != nil {
			return err
		}
		res = CommitResult{Entity: next, Report: report, Action: model.ActionMerge}
		return nil
	})
	return res, err
}

// absorbRecord replays every observation of dup as a merge into canonical.
// A manual override on dup carries over as an override unless canonical has
// its own override on that field.
func absorbRecord(canonical, dup *model.Equipment) model.MergeRecord {
	c := model.NormalizedCandidate{
		Key:      canonical.Key,
		Name:     canonical.Name,
		Brand:    canonical.Brand,
		Category: canonical.Category,
		Lists:    map[string][]string{},
	}
	var overrides []model.Override
	for _, name := range dup.FieldNames() {
		f := dup.Fields[name]
		if o, ok := activeOverride(canonical.ID, name, f); ok && !overridden(canonical.Fields[name]) {
			overrides = append(overrides, o)
		}
		for _, p := range f.Provenance {
			c.Observations = append(c.Observations, model.Observation{
				Field:      name,
				Value:      p.Value,
				Raw:        p.Raw,
				Confidence: p.Confidence,
				SourceRef:  p.SourceRef,
				ObservedAt: p.ObservedAt,
				Status:     p.Status,
				Override:   p.Override,
				Reviewer:   p.Reviewer,
			})
		}
	}
	for _, name := range []string{model.ListMaterials, model.ListFeatures, model.ListUseCases} {
		if v := dup.List(name); len(v) > 0 {
			c.Lists[name] = v
		}
	}
	return model.MergeRecord{
		Action:    model.ActionMerge,
		TargetID:  canonical.ID,
		Key:       canonical.Key,
		Candidate: c,
		Overrides: overrides,
		Origin:    model.OriginReview,
	}
}

func overridden(f *model.Field) bool {
	return f != nil && f.Status == model.StatusOverridden
}

// activeOverride rebuilds the override behind an overridden field's value.
func activeOverride(entityID, name string, f *model.Field) (model.Override, bool) {
	if f == nil || f.Status != model.StatusOverridden {
		return model.Override{}, false
	}
	for i := len(f.Provenance) - 1; i >= 0; i-- {
		p := f.Provenance[i]
		if !p.Override || !p.Value.Equal(f.Value) {
			continue
		}
		return model.Override{
			EntityID: entityID,
			Field:    name,
			Value:    p.Value,
			Raw:      p.Raw,
			Reviewer: p.Reviewer,
			At:       p.ObservedAt,
		}, true
	}
	return model.Override{}, false
}

// FinalizeSource marks a source processed with its outcome counts.
func (g *Gateway) FinalizeSource(ctx context.Context, src model.Source) error {
	if src.ProcessedAt == nil {
		now := g.now()
		src.ProcessedAt = &now
	}
	unlock := g.locks.Lock("source:" + src.Ref)
	defer unlock()
	return g.retry(ctx, "finalize", func(ctx context.Context) error {
		return g.store.Apply(ctx, Write{Finalize: &src})
	})
}

func (g *Gateway) IsSourceProcessed(ctx context.Context, ref string) (bool, error) {
	src, err := g.store.Source(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return src.ProcessedAt != nil, nil
}

// MatchPool returns the live entities a candidate is compared against.
func (g *Gateway) MatchPool(ctx context.Context, c model.NormalizedCandidate, limit int) ([]*model.Equipment, error) {
	return g.store.Pool(ctx, c.Key.Brand, c.Key.Category, limit)
}

func (g *Gateway) SameBrand(ctx context.Context, brandKey string) ([]*model.Equipment, error) {
	return g.store.ByBrand(ctx, brandKey)
}

func (g *Gateway) FamilyExists(ctx context.Context, brand, base string) (bool, error) {
	return g.store.FamilyExists(ctx, model.ProductFamily{Brand: brand, Base: base}.Key())
}

func (g *Gateway) Entity(ctx context.Context, id string) (*model.Equipment, error) {
	return g.store.Get(ctx, id)
}

func (g *Gateway) Entities(ctx context.Context) ([]*model.Equipment, error) {
	return g.store.All(ctx)
}

// Orphans lists nodes left without a live entity, typically after absorbs.
func (g *Gateway) Orphans(ctx context.Context) ([]model.Orphan, error) {
	return g.store.Orphans(ctx)
}

func (g *Gateway) Edges(ctx context.Context, id string) ([]model.Edge, error) {
	return g.store.Edges(ctx, id)
}

// retry runs op with a per-attempt timeout until it succeeds, fails
// permanently or MaxAttempts is reached.
func (g *Gateway) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = g.initialBackoff
	eb.MaxInterval = g.maxBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(g.cfg.MaxAttempts-1)), ctx)

	attempts := 0
	var last error
	err := backoff.RetryNotify(func() error {
		attempts++
		actx, cancel := context.WithTimeout(ctx, g.txTimeout)
		defer cancel()

		err := fn(actx)
		g.metrics.CommitAttempt(op, err)
		if err == nil {
			return nil
		}
		last = err
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return err
		}
		if !driver.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		g.log.Warn("transient graph failure, retrying", "op", op, "attempt", attempts, "wait", wait, "error", err)
	})
	if err == nil {
		return nil
	}
	if driver.IsTransient(last) && ctx.Err() == nil {
		return fmt.Errorf("%s after %d attempts: %w: %v", op, attempts, ErrRetriesExhausted, last)
	}
	return err
}

func permanentIfMissing(err error) error {
	if errors.Is(err, ErrNotFound) {
		return backoff.Permanent(err)
	}
	return err
}
