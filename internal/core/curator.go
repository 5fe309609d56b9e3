package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/core/dedupe"
	"github.com/agenthands/geargraph/internal/core/family"
	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/core/normalize"
	"github.com/agenthands/geargraph/internal/core/persist"
	"github.com/agenthands/geargraph/internal/logger"
)

const adviseTimeout = 20 * time.Second

// ErrNoReviewQueue is returned for a candidate that needs review when the
// curator has nowhere to send it.
var ErrNoReviewQueue = errors.New("no review queue configured")

// Graph is the part of the persistence gateway the curator reads and writes through.
type Graph interface {
	MatchPool(ctx context.Context, c model.NormalizedCandidate, limit int) ([]*model.Equipment, error)
	SameBrand(ctx context.Context, brandKey string) ([]*model.Equipment, error)
	FamilyExists(ctx context.Context, brand, base string) (bool, error)
	Commit(ctx context.Context, rec model.MergeRecord) (persist.CommitResult, error)
}

// Reviews receives items that need a human decision.
type Reviews interface {
	Submit(item model.ReviewItem) (bool, error)
}

// Outcome is everything that happened to one candidate.
type Outcome struct {
	Candidate model.NormalizedCandidate
	Issues    []normalize.Issue
	Matches   []model.Match
	Action    model.Action
	EntityID  string
	Report    model.MergeReport
	Family    *model.FamilyAssignment
	ReviewID  string   // set when the candidate was flagged
	Conflicts []string // field conflict review IDs
	Insights  int
}

// Curator runs a candidate through normalize, match, resolve, group and commit.
type Curator struct {
	normalizer *normalize.Normalizer
	matcher    *dedupe.Matcher
	resolver   *dedupe.Resolver
	grouper    *family.Grouper
	graph      Graph
	reviews    Reviews
	advisor    dedupe.Advisor
	poolLimit  int
	log        *logger.Logger
	now        func() time.Time
}

func NewCurator(cfg *config.Config, resolver *dedupe.Resolver, graph Graph, reviews Reviews, advisor dedupe.Advisor, log *logger.Logger) *Curator {
	if log == nil {
		log = logger.Nop()
	}
	return &Curator{
		normalizer: normalize.New(cfg.Merge.DefaultConfidence),
		matcher:    dedupe.NewMatcher(cfg.Matching),
		resolver:   resolver,
		grouper:    family.NewGrouper(cfg.Family),
		graph:      graph,
		reviews:    reviews,
		advisor:    advisor,
		poolLimit:  cfg.Matching.PoolLimit,
		log:        log.With("component", "curator"),
		now:        time.Now,
	}
}

func (c *Curator) Matcher() *dedupe.Matcher { return c.matcher }
func (c *Curator) Grouper() *family.Grouper { return c.grouper }

// Process resolves one candidate against the graph. An invalid candidate
// returns an error wrapping normalize.ErrInvalid together with its issues.
func (c *Curator) Process(ctx context.Context, raw model.Candidate, src *model.Source) (Outcome, error) {
	if raw.SourceRef == "" && src != nil {
		raw.SourceRef = src.Ref
	}
	nc, issues, err := c.normalizer.Normalize(raw, c.now())
	out := Outcome{Candidate: nc, Issues: issues}
	if err != nil {
		return out, err
	}

	pool, err := c.graph.MatchPool(ctx, nc, c.poolLimit)
	if err != nil {
		return out, fmt.Errorf("load match pool: %w", err)
	}
	out.Matches = c.withoutSiblings(nc, c.matcher.Match(&nc, pool))

	rec := c.resolver.Decide(nc, out.Matches)
	out.Action = rec.Action
	if src != nil && src.Ref == nc.SourceRef {
		s := *src
		rec.Source = &s
	}

	if rec.Action == model.ActionReview {
		return c.flag(ctx, rec, out)
	}

	if fa, ok := c.group(ctx, rec, pool); ok {
		rec.Family = &fa
	}

	res, err := c.graph.Commit(ctx, rec)
	if err != nil {
		return out, err
	}
	out.Action = res.Action
	out.EntityID = res.Entity.ID
	out.Report = res.Report
	out.Family = res.Family
	out.Insights = res.Insights
	out.Conflicts = c.raiseConflicts(res.Report.Conflicts, nc.SourceRef)
	return out, nil
}

// withoutSiblings drops matches that are variants of the candidate's family
// (Lone Peak 8 vs Lone Peak 9); those are distinct products.
func (c *Curator) withoutSiblings(nc model.NormalizedCandidate, matches []model.Match) []model.Match {
	out := matches[:0:0]
	for _, m := range matches {
		if family.Siblings(nc.Name, m.Name) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (c *Curator) flag(ctx context.Context, rec model.MergeRecord, out Outcome) (Outcome, error) {
	item := dedupe.AmbiguousReview(rec, c.now())
	if c.advisor != nil {
		actx, cancel := context.WithTimeout(ctx, adviseTimeout)
		s, err := c.advisor.Advise(actx, rec.Candidate, rec.Matches)
		cancel()
		if err != nil {
			c.log.Warn("match advisor failed", "key", rec.Key.String(), "error", err)
		} else {
			item.Suggestion = s
		}
	}
	out.ReviewID = item.ID
	out.EntityID = rec.TargetID
	if c.reviews == nil {
		return out, fmt.Errorf("flag %s: %w", rec.Key.String(), ErrNoReviewQueue)
	}
	if _, err := c.reviews.Submit(item); err != nil {
		return out, fmt.Errorf("store review %s: %w", item.ID, err)
	}
	return out, nil
}

// group proposes a family for the entity the record will land on.
func (c *Curator) group(ctx context.Context, rec model.MergeRecord, pool []*model.Equipment) (model.FamilyAssignment, bool) {
	subject := c.subject(rec, pool)
	siblings, err := c.graph.SameBrand(ctx, rec.Key.Brand)
	if err != nil {
		c.log.Warn("family lookup failed", "brand", rec.Key.Brand, "error", err)
		return model.FamilyAssignment{}, false
	}
	exists := func(brand, base string) bool {
		ok, err := c.graph.FamilyExists(ctx, brand, base)
		if err != nil {
			c.log.Warn("family lookup failed", "brand", brand, "base", base, "error", err)
		}
		return ok
	}
	return c.grouper.Group(subject, siblings, exists)
}

func (c *Curator) subject(rec model.MergeRecord, pool []*model.Equipment) *model.Equipment {
	if rec.TargetID != "" {
		for _, e := range pool {
			if e.ID == rec.TargetID {
				return e
			}
		}
	}
	nc := rec.Candidate
	id := rec.TargetID
	if id == "" {
		id = model.EquipmentID(rec.Key)
	}
	return &model.Equipment{ID: id, Key: rec.Key, Name: nc.Name, Brand: nc.Brand, Category: nc.Category}
}

func (c *Curator) raiseConflicts(conflicts []model.FieldConflict, sourceRef string) []string {
	if c.reviews == nil {
		return nil
	}
	var ids []string
	for _, fc := range conflicts {
		item := dedupe.ConflictReview(fc, sourceRef, c.now())
		if _, err := c.reviews.Submit(item); err != nil {
			c.log.Error("failed to store conflict review", "entity", fc.EntityID, "field", fc.Field, "error", err)
			continue
		}
		ids = append(ids, item.ID)
	}
	return ids
}

// IsInvalid reports whether err is a candidate validation failure rather
// than an infrastructure failure.
func IsInvalid(err error) bool {
	return errors.Is(err, normalize.ErrInvalid)
}
