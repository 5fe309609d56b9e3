package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/core/dedupe"
	"github.com/agenthands/geargraph/internal/core/family"
	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/core/normalize"
	"github.com/agenthands/geargraph/internal/core/persist"
)

func gear(id, name string, completeness float64) *model.Equipment {
	return &model.Equipment{
		ID:           id,
		Key:          model.CanonicalKey{Name: normalize.KeyText(name), Brand: "osprey", Category: model.CategoryBackpack},
		Name:         name,
		Brand:        "Osprey",
		Category:     model.CategoryBackpack,
		Completeness: completeness,
		CreatedAt:    time.Unix(100, 0),
	}
}

func fixtures() []*model.Equipment {
	return []*model.Equipment{
		gear("t1", "Talon 22", 0.3),
		gear("t2", "Talon 22", 0.6),
		gear("e1", "Exos 58", 0.5),
		gear("e2", "Exso 58", 0.2),
		gear("a1", "Aether 65", 0.4),
		gear("a2", "Aether 55", 0.4),
		{ID: "x", Name: "Talon 22", AbsorbedInto: "t2", Key: model.CanonicalKey{Brand: "osprey"}},
	}
}

func newScanner() *Scanner {
	cfg := config.Default()
	return NewScanner(dedupe.NewMatcher(cfg.Matching), family.NewGrouper(cfg.Family))
}

func TestScan(t *testing.T) {
	r := newScanner().Scan(fixtures())

	require.Len(t, r.Groups, 2)
	exos, talon := r.Groups[0], r.Groups[1]

	assert.Equal(t, "e1", exos.Canonical)
	assert.Equal(t, []string{"e1", "e2"}, exos.Members)
	assert.False(t, exos.AutoMerge)

	assert.Equal(t, "t2", talon.Canonical, "the more complete entity is canonical")
	assert.Equal(t, []string{"t2", "t1"}, talon.Members)
	assert.True(t, talon.AutoMerge)
	require.Len(t, talon.Pairs, 1)
	assert.Equal(t, model.DuplicatePair{CanonicalID: "t2", DuplicateID: "t1", Score: 1}, talon.Pairs[0])

	assert.Equal(t, 15, r.Compared)
	require.NotEmpty(t, r.Families)
	assert.Equal(t, "Aether", r.Families[0].Family.Name, "siblings form a family, not a duplicate group")
}

type fakeGraph struct {
	entities []*model.Equipment
	absorbed [][2]string
	orphans  []model.Orphan
}

func (f *fakeGraph) Entities(ctx context.Context) ([]*model.Equipment, error) {
	return f.entities, nil
}

func (f *fakeGraph) Absorb(ctx context.Context, canonicalID, duplicateID string) (persist.CommitResult, error) {
	f.absorbed = append(f.absorbed, [2]string{canonicalID, duplicateID})
	return persist.CommitResult{}, nil
}

func (f *fakeGraph) Orphans(ctx context.Context) ([]model.Orphan, error) {
	return f.orphans, nil
}

type fakeReviews struct {
	items []model.ReviewItem
}

func (f *fakeReviews) Submit(item model.ReviewItem) (bool, error) {
	f.items = append(f.items, item)
	return true, nil
}

func TestRun(t *testing.T) {
	graph := &fakeGraph{entities: fixtures()}
	reviews := &fakeReviews{}
	a := NewAuditor(newScanner(), graph, reviews, nil)

	res, err := a.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"t2", "t1"}}, graph.absorbed)
	assert.Equal(t, []string{"t1"}, res.Absorbed)
	require.Len(t, reviews.items, 1)
	assert.Equal(t, model.ReviewDuplicateGroup, reviews.items[0].Kind)
	assert.Equal(t, []string{"e1", "e2"}, reviews.items[0].Group)

	// without apply everything goes to review
	graph.absorbed = nil
	reviews.items = nil
	res, err = a.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, graph.absorbed)
	assert.Len(t, res.Flagged, 2)
}

func TestScan_BrandIssues(t *testing.T) {
	shouty := gear("s1", "Stratos 36", 0.5)
	shouty.Brand = "OSPREY"
	named := gear("n1", "Osprey Kestrel 48", 0.5)
	short := gear("b1", "Big Sky Dipper", 0.5)
	short.Key.Brand, short.Brand = "big agnes", "Big Agnes"
	partial := gear("x1", "Durston X-Mid", 0.5)
	partial.Key.Brand, partial.Brand = "durston gear", "Durston Gear"
	lone := gear("z1", "Zpacks", 0.5)
	lone.Key.Brand, lone.Brand = "zpacks", "Zpacks"

	r := newScanner().Scan([]*model.Equipment{
		gear("t1", "Talon 22", 0.5), gear("e1", "Exos 58", 0.5), shouty, named, short, partial, lone,
	})

	require.Len(t, r.Issues, 4)
	assert.Equal(t, Issue{Kind: IssueBrandInName, Target: "b1", Current: "Big Sky Dipper", Suggested: "Sky Dipper", Confidence: 0.85}, r.Issues[0])
	assert.Equal(t, Issue{Kind: IssueBrandInName, Target: "n1", Current: "Osprey Kestrel 48", Suggested: "Kestrel 48", Confidence: 0.95}, r.Issues[1])
	assert.Equal(t, Issue{Kind: IssueBrandInName, Target: "x1", Current: "Durston X-Mid", Suggested: "X-Mid", Confidence: 0.85}, r.Issues[2])
	assert.Equal(t, Issue{
		Kind:       IssueBrandVariant,
		Target:     "osprey",
		Current:    "OSPREY",
		Suggested:  "Osprey",
		Entities:   []string{"s1"},
		Confidence: 0.95,
	}, r.Issues[3])
}

func TestPreferredForm(t *testing.T) {
	assert.Equal(t, "NEMO", preferredForm(map[string][]string{"NEMO": {"a", "b"}, "Nemo": {"c"}, "nemo": {"d"}}))
	assert.Equal(t, "Nemo", preferredForm(map[string][]string{"NEMO": {"a"}, "Nemo": {"c"}}))
	assert.Equal(t, "Big Agnes", preferredForm(map[string][]string{"Big agnes": {"a"}, "Big Agnes": {"c"}}))
}

func TestRun_ReportsOrphans(t *testing.T) {
	graph := &fakeGraph{
		entities: []*model.Equipment{gear("t1", "Talon 22", 0.5)},
		orphans: []model.Orphan{
			{Label: model.LabelProductFamily, Key: "osprey|exos", Name: "Exos"},
			{Label: model.LabelBrand, Key: "zpacks", Name: "Zpacks"},
		},
	}
	res, err := NewAuditor(newScanner(), graph, &fakeReviews{}, nil).Run(context.Background(), false)
	require.NoError(t, err)

	require.Len(t, res.Report.Issues, 2)
	assert.Equal(t, Issue{Kind: IssueOrphan, Target: "zpacks", Label: model.LabelBrand, Current: "Zpacks"}, res.Report.Issues[0])
	assert.Equal(t, model.LabelProductFamily, res.Report.Issues[1].Label)
}
