package dedupe

import (
	"testing"
	"time"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/core/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(t *testing.T, name, brand, category string) model.NormalizedCandidate {
	t.Helper()
	nc, _, err := normalize.New(0.5).Normalize(model.Candidate{Name: name, Brand: brand, Category: category}, time.Now())
	require.NoError(t, err)
	return nc
}

func entity(id, name, brand string, category model.Category) *model.Equipment {
	return &model.Equipment{
		ID:       id,
		Key:      model.CanonicalKey{Name: normalize.KeyText(name), Brand: normalize.KeyText(brand), Category: category},
		Name:     name,
		Brand:    brand,
		Category: category,
		Fields:   map[string]*model.Field{},
	}
}

func TestMatch_IdenticalNameAndBrandIsExact(t *testing.T) {
	m := NewMatcher(config.Default().Matching)
	c := candidate(t, "Exos 58", "Osprey", "backpack")

	matches := m.Match(&c, []*model.Equipment{entity("e1", "Exos 58", "Osprey", model.CategoryBackpack)})
	require.Len(t, matches, 1)
	assert.GreaterOrEqual(t, matches[0].Score, m.High())
	assert.Equal(t, 1.0, matches[0].NameScore)
}

func TestMatch_UnrelatedBelowFloor(t *testing.T) {
	m := NewMatcher(config.Default().Matching)
	c := candidate(t, "Lone Peak 8", "Altra", "footwear")
	pool := []*model.Equipment{
		entity("e1", "Exos 58", "Osprey", model.CategoryBackpack),
		entity("e2", "Tensor Insulated", "NEMO", model.CategorySleepingPad),
	}

	assert.Empty(t, m.Match(&c, pool))
	for _, e := range pool {
		assert.Less(t, m.Pairwise(entity("x", "Lone Peak 8", "Altra", model.CategoryFootwear), e), m.Floor())
	}
}

func TestMatch_BrandPrefixAndTypo(t *testing.T) {
	m := NewMatcher(config.Default().Matching)

	c := candidate(t, "Osprey Exos 58", "Osprey", "backpack")
	matches := m.Match(&c, []*model.Equipment{entity("e1", "Exos 58", "Osprey", model.CategoryBackpack)})
	require.Len(t, matches, 1)
	assert.GreaterOrEqual(t, matches[0].Score, m.High(), "brand prefix must not hurt the match")

	c = candidate(t, "Exso 58", "Osprey", "backpack")
	matches = m.Match(&c, []*model.Equipment{entity("e1", "Exos 58", "Osprey", model.CategoryBackpack)})
	require.Len(t, matches, 1)
	assert.GreaterOrEqual(t, matches[0].Score, m.Floor())
}

func TestMatch_ContainmentLandsInReviewBand(t *testing.T) {
	cfg := config.Default().Matching
	m := NewMatcher(cfg)
	c := candidate(t, "Exos", "Osprey", "backpack")
	e := entity("e1", "Exos 58", "Osprey", model.CategoryBackpack)

	matches := m.Match(&c, []*model.Equipment{e})
	require.Len(t, matches, 1)
	assert.GreaterOrEqual(t, matches[0].Score, cfg.Floor)
	assert.Less(t, matches[0].Score, cfg.High)

	noBoost := cfg
	noBoost.ContainmentBoost = 0
	without := NewMatcher(noBoost).Match(&c, []*model.Equipment{e})
	if len(without) > 0 {
		assert.Less(t, without[0].Score, matches[0].Score)
	}
}

func TestMatch_PenaltiesForBrandAndCategory(t *testing.T) {
	m := NewMatcher(config.Default().Matching)
	c := candidate(t, "Exos 58", "Osprey", "backpack")

	otherBrand := m.Match(&c, []*model.Equipment{entity("e1", "Exos 58", "Gregory", model.CategoryBackpack)})
	require.Len(t, otherBrand, 1)
	assert.Less(t, otherBrand[0].Score, m.High())

	otherCategory := m.Match(&c, []*model.Equipment{entity("e2", "Exos 58", "Osprey", model.CategoryTent)})
	require.Len(t, otherCategory, 1)
	assert.Less(t, otherCategory[0].Score, m.High())
}

func TestMatch_SkipsAbsorbedAndBreaksTies(t *testing.T) {
	m := NewMatcher(config.Default().Matching)
	c := candidate(t, "Exos 58", "Osprey", "backpack")

	absorbed := entity("a0", "Exos 58", "Osprey", model.CategoryBackpack)
	absorbed.AbsorbedInto = "b2"

	sparse := entity("b2", "Exos 58", "Osprey", model.CategoryBackpack)
	rich := entity("c3", "Exos 58", "Osprey", model.CategoryBackpack)
	rich.Fields[model.FieldWeight] = &model.Field{Value: model.Number(1100), Confidence: 0.9}
	twin := entity("a1", "Exos 58", "Osprey", model.CategoryBackpack)

	matches := m.Match(&c, []*model.Equipment{absorbed, sparse, rich, twin})
	require.Len(t, matches, 3)
	assert.Equal(t, "c3", matches[0].EntityID)
	assert.Equal(t, "a1", matches[1].EntityID)
	assert.Equal(t, "b2", matches[2].EntityID)

	again := m.Match(&c, []*model.Equipment{twin, rich, sparse, absorbed})
	assert.Equal(t, matches, again)
}
