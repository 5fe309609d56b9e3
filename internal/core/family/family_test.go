package family

import (
	"testing"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/core/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gear(id, name, brand string, category model.Category) *model.Equipment {
	return &model.Equipment{
		ID:       id,
		Key:      model.CanonicalKey{Name: normalize.KeyText(name), Brand: normalize.KeyText(brand), Category: category},
		Name:     name,
		Brand:    brand,
		Category: category,
	}
}

func TestDecompose(t *testing.T) {
	cases := []struct {
		name, base, variant, pattern string
	}{
		{"Lone Peak 8", "Lone Peak", "8", model.PatternTrailingNumber},
		{"Lone Peak 9+", "Lone Peak", "9+", model.PatternTrailingNumber},
		{"Exos 55L", "Exos", "55L", model.PatternNumberUnit},
		{"Nano Air 20g", "Nano Air", "20g", model.PatternNumberUnit},
		{"Bandit 25°F", "Bandit", "25°F", model.PatternNumberUnit},
		{"Muscovy Down 900 Fill", "Muscovy Down", "900 Fill", model.PatternSuffixCode},
		{"X Ultra 4 GTX", "X Ultra", "4 GTX", model.PatternSuffixCode},
	}
	for _, tc := range cases {
		d, ok := Decompose(tc.name, 1)
		require.True(t, ok, tc.name)
		assert.Equal(t, tc.base, d.Base, tc.name)
		assert.Equal(t, tc.variant, d.Variant, tc.name)
		assert.Equal(t, tc.pattern, d.Pattern, tc.name)
	}

	_, ok := Decompose("Exos", 1)
	assert.False(t, ok)
	_, ok = Decompose("Tensor Insulated", 1)
	assert.False(t, ok)
	_, ok = Decompose("Lone Peak 8", 3)
	assert.False(t, ok, "base shorter than the minimum token count")
}

func TestGroup_ExosVariants(t *testing.T) {
	g := NewGrouper(config.Default().Family)
	e58 := gear("e58", "Exos 58", "Osprey", model.CategoryBackpack)
	e48 := gear("e48", "Exos 48", "Osprey", model.CategoryBackpack)

	a58, ok := g.Group(e58, []*model.Equipment{e58, e48}, nil)
	require.True(t, ok)
	assert.Equal(t, "Exos", a58.FamilyName)
	assert.Equal(t, "exos", a58.Base)
	assert.Equal(t, "osprey", a58.Brand)
	assert.Equal(t, "58", a58.Variant)
	assert.Greater(t, a58.Confidence, baseline)

	a48, ok := g.Group(e48, []*model.Equipment{e58, e48}, nil)
	require.True(t, ok)
	assert.Equal(t, "Exos", a48.FamilyName)
	assert.Equal(t, "48", a48.Variant)
	assert.Equal(t, a58.Family().Key(), a48.Family().Key())
}

func TestGroup_NoSuffixNoGroup(t *testing.T) {
	g := NewGrouper(config.Default().Family)
	exos := gear("e", "Exos", "Osprey", model.CategoryBackpack)
	_, ok := g.Group(exos, []*model.Equipment{gear("e58", "Exos 58", "Osprey", model.CategoryBackpack)}, nil)
	assert.False(t, ok)
}

func TestGroup_Confidence(t *testing.T) {
	g := NewGrouper(config.Default().Family)
	lp8 := gear("a", "Lone Peak 8", "Altra", model.CategoryFootwear)

	// alone: baseline + single rule stays under the emit threshold
	_, ok := g.Group(lp8, nil, nil)
	assert.False(t, ok)

	// an existing family lifts it over
	exists := func(brand, base string) bool { return brand == "altra" && base == "lone peak" }
	a, ok := g.Group(lp8, nil, exists)
	require.True(t, ok)
	assert.InDelta(t, 0.8, a.Confidence, 1e-9)

	siblings := []*model.Equipment{
		gear("b", "Lone Peak 9", "Altra", model.CategoryFootwear),
		gear("c", "Lone Peak 9+", "Altra", model.CategoryFootwear),
		gear("d", "Lone Peak 7", "Hoka", model.CategoryFootwear),
	}
	a, ok = g.Group(lp8, siblings, exists)
	require.True(t, ok)
	assert.InDelta(t, 1.0, a.Confidence, 1e-9)

	a, ok = g.Group(lp8, siblings, nil)
	require.True(t, ok)
	assert.InDelta(t, 0.85, a.Confidence, 1e-9)
}

func TestGroup_BrandPrefixInName(t *testing.T) {
	g := NewGrouper(config.Default().Family)
	a := gear("a", "Osprey Exos 58", "Osprey", model.CategoryBackpack)
	b := gear("b", "Exos 48", "Osprey", model.CategoryBackpack)

	got, ok := g.Group(a, []*model.Equipment{b}, nil)
	require.True(t, ok)
	assert.Equal(t, "Exos", got.FamilyName)
}

func TestDetect(t *testing.T) {
	g := NewGrouper(config.Default().Family)
	entities := []*model.Equipment{
		gear("1", "Exos 58", "Osprey", model.CategoryBackpack),
		gear("2", "Exos 48", "Osprey", model.CategoryBackpack),
		gear("3", "Exos 38", "Osprey", model.CategoryBackpack),
		gear("4", "Nano Air 20g", "Patagonia", model.CategoryClothing),
		gear("5", "Nano Air 40g", "Patagonia", model.CategoryClothing),
		gear("6", "Talon 22", "Osprey", model.CategoryBackpack),
		gear("7", "Exos", "Osprey", model.CategoryBackpack),
	}

	got := g.Detect(entities, 2)
	require.Len(t, got, 2)

	assert.Equal(t, "Exos", got[0].Family.Name)
	assert.Len(t, got[0].Members, 3)
	assert.InDelta(t, 1.0, got[0].Confidence, 1e-9)

	assert.Equal(t, "Nano Air", got[1].Family.Name)
	assert.Equal(t, []string{"20g", "40g"}, []string{got[1].Members[0].Variant, got[1].Members[1].Variant})
	assert.InDelta(t, 0.6, got[1].Confidence, 1e-9)
}

func TestSiblings(t *testing.T) {
	assert.True(t, Siblings("Exos 58", "Exos 48"))
	assert.True(t, Siblings("Lone Peak 8", "Lone Peak 9+"))
	assert.False(t, Siblings("Exos 58", "Exos 58"))
	assert.False(t, Siblings("Exos 58", "Exso 58"))
	assert.False(t, Siblings("Exos 58", "Exos"))
}
