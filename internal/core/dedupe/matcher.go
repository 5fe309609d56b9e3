package dedupe

import (
	"math"
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/core/normalize"
	"github.com/agenthands/geargraph/internal/core/score"
)

// Matcher ranks existing equipment against a normalized candidate.
type Matcher struct {
	cfg config.MatchingConfig
}

func NewMatcher(cfg config.MatchingConfig) *Matcher {
	return &Matcher{cfg: cfg}
}

func (m *Matcher) Floor() float64 { return m.cfg.Floor }
func (m *Matcher) High() float64  { return m.cfg.High }

type subject struct {
	name      string
	matchName string
	brand     string
	category  model.Category
	tokens    []string
}

func candidateSubject(c *model.NormalizedCandidate) subject {
	return subject{
		name:      c.Key.Name,
		matchName: c.MatchName,
		brand:     c.Key.Brand,
		category:  c.Key.Category,
		tokens:    c.Tokens,
	}
}

func entitySubject(e *model.Equipment) subject {
	stripped := normalize.StripBrand(e.Key.Name, e.Key.Brand)
	return subject{
		name:      e.Key.Name,
		matchName: stripped,
		brand:     e.Key.Brand,
		category:  e.Key.Category,
		tokens:    strings.Fields(stripped),
	}
}

// Match returns pool entries scoring at least the floor, best first.
// Ties go to the more complete entity, then the lower ID.
func (m *Matcher) Match(c *model.NormalizedCandidate, pool []*model.Equipment) []model.Match {
	cand := candidateSubject(c)
	var out []model.Match
	for _, e := range pool {
		if e == nil || e.Absorbed() {
			continue
		}
		s, nameScore := m.score(cand, entitySubject(e))
		if s < m.cfg.Floor {
			continue
		}
		out = append(out, model.Match{
			EntityID:     e.ID,
			Name:         e.Name,
			Brand:        e.Brand,
			Score:        s,
			NameScore:    nameScore,
			Completeness: score.Score(e),
		})
	}
	sortMatches(out)
	return out
}

// Pairwise scores two stored entities against each other.
func (m *Matcher) Pairwise(a, b *model.Equipment) float64 {
	s, _ := m.score(entitySubject(a), entitySubject(b))
	return s
}

func sortMatches(ms []model.Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score > ms[j].Score
		}
		if ms[i].Completeness != ms[j].Completeness {
			return ms[i].Completeness > ms[j].Completeness
		}
		return ms[i].EntityID < ms[j].EntityID
	})
}

func (m *Matcher) score(a, b subject) (float64, float64) {
	nameScore := math.Max(similarity(a.name, b.name), similarity(a.matchName, b.matchName))

	s := m.cfg.NameWeight * nameScore
	sameBrand := a.brand != "" && a.brand == b.brand
	switch {
	case sameBrand:
		s += m.cfg.BrandBonus
	case a.brand != "" && b.brand != "":
		s -= m.cfg.BrandPenalty
	}
	if sameBrand && properSubset(a.tokens, b.tokens) {
		s += m.cfg.ContainmentBoost
	}
	if a.category != "" && b.category != "" && a.category != b.category {
		s -= m.cfg.CategoryPenalty
	}
	return clamp(round6(s)), round6(nameScore)
}

func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	sim, err := edlib.StringsSimilarity(a, b, edlib.OSADamerauLevenshtein)
	if err != nil {
		return 0
	}
	return float64(sim)
}

// properSubset reports whether one token set strictly contains the other.
func properSubset(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	set := make(map[string]bool, len(large))
	for _, t := range large {
		set[t] = true
	}
	uniqueSmall := make(map[string]bool, len(small))
	for _, t := range small {
		if !set[t] {
			return false
		}
		uniqueSmall[t] = true
	}
	return len(uniqueSmall) < len(set)
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}
