package family

import (
	"regexp"
	"sort"
	"strings"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/core/normalize"
)

const baseline = 0.5

type rule struct {
	pattern string
	re      *regexp.Regexp
	variant func(m []string) string
}

// Rules in priority order. Each captures (base, variant...).
var rules = []rule{
	{
		pattern: model.PatternTrailingNumber,
		re:      regexp.MustCompile(`^(.+?)\s+(\d{1,3})(\+)?$`),
		variant: func(m []string) string { return m[2] + m[3] },
	},
	{
		pattern: model.PatternNumberUnit,
		re:      regexp.MustCompile(`(?i)^(.+?)\s+(\d+(?:\.\d+)?\s*(?:l|g|oz|°\s*[fc]?|[fc]))$`),
		variant: func(m []string) string { return m[2] },
	},
	{
		pattern: model.PatternSuffixCode,
		re:      regexp.MustCompile(`(?i)^(.+?)\s+(\d{3,4}\s*fill(?:\s+power)?|(?:\d\s+)?(?:gtx|pro|plus|ultra|ul|lt|xl))$`),
		variant: func(m []string) string { return m[2] },
	},
}

// Decomposition is a name split into base and variant.
type Decomposition struct {
	Base    string
	BaseKey string
	Variant string
	Pattern string
	Single  bool // only one rule matched the name
}

// Decompose splits a display name using the first matching rule.
func Decompose(name string, minBaseTokens int) (Decomposition, bool) {
	name = normalize.Display(name)
	var (
		d       Decomposition
		found   bool
		matched int
	)
	for _, r := range rules {
		m := r.re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		matched++
		if found {
			continue
		}
		d = Decomposition{
			Base:    strings.TrimSpace(m[1]),
			Variant: r.variant(m),
			Pattern: r.pattern,
		}
		found = true
	}
	if !found {
		return Decomposition{}, false
	}
	d.BaseKey = normalize.KeyText(d.Base)
	if d.BaseKey == "" || d.BaseKey == normalize.KeyText(name) || len(strings.Fields(d.BaseKey)) < minBaseTokens {
		return Decomposition{}, false
	}
	d.Single = matched == 1
	return d, true
}

// Siblings reports whether two names are different variants of one base
// product, such as "Exos 58" and "Exos 48". Siblings are never duplicates.
func Siblings(a, b string) bool {
	da, ok := Decompose(a, 1)
	if !ok {
		return false
	}
	db, ok := Decompose(b, 1)
	if !ok {
		return false
	}
	return da.BaseKey == db.BaseKey && !strings.EqualFold(da.Variant, db.Variant)
}

// displayName drops a leading brand from the display name, case-insensitively.
func displayName(e *model.Equipment) string {
	name := normalize.Display(e.Name)
	brand := normalize.Display(e.Brand)
	if brand != "" && len(name) > len(brand) && strings.EqualFold(name[:len(brand)], brand) && name[len(brand)] == ' ' {
		return strings.TrimSpace(name[len(brand):])
	}
	return name
}

type Grouper struct {
	cfg config.FamilyConfig
}

func NewGrouper(cfg config.FamilyConfig) *Grouper {
	if cfg.MinBaseTokens < 1 {
		cfg.MinBaseTokens = 1
	}
	return &Grouper{cfg: cfg}
}

// Group proposes a family for e given the other entities of the same brand.
// familyExists reports whether a ProductFamily with (brand, base) is stored.
func (g *Grouper) Group(e *model.Equipment, sameBrand []*model.Equipment, familyExists func(brand, base string) bool) (model.FamilyAssignment, bool) {
	d, ok := Decompose(displayName(e), g.cfg.MinBaseTokens)
	if !ok {
		return model.FamilyAssignment{}, false
	}

	confidence := baseline
	if familyExists != nil && familyExists(e.Key.Brand, d.BaseKey) {
		confidence += 0.2
	}

	sharers, samePattern := 0, 0
	for _, other := range sameBrand {
		if other == nil || other.ID == e.ID || other.Absorbed() || other.Key.Brand != e.Key.Brand {
			continue
		}
		od, ok := Decompose(displayName(other), g.cfg.MinBaseTokens)
		if !ok || od.BaseKey != d.BaseKey {
			continue
		}
		sharers++
		if od.Pattern == d.Pattern {
			samePattern++
		}
	}
	if sharers > 0 {
		confidence += 0.15
	}
	if samePattern >= 2 {
		confidence += 0.1
	}
	if d.Single {
		confidence += 0.1
	}
	if confidence > 1 {
		confidence = 1
	}
	if confidence < g.cfg.MinConfidence {
		return model.FamilyAssignment{}, false
	}

	return model.FamilyAssignment{
		FamilyName: d.Base,
		Base:       d.BaseKey,
		Brand:      e.Key.Brand,
		Variant:    d.Variant,
		Pattern:    d.Pattern,
		Confidence: round2(confidence),
	}, true
}

type Member struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Variant  string `json:"variant"`
}

// Candidate is a family detected across a brand by Detect.
type Candidate struct {
	Family     model.ProductFamily `json:"family"`
	Pattern    string              `json:"pattern"`
	Members    []Member            `json:"members"`
	Confidence float64             `json:"confidence"`
}

// Detect groups entities by (brand, base name) and returns groups with at
// least minMembers members, most confident first.
func (g *Grouper) Detect(entities []*model.Equipment, minMembers int) []Candidate {
	if minMembers < 2 {
		minMembers = 2
	}

	type group struct {
		cand       Candidate
		categories map[model.Category]bool
	}
	groups := map[string]*group{}

	for _, e := range entities {
		if e == nil || e.Absorbed() {
			continue
		}
		d, ok := Decompose(displayName(e), g.cfg.MinBaseTokens)
		if !ok {
			continue
		}
		fam := model.ProductFamily{Brand: e.Key.Brand, Base: d.BaseKey, Name: d.Base}
		gr, ok := groups[fam.Key()]
		if !ok {
			gr = &group{cand: Candidate{Family: fam, Pattern: d.Pattern}, categories: map[model.Category]bool{}}
			groups[fam.Key()] = gr
		}
		gr.cand.Members = append(gr.cand.Members, Member{EntityID: e.ID, Name: e.Name, Variant: d.Variant})
		gr.categories[e.Category] = true
	}

	var out []Candidate
	for _, gr := range groups {
		n := len(gr.cand.Members)
		if n < minMembers {
			continue
		}
		c := baseline
		if n >= 3 {
			c += 0.2
		}
		if n >= 5 {
			c += 0.1
		}
		if gr.cand.Pattern == model.PatternTrailingNumber {
			c += 0.2
		}
		if len(gr.categories) == 1 {
			c += 0.1
		}
		if c > 1 {
			c = 1
		}
		gr.cand.Confidence = round2(c)
		sort.Slice(gr.cand.Members, func(i, j int) bool { return gr.cand.Members[i].EntityID < gr.cand.Members[j].EntityID })
		out = append(out, gr.cand)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if len(out[i].Members) != len(out[j].Members) {
			return len(out[i].Members) > len(out[j].Members)
		}
		return out[i].Family.Key() < out[j].Family.Key()
	})
	return out
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
