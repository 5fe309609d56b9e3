package audit

import (
	"sort"
	"strings"

	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/core/normalize"
)

// Issue kinds reported next to duplicate groups.
const (
	IssueOrphan       = "orphan"
	IssueBrandVariant = "brand_variant"
	IssueBrandInName  = "brand_in_name"
)

// Issue is a data-quality finding. Target is an entity ID for
// brand_in_name, a brand key for brand_variant and a node key for orphan.
type Issue struct {
	Kind       string   `json:"kind"`
	Target     string   `json:"target"`
	Label      string   `json:"label,omitempty"`
	Current    string   `json:"current,omitempty"`
	Suggested  string   `json:"suggested,omitempty"`
	Entities   []string `json:"entities,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}

// brandIssues flags brands spelled more than one way and product names
// that repeat their brand.
func brandIssues(entities []*model.Equipment) []Issue {
	var issues []Issue
	forms := map[string]map[string][]string{} // brand key -> display -> entity IDs
	for _, e := range entities {
		if e == nil || e.Absorbed() || e.Key.Brand == "" {
			continue
		}
		if forms[e.Key.Brand] == nil {
			forms[e.Key.Brand] = map[string][]string{}
		}
		forms[e.Key.Brand][e.Brand] = append(forms[e.Key.Brand][e.Brand], e.ID)

		if trimmed, conf, ok := trimBrand(e.Name, e.Brand); ok {
			issues = append(issues, Issue{
				Kind:       IssueBrandInName,
				Target:     e.ID,
				Current:    e.Name,
				Suggested:  trimmed,
				Confidence: conf,
			})
		}
	}

	for key, byForm := range forms {
		if len(byForm) < 2 {
			continue
		}
		preferred := preferredForm(byForm)
		var others, ids []string
		for form, members := range byForm {
			if form == preferred {
				continue
			}
			others = append(others, form)
			ids = append(ids, members...)
		}
		sort.Strings(others)
		sort.Strings(ids)
		issues = append(issues, Issue{
			Kind:       IssueBrandVariant,
			Target:     key,
			Current:    strings.Join(others, ", "),
			Suggested:  preferred,
			Entities:   ids,
			Confidence: 0.95,
		})
	}
	return issues
}

// preferredForm picks the most used spelling. Ties go to mixed case, then
// to the lexically smallest form.
func preferredForm(byForm map[string][]string) string {
	var best string
	for form, ids := range byForm {
		if best == "" {
			best = form
			continue
		}
		n, m := len(ids), len(byForm[best])
		switch {
		case n > m:
			best = form
		case n < m:
		case mixedCase(form) != mixedCase(best):
			if mixedCase(form) {
				best = form
			}
		case form < best:
			best = form
		}
	}
	return best
}

func mixedCase(s string) bool {
	return s != strings.ToLower(s) && s != strings.ToUpper(s)
}

// trimBrand strips a leading brand from a display name. A multi-word brand
// also matches on its leading words, with lower confidence. The name must
// keep at least one word.
func trimBrand(name, brand string) (string, float64, bool) {
	nw, bw := strings.Fields(name), strings.Fields(brand)
	for i := len(bw); i > 0; i-- {
		if i >= len(nw) || !sameWords(nw[:i], bw[:i]) {
			continue
		}
		if i == len(bw) {
			return strings.Join(nw[i:], " "), 0.95, true
		}
		// a single shared short word is too weak a signal
		if i == 1 && len([]rune(nw[0])) < 3 {
			continue
		}
		return strings.Join(nw[i:], " "), 0.85, true
	}
	return "", 0, false
}

func sameWords(a, b []string) bool {
	return normalize.KeyText(strings.Join(a, " ")) == normalize.KeyText(strings.Join(b, " "))
}

func orphanIssues(orphans []model.Orphan) []Issue {
	issues := make([]Issue, 0, len(orphans))
	for _, o := range orphans {
		issues = append(issues, Issue{Kind: IssueOrphan, Target: o.Key, Label: o.Label, Current: o.Name})
	}
	return issues
}

func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Kind != issues[j].Kind {
			return issues[i].Kind < issues[j].Kind
		}
		if issues[i].Label != issues[j].Label {
			return issues[i].Label < issues[j].Label
		}
		return issues[i].Target < issues[j].Target
	})
}
