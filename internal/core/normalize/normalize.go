package normalize

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agenthands/geargraph/internal/core/model"
)

var ErrInvalid = errors.New("invalid candidate")

const DefaultConfidence = 0.5

type IssueKind string

const (
	IssueMissingRequired IssueKind = "missing_required"
	IssueUnparseable     IssueKind = "unparseable"
	IssueUnknownField    IssueKind = "unknown_field"
	IssueNotApplicable   IssueKind = "not_applicable"
	IssueEmptyExperience IssueKind = "empty_experience"
)

// Issue describes one input problem. Issues never stop the candidate; the
// offending field is treated as absent.
type Issue struct {
	Field string    `json:"field"`
	Kind  IssueKind `json:"kind"`
	Raw   string    `json:"raw,omitempty"`
	Msg   string    `json:"msg,omitempty"`
}

var fieldAliases = map[string]string{
	"weight":             model.FieldWeight,
	"weight_g":           model.FieldWeight,
	"price":              model.FieldPrice,
	"msrp":               model.FieldPrice,
	"url":                model.FieldProductURL,
	"image":              model.FieldImageURL,
	"volume":             model.FieldVolume,
	"capacity_liters":    model.FieldVolume,
	"temp_rating":        model.FieldTempF,
	"temperature_rating": model.FieldTempF,
	"comfort_rating":     model.FieldTempF,
	"capacity":           model.FieldCapacity,
	"persons":            model.FieldCapacity,
	"fill_weight":        model.FieldFillWeight,
	"packed_weight":      model.FieldPackedWeight,
	"r-value":            model.FieldRValue,
	"rvalue":             model.FieldRValue,
}

var sentiments = map[string]model.Sentiment{
	"positive": model.SentimentPositive,
	"negative": model.SentimentNegative,
	"neutral":  model.SentimentNeutral,
	"mixed":    model.SentimentMixed,
}

type Normalizer struct {
	defaultConfidence float64
}

func New(defaultConfidence float64) *Normalizer {
	if defaultConfidence <= 0 || defaultConfidence > 1 {
		defaultConfidence = DefaultConfidence
	}
	return &Normalizer{defaultConfidence: defaultConfidence}
}

// Normalize coerces c into canonical form. Field-level problems come back as
// issues; a missing name, brand or category returns ErrInvalid alongside the
// partially normalized candidate so the caller can still report it.
func (n *Normalizer) Normalize(c model.Candidate, observedAt time.Time) (model.NormalizedCandidate, []Issue, error) {
	var issues []Issue

	out := model.NormalizedCandidate{
		Name:      Display(c.Name),
		Brand:     Display(c.Brand),
		SourceRef: strings.TrimSpace(c.SourceRef),
	}
	category, ok := model.ParseCategory(c.Category)
	out.Category = category
	out.Key = model.CanonicalKey{Name: KeyText(c.Name), Brand: KeyText(c.Brand), Category: category}
	out.MatchName = StripBrand(c.Name, c.Brand)
	out.Tokens = strings.Fields(out.MatchName)
	out.BrandInfo = model.Brand{
		Key:     out.Key.Brand,
		Name:    out.Brand,
		Country: Display(c.BrandCountry),
		Website: strings.TrimSpace(c.BrandWebsite),
	}

	var missing []string
	if IsSentinel(c.Name) || out.Key.Name == "" {
		missing = append(missing, "name")
	}
	if IsSentinel(c.Brand) || out.Key.Brand == "" {
		missing = append(missing, "brand")
	}
	if !ok {
		missing = append(missing, "category")
	}
	for _, f := range missing {
		issues = append(issues, Issue{Field: f, Kind: IssueMissingRequired})
	}

	obs, fieldIssues := n.observations(c, out.Category, observedAt)
	out.Observations = obs
	issues = append(issues, fieldIssues...)

	out.Lists = normalizeLists(c.Lists)

	for i, e := range c.Experiences {
		exp, ok := normalizeExperience(e)
		if !ok {
			issues = append(issues, Issue{Field: fmt.Sprintf("experiences[%d]", i), Kind: IssueEmptyExperience})
			continue
		}
		out.Experiences = append(out.Experiences, exp)
	}

	if len(missing) > 0 {
		return out, issues, fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}
	return out, issues, nil
}

// confidence applies the default only when none was given and clamps the
// rest into [0, 1].
func (n *Normalizer) confidence(c *float64) float64 {
	switch {
	case c == nil:
		return n.defaultConfidence
	case *c < 0:
		return 0
	case *c > 1:
		return 1
	}
	return *c
}

func (n *Normalizer) observations(c model.Candidate, category model.Category, observedAt time.Time) ([]model.Observation, []Issue) {
	var (
		obs      []model.Observation
		issues   []Issue
		byField  = map[string]model.Observation{}
		explicit = map[string]bool{}
	)

	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, rawName := range names {
		rf := c.Fields[rawName]
		name := canonicalField(rawName)
		raw := stringify(rf.Value)

		spec, known := model.LookupField(name)
		if !known {
			issues = append(issues, Issue{Field: rawName, Kind: IssueUnknownField, Raw: raw})
			continue
		}
		if !spec.AppliesTo(category) {
			issues = append(issues, Issue{Field: name, Kind: IssueNotApplicable, Raw: raw, Msg: string(category)})
			continue
		}
		if IsSentinel(raw) {
			continue
		}

		base := model.Observation{
			Field:      name,
			Raw:        raw,
			Confidence: n.confidence(rf.Confidence),
			SourceRef:  strings.TrimSpace(rf.SourceRef),
			ObservedAt: observedAt,
			Status:     strings.TrimSpace(rf.Status),
		}
		if base.SourceRef == "" {
			base.SourceRef = strings.TrimSpace(c.SourceRef)
		}

		values, err := parseField(spec, rf.Value)
		if err != nil {
			issues = append(issues, Issue{Field: name, Kind: IssueUnparseable, Raw: raw, Msg: err.Error()})
			continue
		}
		for field, v := range values {
			// Explicit values win over ones derived from another field.
			if _, ok := byField[field]; ok && (field != name || explicit[field]) {
				continue
			}
			o := base
			o.Field = field
			o.Value = v
			byField[field] = o
			if field == name {
				explicit[field] = true
			}
		}
	}

	for _, o := range byField {
		obs = append(obs, o)
	}
	sort.Slice(obs, func(i, j int) bool { return obs[i].Field < obs[j].Field })
	return obs, issues
}

// ParseFieldValue parses a single reviewer-supplied value for the named
// field. It returns the canonical field name and its value.
func ParseFieldValue(name string, raw any) (string, model.Value, error) {
	name = canonicalField(name)
	spec, ok := model.LookupField(name)
	if !ok {
		return name, model.Value{}, fmt.Errorf("%w: unknown field %q", ErrUnparseable, name)
	}
	if IsSentinel(stringify(raw)) {
		return name, model.Value{}, fmt.Errorf("%w: empty value for %q", ErrUnparseable, name)
	}
	values, err := parseField(spec, raw)
	if err != nil {
		return name, model.Value{}, err
	}
	return name, values[name], nil
}

// ParseList splits and normalizes a comma or semicolon separated list.
func ParseList(raw string) []string {
	out := normalizeLists(map[string][]string{model.ListMaterials: {raw}})
	return out[model.ListMaterials]
}

// CanonicalField maps a field alias onto its registry name.
func CanonicalField(name string) string {
	return canonicalField(name)
}

func canonicalField(name string) string {
	name = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	if alias, ok := fieldAliases[name]; ok {
		return alias
	}
	return name
}

// parseField returns the canonical values for one raw field. Temperature
// fills both the Fahrenheit and Celsius fields when the input was Celsius.
func parseField(spec model.FieldSpec, raw any) (map[string]model.Value, error) {
	if spec.Kind == model.KindText {
		return map[string]model.Value{spec.Name: model.Text(Display(stringify(raw)))}, nil
	}

	var (
		f   float64
		err error
	)
	switch spec.Name {
	case model.FieldTempF:
		var c *float64
		f, c, err = ParseTemperature(raw)
		if err != nil {
			return nil, err
		}
		out := map[string]model.Value{model.FieldTempF: model.Number(f)}
		if c != nil {
			out[model.FieldTempC] = model.Number(*c)
		}
		return out, nil
	case model.FieldTempC:
		f, err = ParseNumber(raw)
		if err != nil {
			return nil, err
		}
		return map[string]model.Value{
			model.FieldTempC: model.Number(f),
			model.FieldTempF: model.Number(round(CelsiusToF(f), 1)),
		}, nil
	}

	switch spec.Unit {
	case model.UnitGrams:
		f, err = ParseWeight(raw)
	case model.UnitUSD:
		f, err = ParsePrice(raw)
	case model.UnitLiters:
		f, err = ParseVolume(raw)
	default:
		f, err = ParseNumber(raw)
		if err == nil && spec.Unit == model.UnitCount {
			f, err = nonNegative(f, stringify(raw))
		}
	}
	if err != nil {
		return nil, err
	}
	return map[string]model.Value{spec.Name: model.Number(f)}, nil
}

func normalizeLists(lists map[string][]string) map[string][]string {
	if len(lists) == 0 {
		return nil
	}
	out := make(map[string][]string)
	for name, values := range lists {
		name = canonicalField(name)
		if !model.IsListField(name) {
			continue
		}
		var items []string
		for _, v := range values {
			for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' }) {
				if IsSentinel(part) {
					continue
				}
				items = append(items, strings.ToLower(Display(part)))
			}
		}
		if set := model.SortedSet(items); len(set) > 0 {
			out[name] = set
		}
	}
	return out
}

func normalizeExperience(e model.Experience) (model.Experience, bool) {
	out := model.Experience{
		Summary:  Display(e.Summary),
		Content:  strings.TrimSpace(e.Content),
		Category: strings.ToLower(Display(e.Category)),
		Scenario: strings.ToLower(Display(e.Scenario)),
	}
	if out.Summary == "" {
		out.Summary = Display(out.Content)
	}
	if out.Summary == "" {
		return out, false
	}
	s, ok := sentiments[strings.ToLower(strings.TrimSpace(e.Sentiment))]
	if !ok {
		s = model.SentimentNeutral
	}
	out.Sentiment = string(s)
	return out, true
}
