package dedupe

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/core/score"
)

// Resolver decides what to do with a candidate and performs the field-level
// merge into an entity.
type Resolver struct {
	floor             float64
	high              float64
	verifiedThreshold float64
}

func NewResolver(matching config.MatchingConfig, merge config.MergeConfig) *Resolver {
	return &Resolver{
		floor:             matching.Floor,
		high:              matching.High,
		verifiedThreshold: merge.VerifiedThreshold,
	}
}

// Decide maps ranked matches onto create, merge or review.
func (r *Resolver) Decide(c model.NormalizedCandidate, matches []model.Match) model.MergeRecord {
	rec := model.MergeRecord{
		Key:       c.Key,
		Candidate: c,
		Matches:   matches,
		Origin:    model.OriginPipeline,
	}

	var best *model.Match
	for i := range matches {
		if matches[i].Score >= r.floor {
			best = &matches[i]
			break
		}
	}

	switch {
	case best == nil:
		rec.Action = model.ActionCreate
	case best.Score >= r.high:
		rec.Action = model.ActionMerge
		rec.TargetID = best.EntityID
		rec.Score = best.Score
	default:
		rec.Action = model.ActionReview
		rec.TargetID = best.EntityID
		rec.Score = best.Score
	}
	return rec
}

// Apply merges rec into current and returns the new entity state. current is
// never modified; nil current means the record creates a new entity.
func (r *Resolver) Apply(current *model.Equipment, rec model.MergeRecord, now time.Time) (*model.Equipment, model.MergeReport) {
	var report model.MergeReport
	var e *model.Equipment

	if current == nil {
		c := rec.Candidate
		id := rec.TargetID
		if id == "" {
			id = model.EquipmentID(rec.Key)
		}
		e = &model.Equipment{
			ID:        id,
			Key:       rec.Key,
			Name:      c.Name,
			Brand:     c.Brand,
			Category:  rec.Key.Category,
			Fields:    map[string]*model.Field{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		report.Created = true
		report.Changed = true
	} else {
		e = current.Clone()
		if e.Fields == nil {
			e.Fields = map[string]*model.Field{}
		}
	}

	changed := map[string]bool{}

	for _, o := range rec.Candidate.Observations {
		r.mergeObservation(e, o.Field, o.Provenance(), now, changed, &report)
	}

	for name, values := range rec.Candidate.Lists {
		merged := model.SortedSet(append(append([]string(nil), e.List(name)...), values...))
		if len(merged) != len(e.List(name)) {
			e.SetList(name, merged)
			changed[name] = true
			report.Changed = true
		}
	}

	for _, o := range rec.Overrides {
		applyOverride(e, o, changed, &report)
	}

	for name := range changed {
		report.ChangedFields = append(report.ChangedFields, name)
	}
	sort.Strings(report.ChangedFields)

	if report.Changed {
		e.UpdatedAt = now
	}
	e.Completeness = score.Score(e)
	return e, report
}

// mergeObservation applies one automated observation to a field. A repeated
// observation from the same source only counts when it is more confident;
// the stored record is raised to the new confidence.
func (r *Resolver) mergeObservation(e *model.Equipment, name string, p model.Provenance, now time.Time, changed map[string]bool, report *model.MergeReport) {
	f := e.Fields[name]
	if f == nil {
		f = &model.Field{}
		e.Fields[name] = f
	}
	if i := f.ObservationIndex(p); i >= 0 {
		if p.Confidence <= f.Provenance[i].Confidence {
			return
		}
		f.Provenance[i].Confidence = p.Confidence
		f.Provenance[i].ObservedAt = p.ObservedAt
		if p.Status != "" {
			f.Provenance[i].Status = p.Status
		}
		changed[name] = true
	} else {
		f.Provenance = append(f.Provenance, p)
		report.AppendedProvenance++
	}
	report.Changed = true

	// Replayed override records are history; only explicit overrides
	// change an overridden value.
	if p.Override {
		return
	}

	if !f.Present() {
		f.Value = p.Value
		f.Confidence = p.Confidence
		f.UpdatedAt = now
		changed[name] = true
		return
	}

	// Overridden fields only collect provenance until the next override.
	if f.Status == model.StatusOverridden {
		return
	}

	if !p.Value.Equal(f.Value) && p.Confidence >= r.verifiedThreshold && f.Confidence >= r.verifiedThreshold {
		report.Conflicts = append(report.Conflicts, model.FieldConflict{
			EntityID: e.ID,
			Field:    name,
			Existing: currentProvenance(f),
			Proposed: p,
		})
		f.Status = model.StatusConflict
		changed[name] = true
	}

	if p.Confidence > f.Confidence {
		f.Value = p.Value
		f.Confidence = p.Confidence
		f.UpdatedAt = now
		changed[name] = true
	}
}

func applyOverride(e *model.Equipment, o model.Override, changed map[string]bool, report *model.MergeReport) {
	if model.IsListField(o.Field) {
		values := model.SortedSet(splitOverrideList(o))
		if !slices.Equal(values, e.List(o.Field)) {
			e.SetList(o.Field, values)
			changed[o.Field] = true
			report.Changed = true
		}
		return
	}

	p := o.Provenance()
	f := e.Fields[o.Field]
	if f == nil {
		f = &model.Field{}
		e.Fields[o.Field] = f
	}
	if f.Status == model.StatusOverridden && f.Value.Equal(o.Value) && f.HasObservation(p) {
		return
	}
	if !f.HasObservation(p) {
		f.Provenance = append(f.Provenance, p)
		report.AppendedProvenance++
	}
	f.Value = o.Value
	f.Confidence = 1
	f.Status = model.StatusOverridden
	f.UpdatedAt = o.At
	changed[o.Field] = true
	report.Changed = true
}

// currentProvenance finds the observation backing the field's current value.
func currentProvenance(f *model.Field) model.Provenance {
	var best *model.Provenance
	for i := range f.Provenance {
		p := &f.Provenance[i]
		if !p.Value.Equal(f.Value) {
			continue
		}
		if best == nil || p.Confidence > best.Confidence {
			best = p
		}
	}
	if best != nil {
		return *best
	}
	return model.Provenance{Value: f.Value, Confidence: f.Confidence, ObservedAt: f.UpdatedAt}
}

func splitOverrideList(o model.Override) []string {
	return strings.FieldsFunc(o.Raw, func(r rune) bool { return r == ',' || r == ';' })
}
