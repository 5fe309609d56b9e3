package persist

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agenthands/geargraph/internal/core/model"
)

type edgeKey struct {
	Type string
	From string
	To   string
}

// MemoryStore is an in-process Store for tests and the memory dev mode.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string]*model.Equipment
	byKey    map[string]string
	brands   map[string]model.Brand
	sources  map[string]*model.Source
	insights map[string]model.Insight
	families map[string]model.ProductFamily
	edges    map[edgeKey]map[string]any

	faults  []error
	pingErr error
	applies int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: map[string]*model.Equipment{},
		byKey:    map[string]string{},
		brands:   map[string]model.Brand{},
		sources:  map[string]*model.Source{},
		insights: map[string]model.Insight{},
		families: map[string]model.ProductFamily{},
		edges:    map[edgeKey]map[string]any{},
	}
}

// FailNext makes the next len(errs) calls to Apply return errs in order
// without writing anything.
func (s *MemoryStore) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, errs...)
}

func (s *MemoryStore) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

// Applies counts successful Apply calls.
func (s *MemoryStore) Applies() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applies
}

func (s *MemoryStore) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

func (s *MemoryStore) EdgeCount(relType string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.edges {
		if relType == "" || k.Type == relType {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Insights() []model.Insight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Insight, 0, len(s.insights))
	for _, i := range s.insights {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Key < out[b].Key })
	return out
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pingErr
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Equipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("equipment %s: %w", id, ErrNotFound)
	}
	return e.Clone(), nil
}

func (s *MemoryStore) GetByKey(ctx context.Context, key model.CanonicalKey) (*model.Equipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key.String()]
	if !ok {
		return nil, fmt.Errorf("equipment %s: %w", key, ErrNotFound)
	}
	return s.entities[id].Clone(), nil
}

func (s *MemoryStore) Pool(ctx context.Context, brandKey string, category model.Category, limit int) ([]*model.Equipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Equipment
	for _, e := range s.entities {
		if e.Absorbed() {
			continue
		}
		if e.Key.Brand == brandKey || e.Category == category {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		bi, bj := out[i].Key.Brand == brandKey, out[j].Key.Brand == brandKey
		if bi != bj {
			return bi
		}
		if out[i].Completeness != out[j].Completeness {
			return out[i].Completeness > out[j].Completeness
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ByBrand(ctx context.Context, brandKey string) ([]*model.Equipment, error) {
	return s.filter(func(e *model.Equipment) bool { return e.Key.Brand == brandKey }), nil
}

func (s *MemoryStore) All(ctx context.Context) ([]*model.Equipment, error) {
	return s.filter(func(*model.Equipment) bool { return true }), nil
}

func (s *MemoryStore) filter(keep func(*model.Equipment) bool) []*model.Equipment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Equipment
	for _, e := range s.entities {
		if !e.Absorbed() && keep(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) Edges(ctx context.Context, id string) ([]model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Edge
	for k, props := range s.edges {
		if k.From != id && k.To != id {
			continue
		}
		out = append(out, model.Edge{Type: k.Type, From: k.From, To: k.To, Properties: copyProps(props)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out, nil
}

func (s *MemoryStore) FamilyExists(ctx context.Context, familyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.families[familyKey]
	return ok, nil
}

func (s *MemoryStore) Source(ctx context.Context, ref string) (*model.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[ref]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", ref, ErrNotFound)
	}
	cp := *src
	return &cp, nil
}

func (s *MemoryStore) Orphans(ctx context.Context) ([]model.Orphan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attached := map[edgeKey]bool{}
	for k := range s.edges {
		if e, ok := s.entities[k.From]; ok && !e.Absorbed() {
			attached[edgeKey{Type: k.Type, To: k.To}] = true
		}
	}

	var out []model.Orphan
	for key, b := range s.brands {
		if !attached[edgeKey{Type: model.RelManufacturedBy, To: key}] {
			out = append(out, model.Orphan{Label: model.LabelBrand, Key: key, Name: b.Name})
		}
	}
	for key, in := range s.insights {
		if !attached[edgeKey{Type: model.RelHasExperience, To: key}] {
			out = append(out, model.Orphan{Label: model.LabelInsight, Key: key, Name: in.Summary})
		}
	}
	for key, f := range s.families {
		if !attached[edgeKey{Type: model.RelVariantOf, To: key}] {
			out = append(out, model.Orphan{Label: model.LabelProductFamily, Key: key, Name: f.Name})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (s *MemoryStore) Apply(ctx context.Context, w Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.faults) > 0 {
		err := s.faults[0]
		s.faults = s.faults[1:]
		return err
	}

	if w.Entity != nil {
		e := w.Entity.Clone()
		if prev, ok := s.entities[e.ID]; ok {
			e.CreatedAt = prev.CreatedAt
		}
		s.entities[e.ID] = e
		s.byKey[e.Key.String()] = e.ID
	}

	id := w.EntityID
	if id == "" && w.Entity != nil {
		id = w.Entity.ID
	}
	_, entityExists := s.entities[id]

	if w.Brand != nil {
		b := s.brands[w.Brand.Key]
		if b.Key == "" {
			b = model.Brand{Key: w.Brand.Key, Name: w.Brand.Name}
		}
		if w.Brand.Country != "" {
			b.Country = w.Brand.Country
		}
		if w.Brand.Website != "" {
			b.Website = w.Brand.Website
		}
		s.brands[b.Key] = b
		if entityExists {
			s.mergeEdge(model.RelManufacturedBy, id, b.Key, nil)
		}
	}

	if w.Source != nil {
		s.mergeSource(w.Source)
		if entityExists {
			s.mergeEdge(model.RelMentions, w.Source.Ref, id, nil)
		}
	}

	for _, in := range w.Insights {
		if _, ok := s.insights[in.Key]; !ok {
			s.insights[in.Key] = in
		}
		if entityExists {
			s.mergeEdge(model.RelHasExperience, id, in.Key, map[string]any{
				"sentiment": string(in.Sentiment),
				"scenario":  in.Scenario,
			})
		}
		if _, ok := s.sources[in.SourceRef]; ok {
			s.mergeEdge(model.RelMentions, in.SourceRef, in.Key, nil)
		}
	}

	if w.Family != nil {
		fam := w.Family.Family()
		if _, ok := s.families[fam.Key()]; !ok {
			s.families[fam.Key()] = fam
		}
		if entityExists {
			s.mergeEdge(model.RelVariantOf, id, fam.Key(), map[string]any{
				"confidence": w.Family.Confidence,
				"variant":    w.Family.Variant,
				"pattern":    w.Family.Pattern,
			})
		}
		if _, ok := s.brands[fam.Brand]; ok {
			s.mergeEdge(model.RelManufacturedBy, fam.Key(), fam.Brand, nil)
		}
	}

	if a := w.Absorb; a != nil {
		s.absorb(a)
	}

	if f := w.Finalize; f != nil {
		s.mergeSource(f)
		src := s.sources[f.Ref]
		src.ProcessedAt = f.ProcessedAt
		src.Counts = f.Counts
	}

	s.applies++
	return nil
}

func (s *MemoryStore) mergeSource(src *model.Source) {
	if _, ok := s.sources[src.Ref]; ok {
		return
	}
	s.sources[src.Ref] = &model.Source{Ref: src.Ref, Kind: src.Kind, Title: src.Title}
}

// mergeEdge creates the edge if missing and overwrites its properties.
func (s *MemoryStore) mergeEdge(relType, from, to string, props map[string]any) {
	k := edgeKey{Type: relType, From: from, To: to}
	existing, ok := s.edges[k]
	if !ok || existing == nil {
		existing = map[string]any{}
	}
	for name, v := range props {
		existing[name] = v
	}
	s.edges[k] = existing
}

func (s *MemoryStore) absorb(a *Absorption) {
	moves := map[string]bool{
		model.RelMentions:      true,
		model.RelHasExperience: true,
		model.RelVariantOf:     true,
	}
	for k, props := range s.edges {
		if !moves[k.Type] {
			continue
		}
		switch {
		case k.To == a.DuplicateID:
			delete(s.edges, k)
			moved := edgeKey{Type: k.Type, From: k.From, To: a.CanonicalID}
			if _, ok := s.edges[moved]; !ok {
				s.edges[moved] = props
			}
		case k.From == a.DuplicateID:
			delete(s.edges, k)
			moved := edgeKey{Type: k.Type, From: a.CanonicalID, To: k.To}
			if _, ok := s.edges[moved]; !ok || k.Type == model.RelHasExperience {
				s.edges[moved] = props
			}
		}
	}
	if d, ok := s.entities[a.DuplicateID]; ok {
		d.AbsorbedInto = a.CanonicalID
		d.UpdatedAt = a.At
	}
}

func copyProps(p map[string]any) map[string]any {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
