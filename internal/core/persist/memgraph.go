package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/driver"
)

// MemgraphStore maps the gear graph onto Cypher over a GraphDriver.
type MemgraphStore struct {
	driver driver.GraphDriver
}

func NewMemgraphStore(d driver.GraphDriver) *MemgraphStore {
	return &MemgraphStore{driver: d}
}

func (s *MemgraphStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

func (s *MemgraphStore) Get(ctx context.Context, id string) (*model.Equipment, error) {
	return s.one(ctx, driver.GetEquipmentQuery, map[string]any{"id": id}, id)
}

func (s *MemgraphStore) GetByKey(ctx context.Context, key model.CanonicalKey) (*model.Equipment, error) {
	return s.one(ctx, driver.GetEquipmentByKeyQuery, map[string]any{"key": key.String()}, key.String())
}

func (s *MemgraphStore) one(ctx context.Context, query string, params map[string]any, label string) (*model.Equipment, error) {
	list, err := s.many(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("equipment %s: %w", label, ErrNotFound)
	}
	return list[0], nil
}

func (s *MemgraphStore) many(ctx context.Context, query string, params map[string]any) ([]*model.Equipment, error) {
	var rows []map[string]any
	err := s.driver.ExecuteRead(ctx, func(tx driver.Tx) error {
		var err error
		rows, err = tx.Run(ctx, query, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Equipment, 0, len(rows))
	for _, row := range rows {
		e, err := equipmentFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *MemgraphStore) Pool(ctx context.Context, brandKey string, category model.Category, limit int) ([]*model.Equipment, error) {
	out, err := s.many(ctx, driver.MatchPoolQuery, map[string]any{
		"brand_key": brandKey,
		"category":  string(category),
		"limit":     limit,
	})
	if err != nil {
		return nil, err
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
	return out, nil
}

func (s *MemgraphStore) ByBrand(ctx context.Context, brandKey string) ([]*model.Equipment, error) {
	return s.many(ctx, driver.EquipmentByBrandQuery, map[string]any{"brand_key": brandKey})
}

func (s *MemgraphStore) All(ctx context.Context) ([]*model.Equipment, error) {
	return s.many(ctx, driver.AllEquipmentQuery, nil)
}

func (s *MemgraphStore) Edges(ctx context.Context, id string) ([]model.Edge, error) {
	var rows []map[string]any
	err := s.driver.ExecuteRead(ctx, func(tx driver.Tx) error {
		var err error
		rows, err = tx.Run(ctx, driver.EquipmentEdgesQuery, map[string]any{"id": id})
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.Edge, 0, len(rows))
	for _, row := range rows {
		e := model.Edge{Type: str(row, "type"), From: id, To: str(row, "other")}
		if outgoing, _ := row["outgoing"].(bool); !outgoing {
			e.From, e.To = e.To, e.From
		}
		if props, ok := row["properties"].(map[string]any); ok && len(props) > 0 {
			e.Properties = props
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *MemgraphStore) FamilyExists(ctx context.Context, familyKey string) (bool, error) {
	var n int64
	err := s.driver.ExecuteRead(ctx, func(tx driver.Tx) error {
		rows, err := tx.Run(ctx, driver.FamilyExistsQuery, map[string]any{"key": familyKey})
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			n, _ = rows[0]["n"].(int64)
		}
		return nil
	})
	return n > 0, err
}

func (s *MemgraphStore) Source(ctx context.Context, ref string) (*model.Source, error) {
	var rows []map[string]any
	err := s.driver.ExecuteRead(ctx, func(tx driver.Tx) error {
		var err error
		rows, err = tx.Run(ctx, driver.GetSourceQuery, map[string]any{"ref": ref})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("source %s: %w", ref, ErrNotFound)
	}
	row := rows[0]
	src := &model.Source{
		Ref:   str(row, "ref"),
		Kind:  str(row, "kind"),
		Title: str(row, "title"),
		Counts: model.SourceCounts{
			Candidates: integer(row, "candidates"),
			Created:    integer(row, "created"),
			Merged:     integer(row, "merged"),
			Flagged:    integer(row, "flagged"),
			Failed:     integer(row, "failed"),
			Invalid:    integer(row, "invalid"),
			Insights:   integer(row, "insights"),
		},
	}
	if t, ok := timestamp(row, "processed_at"); ok {
		src.ProcessedAt = &t
	}
	return src, nil
}

func (s *MemgraphStore) Orphans(ctx context.Context) ([]model.Orphan, error) {
	var out []model.Orphan
	err := s.driver.ExecuteRead(ctx, func(tx driver.Tx) error {
		out = out[:0]
		for _, q := range driver.OrphanQueries {
			rows, err := tx.Run(ctx, q, nil)
			if err != nil {
				return err
			}
			for _, row := range rows {
				out = append(out, model.Orphan{Label: str(row, "label"), Key: str(row, "key"), Name: str(row, "name")})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Apply runs every statement of w in one write transaction.
func (s *MemgraphStore) Apply(ctx context.Context, w Write) error {
	stmts, err := statements(w)
	if err != nil {
		return err
	}
	if len(stmts) == 0 {
		return nil
	}
	return s.driver.ExecuteWrite(ctx, func(tx driver.Tx) error {
		for _, st := range stmts {
			if _, err := tx.Run(ctx, st.query, st.params); err != nil {
				return fmt.Errorf("%s: %w", st.name, err)
			}
		}
		return nil
	})
}

type statement struct {
	name   string
	query  string
	params map[string]any
}

func statements(w Write) ([]statement, error) {
	var out []statement
	id := w.EntityID
	if w.Entity != nil {
		params, err := equipmentParams(w.Entity)
		if err != nil {
			return nil, err
		}
		out = append(out, statement{"upsert equipment", driver.UpsertEquipmentQuery, params})
		if id == "" {
			id = w.Entity.ID
		}
	}
	if b := w.Brand; b != nil {
		out = append(out, statement{"merge brand", driver.MergeBrandQuery, map[string]any{
			"key":       b.Key,
			"name":      b.Name,
			"country":   nullable(b.Country),
			"website":   nullable(b.Website),
			"entity_id": id,
		}})
	}
	if src := w.Source; src != nil {
		out = append(out, statement{"merge source", driver.MergeSourceMentionQuery, map[string]any{
			"ref":       src.Ref,
			"kind":      src.Kind,
			"title":     src.Title,
			"entity_id": id,
		}})
	}
	for _, in := range w.Insights {
		out = append(out, statement{"merge insight", driver.MergeInsightQuery, map[string]any{
			"key":        in.Key,
			"summary":    in.Summary,
			"content":    in.Content,
			"category":   in.Category,
			"scenario":   in.Scenario,
			"sentiment":  string(in.Sentiment),
			"source_ref": in.SourceRef,
			"entity_id":  id,
		}})
	}
	if f := w.Family; f != nil {
		fam := f.Family()
		out = append(out, statement{"merge family", driver.MergeFamilyQuery, map[string]any{
			"key":        fam.Key(),
			"brand":      fam.Brand,
			"base":       fam.Base,
			"name":       fam.Name,
			"entity_id":  id,
			"confidence": f.Confidence,
			"variant":    f.Variant,
			"pattern":    f.Pattern,
		}})
	}
	if a := w.Absorb; a != nil {
		params := map[string]any{
			"canonical_id": a.CanonicalID,
			"duplicate_id": a.DuplicateID,
			"updated_at":   formatTime(a.At),
		}
		out = append(out,
			statement{"move mentions", driver.MoveMentionsQuery, params},
			statement{"move experiences", driver.MoveExperiencesQuery, params},
			statement{"move variants", driver.MoveVariantsQuery, params},
			statement{"mark absorbed", driver.MarkAbsorbedQuery, params},
		)
	}
	if f := w.Finalize; f != nil {
		var processed any
		if f.ProcessedAt != nil {
			processed = formatTime(*f.ProcessedAt)
		}
		out = append(out, statement{"finalize source", driver.FinalizeSourceQuery, map[string]any{
			"ref":          f.Ref,
			"kind":         f.Kind,
			"title":        f.Title,
			"processed_at": processed,
			"candidates":   f.Counts.Candidates,
			"created":      f.Counts.Created,
			"merged":       f.Counts.Merged,
			"flagged":      f.Counts.Flagged,
			"failed":       f.Counts.Failed,
			"invalid":      f.Counts.Invalid,
			"insights":     f.Counts.Insights,
		}})
	}
	return out, nil
}

func equipmentParams(e *model.Equipment) (map[string]any, error) {
	specs := make([]map[string]any, 0, len(e.Fields))
	for _, name := range e.FieldNames() {
		f := e.Fields[name]
		prov, err := json.Marshal(f.Provenance)
		if err != nil {
			return nil, fmt.Errorf("encode provenance of %s: %w", name, err)
		}
		var num any
		if f.Value.Num != nil {
			num = *f.Value.Num
		}
		specs = append(specs, map[string]any{
			"key":        e.ID + "|" + name,
			"field":      name,
			"num":        num,
			"text":       f.Value.Text,
			"confidence": f.Confidence,
			"status":     string(f.Status),
			"updated_at": formatTime(f.UpdatedAt),
			"provenance": string(prov),
		})
	}
	return map[string]any{
		"id":            e.ID,
		"key":           e.Key.String(),
		"name":          e.Name,
		"brand":         e.Brand,
		"name_key":      e.Key.Name,
		"brand_key":     e.Key.Brand,
		"category":      string(e.Category),
		"materials":     orEmpty(e.Materials),
		"features":      orEmpty(e.Features),
		"use_cases":     orEmpty(e.UseCases),
		"completeness":  e.Completeness,
		"absorbed_into": e.AbsorbedInto,
		"created_at":    formatTime(e.CreatedAt),
		"updated_at":    formatTime(e.UpdatedAt),
		"specs":         specs,
	}, nil
}

func equipmentFromRow(row map[string]any) (*model.Equipment, error) {
	e := &model.Equipment{
		ID:           str(row, "id"),
		Name:         str(row, "name"),
		Brand:        str(row, "brand"),
		Category:     model.Category(str(row, "category")),
		Materials:    list(row, "materials"),
		Features:     list(row, "features"),
		UseCases:     list(row, "use_cases"),
		Completeness: float(row, "completeness"),
		AbsorbedInto: str(row, "absorbed_into"),
		Fields:       map[string]*model.Field{},
	}
	e.Key = model.CanonicalKey{Name: str(row, "name_key"), Brand: str(row, "brand_key"), Category: e.Category}
	e.CreatedAt, _ = timestamp(row, "created_at")
	e.UpdatedAt, _ = timestamp(row, "updated_at")

	specs, _ := row["specs"].([]any)
	for _, raw := range specs {
		spec, ok := raw.(map[string]any)
		if !ok || str(spec, "field") == "" {
			continue
		}
		f := &model.Field{
			Confidence: float(spec, "confidence"),
			Status:     model.FieldStatus(str(spec, "status")),
		}
		if n, ok := spec["num"].(float64); ok {
			f.Value = model.Number(n)
		} else {
			f.Value = model.Text(str(spec, "text"))
		}
		f.UpdatedAt, _ = timestamp(spec, "updated_at")
		if p := str(spec, "provenance"); p != "" {
			if err := json.Unmarshal([]byte(p), &f.Provenance); err != nil {
				return nil, fmt.Errorf("decode provenance of %s.%s: %w", e.ID, str(spec, "field"), err)
			}
		}
		e.Fields[str(spec, "field")] = f
	}
	return e, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func timestamp(row map[string]any, key string) (time.Time, bool) {
	s := str(row, key)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, err == nil
}

func str(row map[string]any, key string) string {
	s, _ := row[key].(string)
	return s
}

func float(row map[string]any, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func integer(row map[string]any, key string) int {
	switch v := row[key].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func list(row map[string]any, key string) []string {
	raw, _ := row[key].([]any)
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// orEmpty keeps empty lists as [] rather than null in Cypher.
func orEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
