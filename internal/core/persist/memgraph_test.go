package persist

import (
	"context"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/driver"
)

type call struct {
	query  string
	params map[string]any
}

// MockGraphDriver records statements and answers reads with canned rows.
type MockGraphDriver struct {
	Rows   []map[string]any
	Writes []call
	Reads  []call
	Err    error
}

func (m *MockGraphDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error) {
	return neo4j.EagerResult{}, m.Err
}

func (m *MockGraphDriver) ExecuteRead(ctx context.Context, fn func(tx driver.Tx) error) error {
	if m.Err != nil {
		return m.Err
	}
	return fn(mockTx{m: m, read: true})
}

func (m *MockGraphDriver) ExecuteWrite(ctx context.Context, fn func(tx driver.Tx) error) error {
	if m.Err != nil {
		return m.Err
	}
	return fn(mockTx{m: m})
}

func (m *MockGraphDriver) VerifyConnectivity(ctx context.Context) error { return m.Err }
func (m *MockGraphDriver) BuildIndices(ctx context.Context) error       { return nil }
func (m *MockGraphDriver) Close(ctx context.Context) error              { return nil }

type mockTx struct {
	m    *MockGraphDriver
	read bool
}

func (t mockTx) Run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	if t.read {
		t.m.Reads = append(t.m.Reads, call{query, params})
		return t.m.Rows, nil
	}
	t.m.Writes = append(t.m.Writes, call{query, params})
	return nil, nil
}

func sampleEquipment() *model.Equipment {
	e := &model.Equipment{
		ID:        "e1",
		Key:       model.CanonicalKey{Name: "exos 58", Brand: "osprey", Category: model.CategoryBackpack},
		Name:      "Exos 58",
		Brand:     "Osprey",
		Category:  model.CategoryBackpack,
		Materials: []string{"nylon"},
		CreatedAt: observed,
		UpdatedAt: observed,
		Fields: map[string]*model.Field{
			model.FieldWeight: {
				Value:      model.Number(1100),
				Confidence: 0.9,
				UpdatedAt:  observed,
				Provenance: []model.Provenance{{SourceRef: "vid-1", Value: model.Number(1100), Confidence: 0.9, ObservedAt: observed}},
			},
			model.FieldDescription: {Value: model.Text("Ultralight frame pack"), Confidence: 0.5, UpdatedAt: observed},
		},
	}
	e.Completeness = 0.42
	return e
}

func TestMemgraphStore_ApplyRunsOneTransactionInOrder(t *testing.T) {
	d := &MockGraphDriver{}
	s := NewMemgraphStore(d)

	err := s.Apply(context.Background(), Write{
		Entity:   sampleEquipment(),
		Brand:    &model.Brand{Key: "osprey", Name: "Osprey"},
		Source:   &model.Source{Ref: "vid-1", Kind: "video"},
		Insights: []model.Insight{{Key: "k1", Summary: "Comfortable", SourceRef: "vid-1"}},
		Family:   &model.FamilyAssignment{FamilyName: "Exos", Base: "exos", Brand: "osprey", Variant: "58", Confidence: 0.85},
	})
	require.NoError(t, err)

	require.Len(t, d.Writes, 5)
	assert.Equal(t, driver.UpsertEquipmentQuery, d.Writes[0].query)
	assert.Equal(t, driver.MergeBrandQuery, d.Writes[1].query)
	assert.Equal(t, driver.MergeSourceMentionQuery, d.Writes[2].query)
	assert.Equal(t, driver.MergeInsightQuery, d.Writes[3].query)
	assert.Equal(t, driver.MergeFamilyQuery, d.Writes[4].query)

	assert.Equal(t, "e1", d.Writes[1].params["entity_id"])
	assert.Nil(t, d.Writes[1].params["country"])
	assert.Equal(t, "osprey|exos", d.Writes[4].params["key"])

	specs := d.Writes[0].params["specs"].([]map[string]any)
	require.Len(t, specs, 2)
	assert.Equal(t, "e1|description", specs[0]["key"])
	assert.Equal(t, 1100.0, specs[1]["num"])
}

func TestMemgraphStore_EmptyWriteSkipsTransaction(t *testing.T) {
	d := &MockGraphDriver{}
	require.NoError(t, NewMemgraphStore(d).Apply(context.Background(), Write{}))
	assert.Empty(t, d.Writes)
}

func TestMemgraphStore_DecodesEquipmentRows(t *testing.T) {
	e := sampleEquipment()
	params, err := equipmentParams(e)
	require.NoError(t, err)

	var specs []any
	for _, s := range params["specs"].([]map[string]any) {
		specs = append(specs, s)
	}
	row := map[string]any{
		"id": "e1", "name": "Exos 58", "brand": "Osprey", "category": "backpack",
		"name_key": "exos 58", "brand_key": "osprey",
		"materials": []any{"nylon"}, "features": []any{}, "use_cases": []any{},
		"completeness": 0.42, "absorbed_into": "",
		"created_at": params["created_at"], "updated_at": params["updated_at"],
		"specs": append(specs, map[string]any{"field": nil}),
	}
	d := &MockGraphDriver{Rows: []map[string]any{row}}

	got, err := NewMemgraphStore(d).Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, e.Key, got.Key)
	assert.Equal(t, []string{"nylon"}, got.Materials)
	w, ok := got.WeightGrams()
	require.True(t, ok)
	assert.Equal(t, 1100.0, w)
	require.Len(t, got.Field(model.FieldWeight).Provenance, 1)
	assert.Equal(t, "vid-1", got.Field(model.FieldWeight).Provenance[0].SourceRef)
	desc, _ := got.Description()
	assert.Equal(t, "Ultralight frame pack", desc)
	assert.True(t, got.CreatedAt.Equal(observed))
	assert.Equal(t, "e1", d.Reads[0].params["id"])
}

func TestMemgraphStore_NotFound(t *testing.T) {
	_, err := NewMemgraphStore(&MockGraphDriver{}).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewMemgraphStore(&MockGraphDriver{}).Source(context.Background(), "vid-x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemgraphStore_Orphans(t *testing.T) {
	d := &MockGraphDriver{Rows: []map[string]any{{"label": "Brand", "key": "zpacks", "name": "Zpacks"}}}
	orphans, err := NewMemgraphStore(d).Orphans(context.Background())
	require.NoError(t, err)

	require.Len(t, d.Reads, len(driver.OrphanQueries))
	for i, q := range driver.OrphanQueries {
		assert.Equal(t, q, d.Reads[i].query)
	}
	require.Len(t, orphans, len(driver.OrphanQueries))
	assert.Equal(t, model.Orphan{Label: model.LabelBrand, Key: "zpacks", Name: "Zpacks"}, orphans[0])
}
