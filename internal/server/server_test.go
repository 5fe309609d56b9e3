package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/core"
	"github.com/agenthands/geargraph/internal/core/audit"
	"github.com/agenthands/geargraph/internal/core/dedupe"
	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/core/persist"
	"github.com/agenthands/geargraph/internal/metrics"
	"github.com/agenthands/geargraph/internal/orchestrator"
	"github.com/agenthands/geargraph/internal/review"
)

type harness struct {
	router *gin.Engine
	store  *persist.MemoryStore
	orch   *orchestrator.Orchestrator
}

func newHarness(t *testing.T) harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Persistence.InitialBackoff = "1ms"
	m := metrics.New()
	store := persist.NewMemoryStore()
	resolver := dedupe.NewResolver(cfg.Matching, cfg.Merge)
	gw := persist.NewGateway(store, resolver, cfg.Persistence, m, nil)

	reviewStore, err := review.NewBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reviewStore.Close() })
	reviews := review.NewService(reviewStore, gw, m, nil)

	curator := core.NewCurator(cfg, resolver, gw, reviews, nil, nil)
	orch := orchestrator.New(cfg.Orchestrator, curator, gw, nil, nil, m, nil)
	auditor := audit.NewAuditor(audit.NewScanner(curator.Matcher(), curator.Grouper()), gw, reviews, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = orch.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	srv := NewServer(orch, reviews, gw, auditor, m, nil)
	return harness{router: srv.SetupRouter(), store: store, orch: orch}
}

func (h harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

// ingest submits a unit and waits for it to finish.
func (h harness) ingest(t *testing.T, req orchestrator.UnitRequest) orchestrator.UnitSnapshot {
	t.Helper()
	w := h.do(t, http.MethodPost, "/units", req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := decode[map[string]string](t, w)["id"]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := h.orch.Wait(ctx, id)
	require.NoError(t, err)
	return snap
}

func unitFor(ref string, names ...string) orchestrator.UnitRequest {
	req := orchestrator.UnitRequest{SourceRef: ref, SourceKind: "video"}
	for _, n := range names {
		req.Candidates = append(req.Candidates, model.Candidate{
			Name: n, Brand: "Osprey", Category: "backpack",
			Fields: map[string]model.RawField{"weight": {Value: "1.2 kg", Confidence: model.Conf(0.8)}},
		})
	}
	return req
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil).Code)

	h.store.SetPingError(errors.New("connection refused"))
	assert.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodGet, "/healthz", nil).Code)
}

func TestUnits(t *testing.T) {
	h := newHarness(t)

	snap := h.ingest(t, unitFor("vid-1", "Exos 58", "Talon 22"))
	assert.Equal(t, orchestrator.StateCompleted, snap.State)

	w := h.do(t, http.MethodGet, "/units/"+snap.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[orchestrator.UnitSnapshot](t, w)
	assert.Equal(t, 2, got.Counts.Created)
	assert.Len(t, got.Events, len(snap.Events))

	w = h.do(t, http.MethodGet, "/units/"+snap.ID+"?since=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tail := decode[orchestrator.UnitSnapshot](t, w)
	require.NotEmpty(t, tail.Events)
	assert.Equal(t, 4, tail.Events[0].Seq)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/units/"+snap.ID+"?since=x", nil).Code)

	w = h.do(t, http.MethodGet, "/units", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string][]orchestrator.UnitSnapshot](t, w)["units"], 1)

	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodPost, "/units/"+snap.ID+"/cancel", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/units/nope/cancel", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/units/nope", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/units", orchestrator.UnitRequest{Title: "no source"}).Code)
}

func TestReviews(t *testing.T) {
	h := newHarness(t)
	h.ingest(t, unitFor("vid-1", "Exos 58"))
	snap := h.ingest(t, unitFor("vid-2", "Exso 58"))
	require.Equal(t, 1, snap.Counts.Flagged)

	w := h.do(t, http.MethodGet, "/reviews?kind=ambiguous_match&status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	items := decode[map[string][]model.ReviewItem](t, w)["items"]
	require.Len(t, items, 1)
	id := items[0].ID

	w = h.do(t, http.MethodGet, "/reviews/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Exso 58", decode[model.ReviewItem](t, w).Candidate.Name)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/reviews/"+id+"/decision", model.Decision{Action: model.DecisionAccept}).Code)

	w = h.do(t, http.MethodPost, "/reviews/"+id+"/decision", model.Decision{Action: model.DecisionAccept, Reviewer: "kim"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[review.Outcome](t, w)
	assert.Equal(t, model.ReviewAccepted, out.Item.Status)
	assert.Equal(t, 1, h.store.EntityCount())

	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodPost, "/reviews/"+id+"/decision", model.Decision{Action: model.DecisionAccept, Reviewer: "kim"}).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/reviews/missing", nil).Code)
}

func TestEntity(t *testing.T) {
	h := newHarness(t)
	snap := h.ingest(t, unitFor("vid-1", "Exos 58"))

	var entityID string
	for _, e := range snap.Events {
		if e.Type == orchestrator.EventEntityCreated {
			entityID = e.EntityID
		}
	}
	require.NotEmpty(t, entityID)

	w := h.do(t, http.MethodGet, "/entities/"+entityID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[entityResponse](t, w)
	assert.Equal(t, "Exos 58", got.Entity.Name)
	assert.Greater(t, got.Completeness, 0.0)
	assert.Less(t, got.Completeness, 1.0)
	assert.Contains(t, got.Missing, model.FieldPrice)
	assert.NotEmpty(t, got.Edges)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/entities/missing", nil).Code)
}

func TestAuditAndMetrics(t *testing.T) {
	h := newHarness(t)
	h.ingest(t, unitFor("vid-1", "Exos 58", "Exos 48"))

	w := h.do(t, http.MethodPost, "/audit?apply=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[audit.Result](t, w)
	assert.Empty(t, res.Report.Groups, "family variants are not duplicates")

	w = h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "geargraph_candidates_total")
}
