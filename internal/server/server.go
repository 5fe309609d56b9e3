package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/geargraph/internal/core/audit"
	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/core/persist"
	"github.com/agenthands/geargraph/internal/core/score"
	"github.com/agenthands/geargraph/internal/logger"
	"github.com/agenthands/geargraph/internal/metrics"
	"github.com/agenthands/geargraph/internal/orchestrator"
	"github.com/agenthands/geargraph/internal/review"
)

type Units interface {
	Enqueue(req orchestrator.UnitRequest) (string, error)
	Poll(id string) (orchestrator.UnitSnapshot, error)
	Events(id string, since int) ([]orchestrator.Event, error)
	Cancel(id string) error
	List() []orchestrator.UnitSnapshot
}

type Reviews interface {
	List(f review.Filter) ([]model.ReviewItem, error)
	Get(id string) (model.ReviewItem, error)
	Decide(ctx context.Context, id string, d model.Decision) (review.Outcome, error)
}

type Graph interface {
	Ping(ctx context.Context) error
	Entity(ctx context.Context, id string) (*model.Equipment, error)
	Edges(ctx context.Context, id string) ([]model.Edge, error)
}

type Auditor interface {
	Run(ctx context.Context, apply bool) (audit.Result, error)
}

type Server struct {
	Units   Units
	Reviews Reviews
	Graph   Graph
	Auditor Auditor
	Metrics *metrics.Metrics
	Log     *logger.Logger
}

func NewServer(units Units, reviews Reviews, graph Graph, auditor Auditor, m *metrics.Metrics, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		Units:   units,
		Reviews: reviews,
		Graph:   graph,
		Auditor: auditor,
		Metrics: m,
		Log:     log.With("component", "http"),
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.Log))

	r.GET("/healthz", s.Health)
	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	r.POST("/units", s.EnqueueUnit)
	r.GET("/units", s.ListUnits)
	r.GET("/units/:id", s.GetUnit)
	r.POST("/units/:id/cancel", s.CancelUnit)

	r.GET("/reviews", s.ListReviews)
	r.GET("/reviews/:id", s.GetReview)
	r.POST("/reviews/:id/decision", s.DecideReview)

	r.GET("/entities/:id", s.GetEntity)
	r.POST("/audit", s.RunAudit)

	return r
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Debug("HTTP request", fields...)
		}
	}
}

func respondError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrUnknownUnit),
		errors.Is(err, review.ErrNotFound),
		errors.Is(err, persist.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrUnitFinished),
		errors.Is(err, review.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrInvalidUnit),
		errors.Is(err, review.ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrQueueFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.Log.Error(op+" failed", "error", err)
	}
	respondError(c, status, err)
}

func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := s.Graph.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) EnqueueUnit(c *gin.Context) {
	var req orchestrator.UnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	id, err := s.Units.Enqueue(req)
	if err != nil {
		s.fail(c, "enqueue", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (s *Server) ListUnits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"units": s.Units.List()})
}

func (s *Server) GetUnit(c *gin.Context) {
	id := c.Param("id")
	snap, err := s.Units.Poll(id)
	if err != nil {
		s.fail(c, "poll", err)
		return
	}
	if raw := c.Query("since"); raw != "" {
		since, err := strconv.Atoi(raw)
		if err != nil || since < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a non-negative integer"})
			return
		}
		if snap.Events, err = s.Units.Events(id, since); err != nil {
			s.fail(c, "events", err)
			return
		}
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) CancelUnit(c *gin.Context) {
	if err := s.Units.Cancel(c.Param("id")); err != nil {
		s.fail(c, "cancel", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

func (s *Server) ListReviews(c *gin.Context) {
	f := review.Filter{
		Status: model.ReviewStatus(c.Query("status")),
		Kind:   model.ReviewKind(c.Query("kind")),
	}
	items, err := s.Reviews.List(f)
	if err != nil {
		s.fail(c, "list reviews", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) GetReview(c *gin.Context) {
	item, err := s.Reviews.Get(c.Param("id"))
	if err != nil {
		s.fail(c, "get review", err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) DecideReview(c *gin.Context) {
	var d model.Decision
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	out, err := s.Reviews.Decide(c.Request.Context(), c.Param("id"), d)
	if err != nil {
		s.fail(c, "decide review", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type entityResponse struct {
	Entity       *model.Equipment `json:"entity"`
	Completeness float64          `json:"completeness"`
	Missing      []string         `json:"missing"`
	Edges        []model.Edge     `json:"edges"`
}

func (s *Server) GetEntity(c *gin.Context) {
	ctx := c.Request.Context()
	e, err := s.Graph.Entity(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, "get entity", err)
		return
	}
	edges, err := s.Graph.Edges(ctx, e.ID)
	if err != nil {
		s.fail(c, "get edges", err)
		return
	}
	c.JSON(http.StatusOK, entityResponse{
		Entity:       e,
		Completeness: score.Score(e),
		Missing:      score.Missing(e),
		Edges:        edges,
	})
}

func (s *Server) RunAudit(c *gin.Context) {
	apply, _ := strconv.ParseBool(c.DefaultQuery("apply", "false"))
	res, err := s.Auditor.Run(c.Request.Context(), apply)
	if err != nil {
		s.fail(c, "audit", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
