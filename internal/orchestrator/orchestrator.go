package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/core"
	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/core/persist"
	"github.com/agenthands/geargraph/internal/logger"
	"github.com/agenthands/geargraph/internal/metrics"
)

const pingTimeout = 10 * time.Second

// Pipeline resolves and commits one candidate.
type Pipeline interface {
	Process(ctx context.Context, c model.Candidate, src *model.Source) (core.Outcome, error)
}

// Ledger is the processed-source record plus the store health check.
type Ledger interface {
	Ping(ctx context.Context) error
	IsSourceProcessed(ctx context.Context, ref string) (bool, error)
	FinalizeSource(ctx context.Context, src model.Source) error
}

// Extractor turns raw source content into candidates.
type Extractor interface {
	ExtractCandidates(ctx context.Context, sourceRef, title, content string) ([]model.Candidate, error)
}

// Orchestrator owns every unit of work. Units are only reachable through
// Enqueue, Poll, Events, Cancel and List.
type Orchestrator struct {
	pipeline   Pipeline
	ledger     Ledger
	extractor  Extractor
	dispatcher *Dispatcher
	sources    *persist.KeyLock
	metrics    *metrics.Metrics
	log        *logger.Logger
	now        func() time.Time

	workers          int
	candidateTimeout time.Duration
	queue            chan string

	mu    sync.Mutex
	units map[string]*unit
}

func New(cfg config.OrchestratorConfig, pipeline Pipeline, ledger Ledger, extractor Extractor, dispatcher *Dispatcher, m *metrics.Metrics, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	return &Orchestrator{
		pipeline:         pipeline,
		ledger:           ledger,
		extractor:        extractor,
		dispatcher:       dispatcher,
		sources:          persist.NewKeyLock(),
		metrics:          m,
		log:              log.With("component", "orchestrator"),
		now:              time.Now,
		workers:          cfg.Workers,
		candidateTimeout: config.Duration(cfg.CandidateTimeout, 2*time.Minute),
		queue:            make(chan string, cfg.QueueSize),
		units:            map[string]*unit{},
	}
}

// Enqueue registers a pending unit and returns its id.
func (o *Orchestrator) Enqueue(req UnitRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidUnit, err)
	}
	u := &unit{
		id:      uuid.New().String(),
		req:     req,
		state:   StatePending,
		total:   len(req.Candidates),
		created: o.now(),
		finish:  make(chan struct{}),
	}

	o.mu.Lock()
	select {
	case o.queue <- u.id:
	default:
		o.mu.Unlock()
		return "", ErrQueueFull
	}
	o.units[u.id] = u
	queued := u.record(EventUnitQueued, nil, "", "", map[string]any{"source_ref": req.SourceRef}, u.created)
	o.mu.Unlock()

	o.dispatcher.Emit(queued)
	o.metrics.SetQueueDepth(len(o.queue))
	o.log.Info("unit queued", "unit", u.id, "source", req.SourceRef, "candidates", len(req.Candidates))
	return u.id, nil
}

// Poll returns the unit's status and full event log.
func (o *Orchestrator) Poll(id string) (UnitSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	u, ok := o.units[id]
	if !ok {
		return UnitSnapshot{}, fmt.Errorf("%s: %w", id, ErrUnknownUnit)
	}
	return u.snapshot(0, true), nil
}

// Events returns the events with a sequence number greater than since.
func (o *Orchestrator) Events(id string, since int) ([]Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	u, ok := o.units[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownUnit)
	}
	return u.eventsSince(since), nil
}

// List returns every unit without events, oldest first.
func (o *Orchestrator) List() []UnitSnapshot {
	o.mu.Lock()
	out := make([]UnitSnapshot, 0, len(o.units))
	for _, u := range o.units {
		out = append(out, u.snapshot(0, false))
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Cancel stops a unit. A pending unit is cancelled at once; a running unit
// finishes the candidate it is committing and then stops.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	u, ok := o.units[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrUnknownUnit)
	}
	switch {
	case u.state.Terminal():
		o.mu.Unlock()
		return fmt.Errorf("%s is %s: %w", id, u.state, ErrUnitFinished)
	case u.state == StateRunning:
		if u.cancel != nil {
			u.cancel()
		}
		o.mu.Unlock()
		o.log.Info("unit cancellation requested", "unit", id)
		return nil
	}
	// still pending: settle it before a worker can take it
	e, settled := o.settle(u, StateCancelled, nil)
	o.mu.Unlock()
	if settled {
		o.announce(u, e, StateCancelled, nil)
	}
	return nil
}

// Wait blocks until the unit reaches a terminal state or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (UnitSnapshot, error) {
	o.mu.Lock()
	u, ok := o.units[id]
	o.mu.Unlock()
	if !ok {
		return UnitSnapshot{}, fmt.Errorf("%s: %w", id, ErrUnknownUnit)
	}
	select {
	case <-u.finish:
		return o.Poll(id)
	case <-ctx.Done():
		return UnitSnapshot{}, ctx.Err()
	}
}

// Run starts the worker pool and the event dispatcher and blocks until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if o.dispatcher != nil {
		g.Go(func() error { return o.dispatcher.Run(gctx) })
	}
	o.log.Info("starting worker pool", "workers", o.workers)
	for i := 0; i < o.workers; i++ {
		workerID := i + 1
		g.Go(func() error {
			o.work(gctx, workerID)
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) work(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			o.log.Debug("worker stopped", "worker_id", workerID)
			return
		case id := <-o.queue:
			o.metrics.SetQueueDepth(len(o.queue))
			o.runUnit(ctx, workerID, id)
		}
	}
}

func (o *Orchestrator) runUnit(ctx context.Context, workerID int, id string) {
	o.mu.Lock()
	u, ok := o.units[id]
	if !ok || u.state != StatePending {
		o.mu.Unlock()
		return
	}
	uctx, cancel := context.WithCancel(ctx)
	defer cancel()
	started := o.now()
	u.state, u.started, u.cancel = StateRunning, &started, cancel
	o.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			o.log.Error("unit panic", "worker_id", workerID, "unit", id, "panic", r)
			o.finish(u, StateFailed, fmt.Errorf("panic: %v", r))
		}
	}()

	o.emit(u, EventUnitStarted, nil, "", "", map[string]any{"worker": workerID})
	state, err := o.execute(uctx, u)
	o.finish(u, state, err)
}

// execute runs the pipeline over the unit's candidates and returns the
// terminal state.
func (o *Orchestrator) execute(ctx context.Context, u *unit) (State, error) {
	src := u.req.source()

	// concurrent submissions of the same source run one after the other, so
	// the second one sees the first one's ledger entry
	unlock := o.sources.Lock(src.Ref)
	defer unlock()

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := o.ledger.Ping(pctx)
	cancel()
	if err != nil {
		return StateFailed, fmt.Errorf("graph store unreachable: %w", err)
	}

	processed, err := o.ledger.IsSourceProcessed(ctx, src.Ref)
	if err != nil {
		return StateFailed, fmt.Errorf("check source ledger: %w", err)
	}
	if processed {
		o.emit(u, EventSourceSkipped, nil, "", "source already processed", nil)
		return StateCompleted, nil
	}

	candidates := u.req.Candidates
	if u.req.Content != "" {
		if o.extractor == nil {
			return StateFailed, errors.New("unit has content but no extractor is configured")
		}
		extracted, err := o.extractor.ExtractCandidates(ctx, src.Ref, src.Title, u.req.Content)
		if err != nil {
			if ctx.Err() != nil {
				return StateCancelled, nil
			}
			return StateFailed, fmt.Errorf("extract candidates: %w", err)
		}
		o.emit(u, EventCandidatesExtracted, nil, "", "", map[string]any{"count": len(extracted)})
		candidates = append(append([]model.Candidate(nil), candidates...), extracted...)
	}

	o.mu.Lock()
	u.total = len(candidates)
	u.counts.Candidates = len(candidates)
	o.mu.Unlock()

	for i, c := range candidates {
		if ctx.Err() != nil {
			return StateCancelled, nil
		}
		o.candidate(ctx, u, i, c, &src)
	}

	o.mu.Lock()
	counts := u.counts
	o.mu.Unlock()
	if counts.Failed > 0 {
		o.log.Warn("unit had failed candidates, source left unprocessed", "unit", u.id, "source", src.Ref, "failed", counts.Failed)
		return StateCompleted, nil
	}

	src.Counts = counts
	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), o.candidateTimeout)
	defer fcancel()
	if err := o.ledger.FinalizeSource(fctx, src); err != nil {
		return StateFailed, fmt.Errorf("finalize source: %w", err)
	}
	return StateCompleted, nil
}

// candidate processes one candidate. The commit runs detached from unit
// cancellation so a cancel never interrupts a write.
func (o *Orchestrator) candidate(ctx context.Context, u *unit, i int, c model.Candidate, src *model.Source) {
	idx := i
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.candidateTimeout)
	out, err := o.pipeline.Process(cctx, c, src)
	cancel()

	for _, issue := range out.Issues {
		o.emit(u, EventFieldDropped, &idx, "", issue.Msg, map[string]any{"field": issue.Field, "kind": issue.Kind})
	}

	var outcome string
	switch {
	case core.IsInvalid(err):
		outcome = "invalid"
		o.count(u, func(sc *model.SourceCounts) { sc.Invalid++ })
	case err != nil:
		outcome = "failed"
		o.count(u, func(sc *model.SourceCounts) { sc.Failed++ })
		o.emit(u, EventError, &idx, "", err.Error(), map[string]any{"name": c.Name})
		o.log.Error("candidate failed", "unit", u.id, "candidate", i, "name", c.Name, "error", err)
	default:
		outcome = string(out.Action)
		o.outcomeEvents(u, idx, out)
	}
	o.metrics.Candidate(outcome)

	data := map[string]any{"name": out.Candidate.Name, "outcome": outcome}
	if out.Candidate.Name == "" {
		data["name"] = c.Name
	}
	msg := ""
	if err != nil && outcome == "invalid" {
		msg = err.Error()
	}
	o.mu.Lock()
	u.done++
	o.mu.Unlock()
	o.emit(u, EventCandidateProcessed, &idx, out.EntityID, msg, data)
}

func (o *Orchestrator) outcomeEvents(u *unit, idx int, out core.Outcome) {
	if len(out.Matches) > 0 {
		best := out.Matches[0]
		o.emit(u, EventMatchFound, &idx, best.EntityID, "", map[string]any{"score": best.Score, "matches": len(out.Matches)})
	}

	switch out.Action {
	case model.ActionCreate:
		o.count(u, func(sc *model.SourceCounts) { sc.Created++ })
		o.emit(u, EventEntityCreated, &idx, out.EntityID, "", map[string]any{"fields": out.Report.ChangedFields})
	case model.ActionMerge:
		o.count(u, func(sc *model.SourceCounts) { sc.Merged++ })
		o.emit(u, EventEntityMerged, &idx, out.EntityID, "", map[string]any{
			"changed":             out.Report.Changed,
			"fields":              out.Report.ChangedFields,
			"appended_provenance": out.Report.AppendedProvenance,
		})
	case model.ActionReview:
		o.count(u, func(sc *model.SourceCounts) { sc.Flagged++ })
		o.emit(u, EventReviewFlagged, &idx, out.EntityID, "", map[string]any{"review_id": out.ReviewID})
	}

	for i, id := range out.Conflicts {
		data := map[string]any{"review_id": id}
		if i < len(out.Report.Conflicts) {
			data["field"] = out.Report.Conflicts[i].Field
		}
		o.emit(u, EventFieldConflict, &idx, out.EntityID, "", data)
	}
	if out.Family != nil {
		o.emit(u, EventFamilyAssigned, &idx, out.EntityID, "", map[string]any{
			"family":     out.Family.FamilyName,
			"variant":    out.Family.Variant,
			"confidence": out.Family.Confidence,
		})
	}
	if out.Insights > 0 {
		o.count(u, func(sc *model.SourceCounts) { sc.Insights += out.Insights })
	}
}

func (o *Orchestrator) count(u *unit, fn func(*model.SourceCounts)) {
	o.mu.Lock()
	fn(&u.counts)
	o.mu.Unlock()
}

func (o *Orchestrator) emit(u *unit, typ EventType, candidate *int, entityID, msg string, data map[string]any) {
	o.mu.Lock()
	e := u.record(typ, candidate, entityID, msg, data, o.now())
	o.mu.Unlock()
	o.dispatcher.Emit(e)
}

var terminalEvents = map[State]EventType{
	StateCompleted: EventUnitCompleted,
	StateFailed:    EventUnitFailed,
	StateCancelled: EventUnitCancelled,
}

func (o *Orchestrator) finish(u *unit, state State, err error) {
	o.mu.Lock()
	e, settled := o.settle(u, state, err)
	o.mu.Unlock()
	if settled {
		o.announce(u, e, state, err)
	}
}

// settle moves u into a terminal state and records the closing event. The
// caller holds o.mu. It reports false when u had already finished.
func (o *Orchestrator) settle(u *unit, state State, err error) (Event, bool) {
	if u.state.Terminal() {
		return Event{}, false
	}
	ended := o.now()
	u.state, u.ended = state, &ended
	msg := ""
	if err != nil {
		u.err = err.Error()
		msg = u.err
	}
	e := u.record(terminalEvents[state], nil, "", msg, nil, ended)
	close(u.finish)
	return e, true
}

func (o *Orchestrator) announce(u *unit, e Event, state State, err error) {
	o.dispatcher.Emit(e)
	o.metrics.UnitFinished(string(state))

	if state == StateFailed {
		o.log.Error("unit failed", "unit", u.id, "source", u.req.SourceRef, "error", err)
		return
	}
	o.log.Info("unit finished", "unit", u.id, "source", u.req.SourceRef, "state", state)
}
