package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/agenthands/geargraph/internal/logger"
	"github.com/agenthands/geargraph/internal/metrics"
)

type EventType string

const (
	EventUnitQueued          EventType = "unit_queued"
	EventUnitStarted         EventType = "unit_started"
	EventUnitCompleted       EventType = "unit_completed"
	EventUnitFailed          EventType = "unit_failed"
	EventUnitCancelled       EventType = "unit_cancelled"
	EventSourceSkipped       EventType = "source_skipped"
	EventCandidatesExtracted EventType = "candidates_extracted"
	EventCandidateProcessed  EventType = "candidate_processed"
	EventMatchFound          EventType = "match_found"
	EventEntityCreated       EventType = "entity_created"
	EventEntityMerged        EventType = "entity_merged"
	EventReviewFlagged       EventType = "review_flagged"
	EventFieldConflict       EventType = "field_conflict"
	EventFamilyAssigned      EventType = "family_assigned"
	EventFieldDropped        EventType = "field_dropped"
	EventError               EventType = "error"
)

// Event is one entry of a unit's progress log. Seq starts at 1 and has no gaps.
type Event struct {
	Seq       int            `json:"seq"`
	UnitID    string         `json:"unit_id"`
	Type      EventType      `json:"type"`
	At        time.Time      `json:"at"`
	Candidate *int           `json:"candidate,omitempty"` // index in the unit's candidate list
	EntityID  string         `json:"entity_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventSink observes events. Sinks are fed from a single dispatcher
// goroutine and never from a worker.
type EventSink interface {
	Name() string
	Publish(ctx context.Context, e Event) error
}

// Dispatcher fans events out to sinks through a bounded buffer. When the
// buffer is full the event is dropped for observers; the unit's own log
// still has it.
type Dispatcher struct {
	sinks   []EventSink
	ch      chan Event
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewDispatcher(buffer int, m *metrics.Metrics, log *logger.Logger, sinks ...EventSink) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		sinks:   sinks,
		ch:      make(chan Event, buffer),
		metrics: m,
		log:     log.With("component", "events"),
	}
}

// Emit never blocks.
func (d *Dispatcher) Emit(e Event) {
	if d == nil || len(d.sinks) == 0 {
		return
	}
	select {
	case d.ch <- e:
	default:
		d.metrics.EventDropped("buffer")
		d.log.Warn("event buffer full, dropping event", "unit", e.UnitID, "seq", e.Seq, "type", e.Type)
	}
}

// Run delivers events until ctx is done, then flushes what is buffered.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case e := <-d.ch:
			d.deliver(ctx, e)
		case <-ctx.Done():
			flush := context.WithoutCancel(ctx)
			for {
				select {
				case e := <-d.ch:
					d.deliver(flush, e)
				default:
					return nil
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	for _, s := range d.sinks {
		if err := s.Publish(ctx, e); err != nil {
			d.metrics.EventDropped(s.Name())
			d.log.Warn("event sink failed", "sink", s.Name(), "unit", e.UnitID, "seq", e.Seq, "error", err)
		}
	}
}

// JSONSink writes one JSON document per event.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

func (s *JSONSink) Name() string { return "json" }

func (s *JSONSink) Publish(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(e)
}
