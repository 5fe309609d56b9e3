package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/agenthands/geargraph/internal/core/model"
)

var (
	ErrUnknownUnit  = errors.New("unknown unit")
	ErrUnitFinished = errors.New("unit already finished")
	ErrQueueFull    = errors.New("unit queue is full")
	ErrInvalidUnit  = errors.New("invalid unit")
)

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// UnitRequest is one source to ingest. Candidates may be supplied directly
// by an upstream extractor, or Content is handed to the configured LLM
// extractor. Both may be set.
type UnitRequest struct {
	SourceRef  string            `json:"source_ref" yaml:"source_ref"`
	SourceKind string            `json:"source_kind,omitempty" yaml:"source_kind,omitempty"`
	Title      string            `json:"title,omitempty" yaml:"title,omitempty"`
	Content    string            `json:"content,omitempty" yaml:"content,omitempty"`
	Candidates []model.Candidate `json:"candidates,omitempty" yaml:"candidates,omitempty"`
}

func (r UnitRequest) Validate() error {
	if strings.TrimSpace(r.SourceRef) == "" {
		return errors.New("source_ref is required")
	}
	if len(r.Candidates) == 0 && strings.TrimSpace(r.Content) == "" {
		return errors.New("either candidates or content is required")
	}
	return nil
}

func (r UnitRequest) source() model.Source {
	return model.Source{Ref: strings.TrimSpace(r.SourceRef), Kind: r.SourceKind, Title: r.Title}
}

// UnitSnapshot is a point-in-time copy of a unit's status.
type UnitSnapshot struct {
	ID         string             `json:"id"`
	SourceRef  string             `json:"source_ref"`
	Title      string             `json:"title,omitempty"`
	State      State              `json:"state"`
	Total      int                `json:"total"`
	Processed  int                `json:"processed"`
	Counts     model.SourceCounts `json:"counts"`
	Error      string             `json:"error,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Events     []Event            `json:"events,omitempty"`
}

// unit is owned by the orchestrator and only touched under its mutex.
type unit struct {
	id      string
	req     UnitRequest
	state   State
	total   int
	done    int
	counts  model.SourceCounts
	err     string
	created time.Time
	started *time.Time
	ended   *time.Time
	events  []Event
	cancel  context.CancelFunc
	finish  chan struct{}
}

func (u *unit) snapshot(since int, withEvents bool) UnitSnapshot {
	s := UnitSnapshot{
		ID:         u.id,
		SourceRef:  u.req.SourceRef,
		Title:      u.req.Title,
		State:      u.state,
		Total:      u.total,
		Processed:  u.done,
		Counts:     u.counts,
		Error:      u.err,
		CreatedAt:  u.created,
		StartedAt:  u.started,
		FinishedAt: u.ended,
	}
	if withEvents {
		s.Events = u.eventsSince(since)
	}
	return s
}

// record appends an event. The caller holds the orchestrator mutex.
func (u *unit) record(typ EventType, candidate *int, entityID, msg string, data map[string]any, at time.Time) Event {
	e := Event{
		Seq:       len(u.events) + 1,
		UnitID:    u.id,
		Type:      typ,
		At:        at,
		Candidate: candidate,
		EntityID:  entityID,
		Message:   msg,
		Data:      data,
	}
	u.events = append(u.events, e)
	return e
}

func (u *unit) eventsSince(since int) []Event {
	// events are appended with consecutive sequence numbers starting at 1
	if since < 0 {
		since = 0
	}
	if since >= len(u.events) {
		return []Event{}
	}
	out := make([]Event, len(u.events)-since)
	copy(out, u.events[since:])
	return out
}
