package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Candidate("created")
	m.Candidate("created")
	m.Candidate("merged")
	m.CommitAttempt("commit", nil)
	m.CommitAttempt("commit", errors.New("timeout"))
	m.EventDropped("redis")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.candidates.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commitAttempts.WithLabelValues("commit", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.droppedEvents.WithLabelValues("redis")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Candidate("created")
		m.UnitFinished("completed")
		m.SetPendingReviews(3)
		m.ObserveCommit(0.1)
	})
}
