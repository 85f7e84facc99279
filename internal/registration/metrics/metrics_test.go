package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.ObserveSubmission("ok", time.Now())
	m.ObserveSubmission("ok", time.Now())
	m.IncrementTeamOutcome("joined_existing")
	m.IncrementTeamRaceRetry()
	m.IncrementDuplicate("email")
	m.AddOutboxPublished(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Submissions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TeamOutcomes.WithLabelValues("joined_existing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TeamRaceRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicateRejections.WithLabelValues("email")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OutboxPublished))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSubmission("ok", time.Now())
		m.IncrementTeamOutcome("created_as_leader")
		m.IncrementTeamRaceRetry()
		m.IncrementDuplicate("telegram")
		m.AddOutboxPublished(1)
		m.IncrementOutboxFailure()
	})
}
