package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the registration module.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Submissions         *prometheus.CounterVec
	TeamOutcomes        *prometheus.CounterVec
	TeamRaceRetries     prometheus.Counter
	DuplicateRejections *prometheus.CounterVec
	SubmitDuration      prometheus.Histogram
	OutboxPublished     prometheus.Counter
	OutboxFailures      prometheus.Counter
}

// New registers the registration metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "int20h_submissions_total",
			Help: "Registration submissions by result (ok or the rejection kind)",
		}, []string{"result"}),
		TeamOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "int20h_team_outcomes_total",
			Help: "Team resolution outcomes of committed submissions",
		}, []string{"outcome"}),
		TeamRaceRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "int20h_team_race_retries_total",
			Help: "Team creations that lost the unique-constraint race and retried the lookup",
		}),
		DuplicateRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "int20h_duplicate_rejections_total",
			Help: "Submissions rejected as duplicates, by contact field",
		}, []string{"field"}),
		SubmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "int20h_submit_duration_seconds",
			Help:    "Duration of Submit, validation through commit",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		OutboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "int20h_outbox_published_total",
			Help: "Outbox entries delivered to the broker",
		}),
		OutboxFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "int20h_outbox_publish_failures_total",
			Help: "Outbox relay batches that failed to publish",
		}),
	}
}

// ObserveSubmission records the result label and duration of one Submit call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveSubmission(result string, start time.Time) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(result).Inc()
	m.SubmitDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementTeamOutcome(outcome string) {
	if m == nil {
		return
	}
	m.TeamOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementTeamRaceRetry() {
	if m == nil {
		return
	}
	m.TeamRaceRetries.Inc()
}

func (m *Metrics) IncrementDuplicate(field string) {
	if m == nil {
		return
	}
	m.DuplicateRejections.WithLabelValues(field).Inc()
}

func (m *Metrics) AddOutboxPublished(n int) {
	if m == nil {
		return
	}
	m.OutboxPublished.Add(float64(n))
}

func (m *Metrics) IncrementOutboxFailure() {
	if m == nil {
		return
	}
	m.OutboxFailures.Inc()
}
