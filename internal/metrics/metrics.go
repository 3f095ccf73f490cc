// Package metrics exposes Prometheus counters for survey activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Advance result labels.
const (
	ResultAdvanced     = "advanced"
	ResultCompleted    = "completed"
	ResultDisqualified = "disqualified"
)

// Recorder wraps the survey counters. A nil Recorder is a no-op so callers
// never need to guard metric calls.
type Recorder struct {
	advances           *prometheus.CounterVec
	validationFailures prometheus.Counter
	backNavigations    prometheus.Counter
	reconciliations    prometheus.Counter
	broadcasts         prometheus.Counter
	storageRetries     prometheus.Counter
	sessionsCreated    prometheus.Counter
}

// NewRecorder registers the survey counters with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		advances: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "survey_advances_total",
			Help: "Accepted forward navigations by outcome.",
		}, []string{"result"}),
		validationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "survey_validation_failures_total",
			Help: "Answers rejected by validation.",
		}),
		backNavigations: factory.NewCounter(prometheus.CounterOpts{
			Name: "survey_back_navigations_total",
			Help: "Accepted backward navigations.",
		}),
		reconciliations: factory.NewCounter(prometheus.CounterOpts{
			Name: "survey_reconciliations_total",
			Help: "Full-state reconciliations accepted from the voice agent.",
		}),
		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "survey_broadcasts_total",
			Help: "Canonical state broadcasts to attached drivers.",
		}),
		storageRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "survey_storage_retries_total",
			Help: "Storage operations that needed at least one retry.",
		}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "survey_sessions_created_total",
			Help: "Fresh sessions created, including corrupt-record restarts.",
		}),
	}
}

// Advance records an accepted forward navigation.
func (r *Recorder) Advance(result string) {
	if r == nil {
		return
	}
	r.advances.WithLabelValues(result).Inc()
}

// ValidationFailure records a rejected answer.
func (r *Recorder) ValidationFailure() {
	if r == nil {
		return
	}
	r.validationFailures.Inc()
}

// BackNavigation records an accepted backward navigation.
func (r *Recorder) BackNavigation() {
	if r == nil {
		return
	}
	r.backNavigations.Inc()
}

// Reconciliation records an accepted agent reconciliation.
func (r *Recorder) Reconciliation() {
	if r == nil {
		return
	}
	r.reconciliations.Inc()
}

// Broadcast records a state broadcast.
func (r *Recorder) Broadcast() {
	if r == nil {
		return
	}
	r.broadcasts.Inc()
}

// StorageRetry records a storage operation that hit transient contention.
func (r *Recorder) StorageRetry() {
	if r == nil {
		return
	}
	r.storageRetries.Inc()
}

// SessionCreated records a fresh session.
func (r *Recorder) SessionCreated() {
	if r == nil {
		return
	}
	r.sessionsCreated.Inc()
}
