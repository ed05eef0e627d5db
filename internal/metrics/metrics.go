package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "juror"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Submission path labels.
const (
	PathLive    = "live"
	PathRequest = "request"
)

// Snapshot source labels.
const (
	SourcePull = "pull"
	SourcePush = "push"
)

// Metrics bundles the collectors used by the session and synchronization layer.
type Metrics struct {
	TokenRefreshes    *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	LiveDisconnects   prometheus.Counter
	ScoreSubmissions  *prometheus.CounterVec
	SnapshotsApplied  *prometheus.CounterVec
	DiscardedElements prometheus.Counter
}

// New builds the collectors and registers them when registerer is non-nil.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Access token refresh attempts by outcome.",
		}, []string{"outcome"}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_reconnect_attempts_total",
			Help:      "Scheduled live channel reconnect attempts that fired.",
		}),
		LiveDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_disconnects_total",
			Help:      "Unexpected live channel disconnects.",
		}),
		ScoreSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_submissions_total",
			Help:      "Score submissions by transport path and outcome.",
		}, []string{"path", "outcome"}),
		SnapshotsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_applied_total",
			Help:      "Snapshots applied by source.",
		}, []string{"source"}),
		DiscardedElements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_discarded_elements_total",
			Help:      "Malformed snapshot elements skipped while decoding live payloads.",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.TokenRefreshes,
			m.ReconnectAttempts,
			m.LiveDisconnects,
			m.ScoreSubmissions,
			m.SnapshotsApplied,
			m.DiscardedElements,
		)
	}
	return m
}

// OrNop returns m, or unregistered collectors when m is nil.
func OrNop(m *Metrics) *Metrics {
	if m == nil {
		return New(nil)
	}
	return m
}
