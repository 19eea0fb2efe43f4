package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "auth_session"

// Metrics are the counters a supervisor reports. Every supervisor sharing a registry must share
// one Metrics value, since collectors can only be registered once.
type Metrics struct {
	RefreshAttempts  prometheus.Counter
	RefreshCoalesced prometheus.Counter
	RefreshAdopted   prometheus.Counter
	RefreshFailures  prometheus.Counter
	Logouts          *prometheus.CounterVec
	StoreErrors      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RefreshAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refresh_attempts_total",
			Help:      "Refresh calls made to the identity provider",
		}),
		RefreshCoalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refresh_coalesced_total",
			Help:      "Callers that shared an in-flight refresh",
		}),
		RefreshAdopted: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refresh_adopted_total",
			Help:      "Refreshes avoided by adopting a newer set from the store",
		}),
		RefreshFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refresh_failures_total",
			Help:      "Refresh calls that ended the session",
		}),
		Logouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logouts_total",
			Help:      "Sessions ended, by reason",
		}, []string{"reason"}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "store_errors_total",
			Help:      "Token store operations that failed and degraded the session to memory",
		}, []string{"op"}),
	}
}
