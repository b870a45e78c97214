package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Authentication results used as metric labels.
const (
	resultSuccess = "success"
	resultInvalid = "invalid"
	resultFailure = "failure"
	resultExists  = "exists"
)

// Metrics holds the Prometheus collectors of an Authenticator.
// A nil *Metrics records nothing.
type Metrics struct {
	authentications *prometheus.CounterVec
	duration        prometheus.Histogram
	groupOps        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		authentications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crowdauth",
			Name:      "authentications_total",
			Help:      "Authentications by result.",
		}, []string{"result"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crowdauth",
			Name:      "authentication_duration_seconds",
			Help:      "Time spent in a complete authentication.",
			Buckets:   prometheus.DefBuckets,
		}),
		groupOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crowdauth",
			Name:      "group_operations_total",
			Help:      "Directory group operations issued by reconciliation.",
		}, []string{"op", "result"}),
	}
}

func (m *Metrics) observeAuthentication(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.authentications.WithLabelValues(result).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeGroupOp(op Op, result string) {
	if m == nil {
		return
	}
	m.groupOps.WithLabelValues(string(op), result).Inc()
}
