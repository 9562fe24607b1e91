package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Idromerom714/parqueadero/internal/protocol"
)

// Metrics are the Prometheus collectors for device traffic. A nil *Metrics
// records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parqueadero",
			Subsystem: "device",
			Name:      "requests_total",
			Help:      "Device requests handled, by command and result",
		}, []string{"command", "result"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "parqueadero",
			Subsystem: "device",
			Name:      "request_duration_seconds",
			Help:      "Time from accept to reply",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),

		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parqueadero",
			Subsystem: "device",
			Name:      "failures_total",
			Help:      "Transport and observer failures, by stage",
		}, []string{"stage"}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.duration, m.failures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(cmd protocol.Command, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.requests.WithLabelValues(cmd.String(), result).Inc()
	m.duration.WithLabelValues(cmd.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) failure(stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage).Inc()
}
