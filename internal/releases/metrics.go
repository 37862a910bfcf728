package releases

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the release workflow.
type Metrics struct {
	transitions    *prometheus.CounterVec
	notifyFailures prometheus.Counter
}

// NewMetrics registers the workflow metrics. When the registerer is nil the
// default Prometheus registerer is used.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "platform_release_transitions_total",
			Help: "Release status transition attempts by edge and result.",
		}, []string{"from", "to", "result"}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platform_release_notify_failures_total",
			Help: "Status change notifications that could not be enqueued.",
		}),
	}
	for _, c := range []prometheus.Collector{m.transitions, m.notifyFailures} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, fmt.Errorf("releases: register metrics: %w", err)
			}
			switch existing := already.ExistingCollector.(type) {
			case *prometheus.CounterVec:
				m.transitions = existing
			case prometheus.Counter:
				m.notifyFailures = existing
			}
		}
	}
	return m, nil
}

func (m *Metrics) transition(from, to Status, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to), result).Inc()
}

func (m *Metrics) notifyFailed() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}
