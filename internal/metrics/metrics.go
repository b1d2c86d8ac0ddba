// Package metrics exposes Prometheus counters for the link service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "link_service"

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Metrics implements shortener.Metrics and publisher.Metrics. A nil *Metrics
// records nothing.
type Metrics struct {
	linksCreated      *prometheus.CounterVec
	keyspaceExhausted prometheus.Counter
	linksExpired      prometheus.Counter
	kafkaMessages     *prometheus.CounterVec
}

// New creates and registers all metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		linksCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "links_created_total",
			Help:      "Links created, by code strategy.",
		}, []string{"strategy"}),

		keyspaceExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "keyspace_exhausted_total",
			Help:      "Random code creations that ran out of attempts.",
		}),

		linksExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "links_expired_total",
			Help:      "Deactivated custom links removed by cleanup.",
		}),

		kafkaMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "kafka_messages_total",
			Help:      "Lifecycle events handed to Kafka, by event type and status.",
		}, []string{"event_type", "status"}),
	}
}

func (m *Metrics) LinkCreated(strategy string) {
	if m == nil {
		return
	}
	m.linksCreated.WithLabelValues(strategy).Inc()
}

func (m *Metrics) KeyspaceExhausted() {
	if m == nil {
		return
	}
	m.keyspaceExhausted.Inc()
}

func (m *Metrics) LinksExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.linksExpired.Add(float64(n))
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.kafkaMessages.WithLabelValues(eventType, statusSuccess).Inc()
}

func (m *Metrics) EventPublishFailed(eventType string) {
	if m == nil {
		return
	}
	m.kafkaMessages.WithLabelValues(eventType, statusFailure).Inc()
}
