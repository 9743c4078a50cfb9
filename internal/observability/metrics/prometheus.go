// Package metrics provides Prometheus metrics for the conversion pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	ConversionsReceived   prometheus.Counter
	ConversionsBuilt      prometheus.Counter
	ConversionsDelivered  prometheus.Counter
	ConversionsFailed     prometheus.Counter
	ExtractionWarnings    prometheus.Counter
	ExtractionFallbacks   prometheus.Counter
	BuildDuration         prometheus.Histogram
	DocumentBytes         prometheus.Histogram
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		ConversionsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conversions_received_total",
			Help: "Total consent documents received",
		}),
		ConversionsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conversions_built_total",
			Help: "Total HL7 messages built",
		}),
		ConversionsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conversions_delivered_total",
			Help: "Total HL7 messages delivered to the records system",
		}),
		ConversionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conversions_failed_total",
			Help: "Total failed conversions",
		}),
		ExtractionWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "extraction_warnings_total",
			Help: "Total per-field extraction warnings",
		}),
		ExtractionFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "extraction_fallbacks_total",
			Help: "Conversions that produced a placeholder patient record",
		}),
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "conversion_build_duration_seconds",
			Help:    "Time from document receipt to rendered HL7 message",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		DocumentBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "conversion_document_bytes",
			Help:    "Source document size",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.ConversionsReceived,
		m.ConversionsBuilt,
		m.ConversionsDelivered,
		m.ConversionsFailed,
		m.ExtractionWarnings,
		m.ExtractionFallbacks,
		m.BuildDuration,
		m.DocumentBytes,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
