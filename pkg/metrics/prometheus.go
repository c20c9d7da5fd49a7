// Package metrics provides Prometheus metrics for the gavel trial engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	registry *prometheus.Registry

	// Action log
	eventsAppended  *prometheus.CounterVec
	eventsDuplicate prometheus.Counter
	eventsStale     prometheus.Counter

	// Phase machine
	phaseAdvances   *prometheus.CounterVec
	advanceRejected *prometheus.CounterVec

	// Replication
	subscriberCount prometheus.Gauge
	fanoutDepth     prometheus.Gauge
	fanoutDropped   prometheus.Counter

	// Scoring
	scoringApplied prometheus.Counter
	scoringSkipped prometheus.Counter

	// Power-ups
	powerupActivations *prometheus.CounterVec
	powerupRejected    *prometheus.CounterVec

	// Judgment service
	judgmentRequests prometheus.Counter
	judgmentTimeouts prometheus.Counter
	judgmentLatency  prometheus.Histogram

	// Sessions
	activeSessions prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance backed by a custom registry so that the
// default Go collectors do not pollute the scrape.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(prometheus.NewRegistry())
}

// NewManager creates a metrics manager registering all series on reg.
func NewManager(reg *prometheus.Registry) *Manager {
	factory := promauto.With(reg)
	m := &Manager{registry: reg}

	m.eventsAppended = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gavel", Subsystem: "log", Name: "events_appended_total",
		Help: "Action events accepted into the log, by event type.",
	}, []string{"type"})
	m.eventsDuplicate = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "gavel", Subsystem: "log", Name: "events_duplicate_total",
		Help: "Appends short-circuited because the event id was already recorded.",
	})
	m.eventsStale = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "gavel", Subsystem: "log", Name: "events_stale_total",
		Help: "Appends rejected by the phase-at-emission check.",
	})

	m.phaseAdvances = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gavel", Subsystem: "phase", Name: "advances_total",
		Help: "Accepted phase transitions, by destination phase.",
	}, []string{"to"})
	m.advanceRejected = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gavel", Subsystem: "phase", Name: "advance_rejected_total",
		Help: "Rejected advance requests, by reason.",
	}, []string{"reason"})

	m.subscriberCount = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "gavel", Subsystem: "bus", Name: "subscribers",
		Help: "Currently attached event stream subscribers.",
	})
	m.fanoutDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "gavel", Subsystem: "bus", Name: "fanout_depth",
		Help: "Events buffered for delivery across all subscribers.",
	})
	m.fanoutDropped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "gavel", Subsystem: "bus", Name: "fanout_dropped_total",
		Help: "Subscriber streams closed due to a full delivery buffer.",
	})

	m.scoringApplied = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "gavel", Subsystem: "scoring", Name: "events_applied_total",
		Help: "Scorable events folded into a participant score state.",
	})
	m.scoringSkipped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "gavel", Subsystem: "scoring", Name: "events_skipped_total",
		Help: "Events ignored by the scoring watermark.",
	})

	m.powerupActivations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gavel", Subsystem: "powerup", Name: "activations_total",
		Help: "Power-up activations, by type.",
	}, []string{"type"})
	m.powerupRejected = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gavel", Subsystem: "powerup", Name: "rejected_total",
		Help: "Rejected power-up activations, by reason.",
	}, []string{"reason"})

	m.judgmentRequests = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "gavel", Subsystem: "judgment", Name: "requests_total",
		Help: "Requests dispatched to the judgment service.",
	})
	m.judgmentTimeouts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "gavel", Subsystem: "judgment", Name: "timeouts_total",
		Help: "Judgment requests that exceeded the configured deadline.",
	})
	m.judgmentLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gavel", Subsystem: "judgment", Name: "latency_seconds",
		Help:    "Judgment request round-trip latency.",
		Buckets: prometheus.DefBuckets,
	})

	m.activeSessions = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "gavel", Subsystem: "session", Name: "active",
		Help: "Sessions currently open.",
	})

	m.httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gavel", Subsystem: "http", Name: "requests_total",
		Help: "HTTP requests, by endpoint and status code.",
	}, []string{"endpoint", "code"})
	m.httpRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gavel", Subsystem: "http", Name: "request_duration_seconds",
		Help:    "HTTP request duration, by endpoint.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	return m
}

// Handler returns the scrape handler for the global registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(globalManager.registry, promhttp.HandlerOpts{})
}

// Package-level recording helpers against the global manager.

func RecordEventAppended(eventType string) {
	globalManager.eventsAppended.WithLabelValues(eventType).Inc()
}
func RecordDuplicateEvent() { globalManager.eventsDuplicate.Inc() }
func RecordStaleEvent()     { globalManager.eventsStale.Inc() }

func RecordPhaseAdvance(to string) { globalManager.phaseAdvances.WithLabelValues(to).Inc() }
func RecordAdvanceRejected(reason string) {
	globalManager.advanceRejected.WithLabelValues(reason).Inc()
}

func UpdateSubscriberCount(n int) { globalManager.subscriberCount.Set(float64(n)) }
func UpdateFanoutDepth(n int)     { globalManager.fanoutDepth.Set(float64(n)) }
func RecordFanoutDrop()           { globalManager.fanoutDropped.Inc() }
func RecordScoringApplied()       { globalManager.scoringApplied.Inc() }
func RecordScoringSkipped()       { globalManager.scoringSkipped.Inc() }
func UpdateActiveSessions(n int)  { globalManager.activeSessions.Set(float64(n)) }

func RecordPowerupActivation(typ string) {
	globalManager.powerupActivations.WithLabelValues(typ).Inc()
}
func RecordPowerupRejected(reason string) {
	globalManager.powerupRejected.WithLabelValues(reason).Inc()
}

func RecordJudgmentRequest()                { globalManager.judgmentRequests.Inc() }
func RecordJudgmentTimeout()                { globalManager.judgmentTimeouts.Inc() }
func RecordJudgmentLatency(seconds float64) { globalManager.judgmentLatency.Observe(seconds) }

func RecordHTTPRequest(endpoint, code string) {
	globalManager.httpRequests.WithLabelValues(endpoint, code).Inc()
}
func RecordHTTPDuration(endpoint string, seconds float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint).Observe(seconds)
}
