package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the movement engine.
type Metrics struct {
	// Recalculation Metrics
	Recalculations      *prometheus.CounterVec
	RecalcDuration      *prometheus.HistogramVec
	IgnoredUpdates      *prometheus.CounterVec
	Transitions         *prometheus.CounterVec
	DistanceKilometers  *prometheus.GaugeVec
	SpeedKilometersHour *prometheus.GaugeVec

	// Event Bus Metrics
	EventsPublished *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
)

// InitMetrics initializes the Prometheus metrics.
// This should be called once at startup before any metrics are recorded.
func InitMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	// A recalculation touches no I/O, so buckets run from 1µs to 100ms.
	latencyBuckets := []float64{
		0.000001, // 1µs
		0.000005, // 5µs
		0.00001,  // 10µs
		0.00005,  // 50µs
		0.0001,   // 100µs
		0.0005,   // 500µs
		0.001,    // 1ms
		0.005,    // 5ms
		0.01,     // 10ms
		0.05,     // 50ms
		0.1,      // 100ms
	}

	m := &Metrics{
		Recalculations: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "movement_recalculations_total",
				Help: "Total number of recalculations by change type and outcome",
			},
			[]string{"change", "status"},
		),

		RecalcDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "movement_recalculation_duration_seconds",
				Help:    "Time taken for one recalculation",
				Buckets: latencyBuckets,
			},
			[]string{"change"},
		),

		IgnoredUpdates: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "movement_ignored_updates_total",
				Help: "Location updates skipped for accuracy, debounce or missing location",
			},
			[]string{"reason"},
		),

		Transitions: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "movement_transitions_total",
				Help: "Recalculations that could not finalize speed or mode",
			},
			[]string{"reason"},
		),

		DistanceKilometers: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "movement_distance_km",
				Help: "Cumulative distance traveled today",
			},
			[]string{"entity"},
		),

		SpeedKilometersHour: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "movement_speed_kmh",
				Help: "Most recent speed estimate, 0 while unknown",
			},
			[]string{"entity"},
		),

		EventsPublished: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "movement_events_published_total",
				Help: "Total number of events published to a bus",
			},
			[]string{"bus", "event_type"},
		),

		EventsDropped: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "movement_events_dropped_total",
				Help: "Total number of events dropped due to slow subscribers",
			},
			[]string{"bus", "event_type"},
		),
	}

	defaultMetrics = m
	return m
}

// Default returns the default metrics instance.
// If InitMetrics hasn't been called, it will initialize with the default registry.
func Default() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics(nil)
	}
	return defaultMetrics
}

// Published implements event.PublishObserver.
func (m *Metrics) Published(bus, eventType string) {
	m.EventsPublished.WithLabelValues(bus, eventType).Inc()
}

// Dropped implements event.PublishObserver.
func (m *Metrics) Dropped(bus, eventType string) {
	m.EventsDropped.WithLabelValues(bus, eventType).Inc()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Observe records the elapsed time in seconds to the given histogram.
func (t *Timer) Observe(histogram prometheus.Observer) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Elapsed returns the time elapsed since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
