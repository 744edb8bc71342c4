package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dayline"

var (
	once sync.Once

	layoutComputed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layout_computed_total",
			Help:      "Count of day layout passes.",
		},
	)

	appointmentDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_dropped_total",
			Help:      "Count of appointments excluded from layout by reason.",
		},
		[]string{"reason"},
	)

	dragOutcome = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drag_outcome_total",
			Help:      "Count of drag gestures by outcome.",
		},
		[]string{"outcome"},
	)

	activeDrags = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drags_active",
			Help:      "Number of drag gestures currently dragging or pending confirmation.",
		},
	)

	rescheduleCommit = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reschedule_commit_total",
			Help:      "Count of reschedule commits by status.",
		},
		[]string{"status"},
	)

	rescheduleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reschedule_commit_duration_seconds",
			Help:      "Time spent in the persistence call of a reschedule.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			layoutComputed,
			appointmentDropped,
			dragOutcome,
			activeDrags,
			rescheduleCommit,
			rescheduleDuration,
			httpRequests,
		)
	})
}

func IncLayoutComputed() {
	layoutComputed.Inc()
}

func IncAppointmentDropped(reason string) {
	appointmentDropped.WithLabelValues(reason).Inc()
}

func IncDragOutcome(outcome string) {
	dragOutcome.WithLabelValues(outcome).Inc()
}

func SetActiveDrags(n int) {
	activeDrags.Set(float64(n))
}

func IncRescheduleCommit(status string) {
	rescheduleCommit.WithLabelValues(status).Inc()
}

func ObserveRescheduleDuration(seconds float64) {
	rescheduleDuration.Observe(seconds)
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
