package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	backendStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      "starts_total",
			Help:      "Number of successful backend starts.",
		}, []string{"mode"},
	)
	backendStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      "start_failures_total",
			Help:      "Number of failed backend starts by cause.",
		}, []string{"mode", "cause"},
	)
	backendStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      "stops_total",
			Help:      "Number of backend stops by how the process ended.",
		}, []string{"how"},
	)
	backendUnexpectedExits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      "unexpected_exits_total",
			Help:      "Number of backend exits not requested by the host.",
		},
	)
	backendRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      "restarts_total",
			Help:      "Number of user-triggered restarts.",
		},
	)
	backendReadyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      "ready_duration_seconds",
			Help:      "Time from spawn until the backend was considered ready.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      "state_transitions_total",
			Help:      "Number of supervisor state transitions.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		backendStarts, backendStartFailures, backendStops, backendUnexpectedExits,
		backendRestarts, backendReadyDuration, stateTransitions, currentState,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register has succeeded.

func IncStart(mode string) {
	if regOK.Load() {
		backendStarts.WithLabelValues(mode).Inc()
	}
}

func IncStartFailure(mode, cause string) {
	if regOK.Load() {
		backendStartFailures.WithLabelValues(mode, cause).Inc()
	}
}

// IncStop records a stop; how is "graceful", "forced" or "exited".
func IncStop(how string) {
	if regOK.Load() {
		backendStops.WithLabelValues(how).Inc()
	}
}

func IncUnexpectedExit() {
	if regOK.Load() {
		backendUnexpectedExits.Inc()
	}
}

func IncRestart() {
	if regOK.Load() {
		backendRestarts.Inc()
	}
}

func ObserveReadyDuration(mode string, seconds float64) {
	if regOK.Load() {
		backendReadyDuration.WithLabelValues(mode).Observe(seconds)
	}
}

// RecordTransition counts the transition and flips the current-state gauge.
func RecordTransition(from, to string) {
	if !regOK.Load() {
		return
	}
	stateTransitions.WithLabelValues(from, to).Inc()
	currentState.WithLabelValues(from).Set(0)
	currentState.WithLabelValues(to).Set(1)
}
