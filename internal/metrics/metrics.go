package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jwrapper"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	invocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "child",
			Name:      "invocations_total",
			Help:      "Number of child launches.",
		}, []string{"name"},
	)
	failedInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "child",
			Name:      "failed_invocations_total",
			Help:      "Number of invocations that exited before the successful invocation time.",
		}, []string{"name"},
	)
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "child",
			Name:      "restarts_total",
			Help:      "Number of restart requests by mode.",
		}, []string{"name", "mode"},
	)
	kills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "child",
			Name:      "kills_total",
			Help:      "Number of children forcibly killed.",
		}, []string{"name"},
	)
	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "child",
			Name:      "exits_total",
			Help:      "Number of child exits by exit code.",
		}, []string{"name", "code"},
	)
	invocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "child",
			Name:      "invocation_duration_seconds",
			Help:      "How long each invocation ran before it exited.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 14400, 86400},
		}, []string{"name"},
	)
	failedInRow = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "child",
			Name:      "failed_invocations_in_row",
			Help:      "Current count of consecutive failed invocations.",
		}, []string{"name"},
	)
	droppedLogs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "logger",
			Name:      "queue_dropped_total",
			Help:      "Queued log messages overwritten before they could be drained.",
		},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "transitions_total",
			Help:      "Number of state transitions per state machine.",
		}, []string{"machine", "from", "to"},
	)

	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "current",
			Help:      "Current state of each state machine (1 = active state, 0 = inactive).",
		}, []string{"machine", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		invocations, failedInvocations, restarts, kills, exits, invocationDuration,
		failedInRow, droppedLogs, stateTransitions, currentStates,
		usageCPU, usageRSS, usageThreads,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncInvocation(name string) {
	if regOK.Load() {
		invocations.WithLabelValues(name).Inc()
	}
}

func IncFailedInvocation(name string, inRow int) {
	if regOK.Load() {
		failedInvocations.WithLabelValues(name).Inc()
		failedInRow.WithLabelValues(name).Set(float64(inRow))
	}
}

func ResetFailedInvocations(name string) {
	if regOK.Load() {
		failedInRow.WithLabelValues(name).Set(0)
	}
}

func IncRestart(name, mode string) {
	if regOK.Load() {
		restarts.WithLabelValues(name, mode).Inc()
	}
}

func IncKill(name string) {
	if regOK.Load() {
		kills.WithLabelValues(name).Inc()
	}
}

func ObserveExit(name string, code int, seconds float64) {
	if regOK.Load() {
		exits.WithLabelValues(name, strconv.Itoa(code)).Inc()
		invocationDuration.WithLabelValues(name).Observe(seconds)
	}
}

func SetDroppedLogs(n uint64) {
	if regOK.Load() {
		droppedLogs.Set(float64(n))
	}
}

func RecordStateTransition(machine, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(machine, from, to).Inc()
	}
}

// SetCurrentState marks state as the active one of machine and clears the
// previous one.
func SetCurrentState(machine, previous, state string) {
	if regOK.Load() {
		if previous != "" && previous != state {
			currentStates.WithLabelValues(machine, previous).Set(0)
		}
		currentStates.WithLabelValues(machine, state).Set(1)
	}
}
