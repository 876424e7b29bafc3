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

	processLaunches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackvisor",
			Subsystem: "process",
			Name:      "launches_total",
			Help:      "Number of successful child launches, restarts included.",
		}, []string{"name"},
	)
	processLaunchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackvisor",
			Subsystem: "process",
			Name:      "launch_failures_total",
			Help:      "Number of launches that could not start the command.",
		}, []string{"name"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackvisor",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of restarts after an unexpected exit.",
		}, []string{"name"},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackvisor",
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of observed child exits by outcome (clean or error).",
		}, []string{"name", "outcome"},
	)
	processKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackvisor",
			Subsystem: "process",
			Name:      "shutdown_kills_total",
			Help:      "Number of children force-killed after the shutdown grace period.",
		}, []string{"name"},
	)
	processRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stackvisor",
			Subsystem: "process",
			Name:      "running",
			Help:      "1 while the named child is running, 0 otherwise.",
		}, []string{"name"},
	)
	processRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stackvisor",
			Subsystem: "process",
			Name:      "resident_memory_bytes",
			Help:      "Resident set size of the child sampled on each poll.",
		}, []string{"name"},
	)
	processCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stackvisor",
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage of the child sampled on each poll.",
		}, []string{"name"},
	)

	probeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackvisor",
			Subsystem: "probe",
			Name:      "attempts_total",
			Help:      "Number of health-check attempts by result.",
		}, []string{"result"},
	)
	probeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "stackvisor",
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Wall time of a full probe call including retries.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	stepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackvisor",
			Subsystem: "step",
			Name:      "runs_total",
			Help:      "Number of bootstrap step runs by outcome.",
		}, []string{"name", "outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processLaunches, processLaunchFailures, processRestarts, processExits, processKills,
		processRunning, processRSS, processCPU, probeAttempts, probeDuration, stepRuns,
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

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(name string) {
	if regOK.Load() {
		processLaunches.WithLabelValues(name).Inc()
		processRunning.WithLabelValues(name).Set(1)
	}
}

func IncLaunchFailure(name string) {
	if regOK.Load() {
		processLaunchFailures.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(name).Inc()
	}
}

func IncExit(name string, clean bool) {
	if regOK.Load() {
		outcome := "error"
		if clean {
			outcome = "clean"
		}
		processExits.WithLabelValues(name, outcome).Inc()
		processRunning.WithLabelValues(name).Set(0)
	}
}

func IncShutdownKill(name string) {
	if regOK.Load() {
		processKills.WithLabelValues(name).Inc()
	}
}

func SetStopped(name string) {
	if regOK.Load() {
		processRunning.WithLabelValues(name).Set(0)
	}
}

func SetResources(name string, u Usage) {
	if regOK.Load() {
		processRSS.WithLabelValues(name).Set(float64(u.RSSBytes))
		processCPU.WithLabelValues(name).Set(u.CPUPercent)
	}
}

func IncProbeAttempt(result string) {
	if regOK.Load() {
		probeAttempts.WithLabelValues(result).Inc()
	}
}

func ObserveProbeDuration(seconds float64) {
	if regOK.Load() {
		probeDuration.Observe(seconds)
	}
}

func IncStepRun(name string, ok bool) {
	if regOK.Load() {
		outcome := "failed"
		if ok {
			outcome = "succeeded"
		}
		stepRuns.WithLabelValues(name, outcome).Inc()
	}
}
