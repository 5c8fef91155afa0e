// Package metrics exposes prometheus collectors for the daemon's
// supervised processes, circuit breakers, debounced restarts, and IPC
// traffic.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	processStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clier_process_starts_total",
		Help: "Total number of process start attempts.",
	}, []string{"process"})

	processRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clier_process_restarts_total",
		Help: "Total number of automatic restarts.",
	}, []string{"process"})

	processExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clier_process_exits_total",
		Help: "Total number of process exits, labeled by outcome.",
	}, []string{"process", "outcome"})

	stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clier_state_transitions_total",
		Help: "Total number of process state transitions.",
	}, []string{"process", "state"})

	currentStates = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clier_process_current_state",
		Help: "1 for the process's current state, 0 otherwise.",
	}, []string{"process", "state"})

	circuitTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clier_circuit_breaker_trips_total",
		Help: "Total number of times a process's circuit breaker opened.",
	}, []string{"process"})

	circuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clier_circuit_breaker_state",
		Help: "Current circuit breaker state (0=closed,1=open,2=halfOpen).",
	}, []string{"process"})

	debouncedRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clier_debounced_restarts_total",
		Help: "Total number of restarts triggered by debounced file watch events.",
	}, []string{"process"})

	ipcRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clier_ipc_requests_total",
		Help: "Total number of IPC requests handled, labeled by method and outcome.",
	}, []string{"method", "outcome"})

	ipcRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clier_ipc_request_duration_seconds",
		Help:    "IPC request handling latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	processCPUPercent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clier_process_cpu_percent",
		Help: "Last-sampled CPU usage percent of a supervised process.",
	}, []string{"process"})

	processMemoryRSS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clier_process_memory_rss_bytes",
		Help: "Last-sampled resident set size of a supervised process, in bytes.",
	}, []string{"process"})
)

var regOK atomic.Bool

// Register adds every collector to r. Safe to call once; subsequent calls
// are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	collectors := []prometheus.Collector{
		processStarts, processRestarts, processExits, stateTransitions,
		currentStates, circuitTrips, circuitState, debouncedRestarts,
		ipcRequests, ipcRequestDuration, processCPUPercent, processMemoryRSS,
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns the promhttp handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncStart(process string) {
	if !regOK.Load() {
		return
	}
	processStarts.WithLabelValues(process).Inc()
}

func IncRestart(process string) {
	if !regOK.Load() {
		return
	}
	processRestarts.WithLabelValues(process).Inc()
}

func IncExit(process, outcome string) {
	if !regOK.Load() {
		return
	}
	processExits.WithLabelValues(process, outcome).Inc()
}

func RecordStateTransition(process, state string) {
	if !regOK.Load() {
		return
	}
	stateTransitions.WithLabelValues(process, state).Inc()
}

func SetCurrentState(process string, states []string, active string) {
	if !regOK.Load() {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == active {
			v = 1.0
		}
		currentStates.WithLabelValues(process, s).Set(v)
	}
}

func IncCircuitTrip(process string) {
	if !regOK.Load() {
		return
	}
	circuitTrips.WithLabelValues(process).Inc()
}

func SetCircuitState(process string, state int) {
	if !regOK.Load() {
		return
	}
	circuitState.WithLabelValues(process).Set(float64(state))
}

func IncDebouncedRestart(process string) {
	if !regOK.Load() {
		return
	}
	debouncedRestarts.WithLabelValues(process).Inc()
}

func IncIPCRequest(method, outcome string) {
	if !regOK.Load() {
		return
	}
	ipcRequests.WithLabelValues(method, outcome).Inc()
}

func ObserveIPCRequestDuration(method string, seconds float64) {
	if !regOK.Load() {
		return
	}
	ipcRequestDuration.WithLabelValues(method).Observe(seconds)
}

// SetResourceUsage records the most recently sampled CPU percent and RSS
// for a supervised process.
func SetResourceUsage(process string, cpuPercent float64, rssBytes uint64) {
	if !regOK.Load() {
		return
	}
	processCPUPercent.WithLabelValues(process).Set(cpuPercent)
	processMemoryRSS.WithLabelValues(process).Set(float64(rssBytes))
}

// ClearResourceUsage zeroes a process's resource gauges once it has exited,
// so a stopped process doesn't keep reporting its last-known usage.
func ClearResourceUsage(process string) {
	if !regOK.Load() {
		return
	}
	processCPUPercent.WithLabelValues(process).Set(0)
	processMemoryRSS.WithLabelValues(process).Set(0)
}
