package controller

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the Job Controller, wired the way cuemby-warren's
// pkg/metrics/metrics.go does it: package-level collectors registered once
// in init, a Handler for the scrape endpoint, and a small Timer helper for
// phase durations.
var (
	jobState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "drivesync",
		Subsystem: "job",
		Name:      "state",
		Help:      "Current controller state for a job, 1 for the active state and 0 for all others.",
	}, []string{"job", "state"})

	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drivesync",
		Subsystem: "job",
		Name:      "runs_total",
		Help:      "Completed job runs by terminal outcome.",
	}, []string{"job", "outcome"})

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "drivesync",
		Subsystem: "job",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of a job run phase.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"job", "phase"})

	actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drivesync",
		Subsystem: "job",
		Name:      "actions_total",
		Help:      "Planner actions executed, by variant and outcome.",
	}, []string{"job", "variant", "outcome"})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "drivesync",
		Subsystem: "controller",
		Name:      "queue_depth",
		Help:      "Number of jobs currently waiting in the global run queue.",
	})
)

func init() {
	prometheus.MustRegister(jobState, runsTotal, runDuration, actionsTotal, queueDepth)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// setJobState records job's current state in the gauge vector, clearing
// every other state label for that job so exactly one series reads 1.
func setJobState(job string, state State) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1.0
		}

		jobState.WithLabelValues(job, string(s)).Set(v)
	}
}

var allStates = []State{
	StateNone, StateStarting, StateInitializing, StateIdle, StateQueued,
	StateScanning, StateBackingUp, StateRestoring, StateVerifying, StatePaused,
	StateCompleted, StateCancelling, StateCancelled, StateError, StateDisabled,
}

// timer measures one run phase and records it into runDuration on Stop.
type timer struct {
	job, phase string
	start      time.Time
}

func startTimer(job, phase string) *timer {
	return &timer{job: job, phase: phase, start: time.Now()}
}

func (t *timer) Stop() {
	runDuration.WithLabelValues(t.job, t.phase).Observe(time.Since(t.start).Seconds())
}
