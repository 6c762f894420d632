// Package metrics exposes Prometheus instrumentation for loops and flows.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "agentloop"

// Collector records loop, step, gateway and flow metrics.
type Collector struct {
	stepsTotal          *prometheus.CounterVec
	stepDuration        *prometheus.HistogramVec
	gatewayRequests     *prometheus.CounterVec
	gatewayDuration     prometheus.Histogram
	retriesTotal        *prometheus.CounterVec
	loopsTotal          *prometheus.CounterVec
	loopDuration        *prometheus.HistogramVec
	stateTransitions    *prometheus.CounterVec
	summarizationsTotal *prometheus.CounterVec
	activeLoops         prometheus.Gauge
	flowsTotal          *prometheus.CounterVec
}

// NewCollector registers the metrics with reg. A nil reg uses the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		stepsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of recorded steps by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		stepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Tool execution duration in seconds, including retries",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		gatewayRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Total number of gateway decisions by status",
			},
			[]string{"status"},
		),
		gatewayDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Gateway decision duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		retriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retried gateway or tool calls",
			},
			[]string{"kind"},
		),
		loopsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loops_total",
				Help:      "Total number of finished loops by terminal status and reason",
			},
			[]string{"status", "reason"},
		),
		loopDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "loop_duration_seconds",
				Help:      "Loop wall time in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"status"},
		),
		stateTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Total number of loop status transitions",
			},
			[]string{"from", "to"},
		),
		summarizationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "summarizations_total",
				Help:      "Total number of memory summarizations by status",
			},
			[]string{"status"},
		),
		activeLoops: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_loops",
				Help:      "Number of loops currently running",
			},
		),
		flowsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flows_total",
				Help:      "Total number of finished flows by status",
			},
			[]string{"status"},
		),
	}
}

// RecordStep counts a recorded step.
func (c *Collector) RecordStep(tool, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	if tool == "" {
		tool = "none"
	}
	c.stepsTotal.WithLabelValues(tool, outcome).Inc()
	c.stepDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordGateway counts a gateway decision. status is "ok" or an error kind.
func (c *Collector) RecordGateway(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.gatewayRequests.WithLabelValues(status).Inc()
	c.gatewayDuration.Observe(duration.Seconds())
}

// RecordRetry counts one retry of the given kind ("gateway" or "tool").
func (c *Collector) RecordRetry(kind string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(kind).Inc()
}

// RecordTransition counts a loop status change.
func (c *Collector) RecordTransition(from, to string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordSummarization counts a memory summarization attempt.
func (c *Collector) RecordSummarization(ok bool) {
	if c == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	c.summarizationsTotal.WithLabelValues(status).Inc()
}

// LoopStarted increments the active loop gauge.
func (c *Collector) LoopStarted() {
	if c == nil {
		return
	}
	c.activeLoops.Inc()
}

// LoopFinished records a terminal loop and decrements the active gauge.
func (c *Collector) LoopFinished(status, reason string, duration time.Duration) {
	if c == nil {
		return
	}
	c.activeLoops.Dec()
	c.loopsTotal.WithLabelValues(status, reason).Inc()
	c.loopDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordFlow counts a finished flow.
func (c *Collector) RecordFlow(status string) {
	if c == nil {
		return
	}
	c.flowsTotal.WithLabelValues(status).Inc()
}
