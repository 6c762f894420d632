package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("", reg)

	c.RecordStep("navigate", "success", 100*time.Millisecond)
	c.RecordStep("navigate", "success", 50*time.Millisecond)
	c.RecordStep("", "final", 0)
	c.RecordGateway("ok", time.Second)
	c.RecordGateway("gateway_malformed_response", time.Second)
	c.RecordRetry("tool")
	c.RecordTransition("idle", "running")
	c.RecordSummarization(true)
	c.RecordSummarization(false)
	c.LoopStarted()
	c.LoopStarted()
	c.LoopFinished("done", "final_answer", 2*time.Second)
	c.RecordFlow("partial")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.stepsTotal.WithLabelValues("navigate", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepsTotal.WithLabelValues("none", "final")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.gatewayRequests.WithLabelValues("gateway_malformed_response")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retriesTotal.WithLabelValues("tool")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stateTransitions.WithLabelValues("idle", "running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.summarizationsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeLoops))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loopsTotal.WithLabelValues("done", "final_answer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.flowsTotal.WithLabelValues("partial")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.stepDuration))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["agentloop_steps_total"])
	assert.True(t, names["agentloop_loop_duration_seconds"])
}

func TestNilCollectorIsNoOp(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordStep("x", "success", time.Second)
		c.RecordGateway("ok", time.Second)
		c.RecordRetry("gateway")
		c.RecordTransition("a", "b")
		c.RecordSummarization(true)
		c.LoopStarted()
		c.LoopFinished("done", "", time.Second)
		c.RecordFlow("complete")
	})
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector("a", prometheus.NewRegistry())
		NewCollector("a", prometheus.NewRegistry())
	})
}
