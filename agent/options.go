package agent

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/metrics"
	"github.com/hupe1980/agentloop/model/tokenizer"
)

// Options configure a Loop.
type Options struct {
	// MaxSteps bounds recorded steps; 0 means unlimited.
	MaxSteps int

	// Threshold is the memory window size T. Summarization is due once more
	// than T raw steps are held; the newest T/2 always survive it.
	Threshold int
	// MemoryCapacity bounds raw steps held before summarization is forced.
	MemoryCapacity int
	// WindowSize limits raw steps sent to the gateway (0 sends all raw steps).
	WindowSize int
	// MaxContextTokens bounds the rendered window; 0 disables the check.
	MaxContextTokens int
	// TokenCounter measures the rendered window (default tokenizer.Estimator).
	TokenCounter core.TokenCounter
	// Summarizer writes memory records (default memory.ExtractiveSummarizer).
	Summarizer core.Summarizer
	// Archive receives collapsed steps. Optional.
	Archive core.Archive

	// MaxAttempts bounds attempts per gateway call and per retryable tool call.
	MaxAttempts int
	// InitialBackoff and MaxBackoff shape the exponential retry delay.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// GatewayTimeout bounds each gateway attempt.
	GatewayTimeout time.Duration
	// ToolTimeout bounds each tool attempt; ToolTimeouts overrides it per tool.
	ToolTimeout  time.Duration
	ToolTimeouts map[string]time.Duration

	// MalformedCeiling consecutive malformed replies fail the loop.
	MalformedCeiling int
	// UnknownToolCeiling consecutive calls to unregistered tools fail the loop.
	UnknownToolCeiling int
	// IdenticalFailureCeiling consecutive steps failing with the same
	// signature fail the loop. 0 uses the step budget, so only a failure that
	// recurs across every budgeted step is fatal.
	IdenticalFailureCeiling int

	Observer       core.Observer
	Logger         logging.Logger
	Metrics        *metrics.Collector
	TracerProvider trace.TracerProvider
}

// DefaultOptions returns the defaults applied by New.
func DefaultOptions() Options {
	return Options{
		MaxSteps:           30,
		Threshold:          16,
		MemoryCapacity:     64,
		TokenCounter:       tokenizer.Estimator,
		MaxAttempts:        3,
		InitialBackoff:     200 * time.Millisecond,
		MaxBackoff:         5 * time.Second,
		GatewayTimeout:     60 * time.Second,
		ToolTimeout:        30 * time.Second,
		MalformedCeiling:   3,
		UnknownToolCeiling: 3,
	}
}

func (o *Options) normalize() {
	d := DefaultOptions()
	if o.MaxSteps < 0 {
		o.MaxSteps = 0
	}
	if o.Threshold < 2 {
		o.Threshold = d.Threshold
	}
	if o.MemoryCapacity <= o.Threshold {
		o.MemoryCapacity = o.Threshold * 4
	}
	if o.TokenCounter == nil {
		o.TokenCounter = d.TokenCounter
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = d.InitialBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.GatewayTimeout <= 0 {
		o.GatewayTimeout = d.GatewayTimeout
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = d.ToolTimeout
	}
	if o.MalformedCeiling < 1 {
		o.MalformedCeiling = d.MalformedCeiling
	}
	if o.UnknownToolCeiling < 1 {
		o.UnknownToolCeiling = d.UnknownToolCeiling
	}
	if o.IdenticalFailureCeiling < 1 {
		o.IdenticalFailureCeiling = o.MaxSteps
		if o.MaxSteps == 0 {
			o.IdenticalFailureCeiling = d.MaxSteps
		}
	}
	o.Logger = logging.OrNoOp(o.Logger)
}
