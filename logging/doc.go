// Package logging provides a minimal logging interface and adapters for agentloop.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// that the loop, executor and flow coordinator use for observability. This
// package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZapAdapter wrapping go.uber.org/zap
//   - StructuredLogger with run / loop context and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	loop := agent.NewLoop(goal, gw, exec, func(o *agent.Options) { o.Logger = logger })
//
// Messages are dotted event names ("loop.cycle.start") and args are
// alternating key/value pairs.
package logging
