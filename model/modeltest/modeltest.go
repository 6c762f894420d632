// Package modeltest provides deterministic gateways for loop and flow tests.
package modeltest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentloop/core"
)

// ErrScriptExhausted is returned once every scripted decision was consumed.
var ErrScriptExhausted = errors.New("script exhausted")

// Decision configures one gateway turn.
type Decision struct {
	Action core.Action
	Err    error
}

// Call returns a decision invoking the named tool.
func Call(name string, args map[string]any) Decision {
	return Decision{Action: core.NewToolCall(name, args)}
}

// Final returns a decision concluding the loop.
func Final(answer string) Decision {
	return Decision{Action: core.FinalAnswer{Content: answer}}
}

// Malformed returns a decision failing with a malformed response.
func Malformed(detail string) Decision {
	return Decision{Err: fmt.Errorf("%w: %s", core.ErrGatewayMalformedResponse, detail)}
}

// Unavailable returns a decision failing with a transient gateway error.
func Unavailable(detail string) Decision {
	return Decision{Err: fmt.Errorf("%w: %s", core.ErrGatewayUnavailable, detail)}
}

// ScriptedGateway replays decisions in order and records every request.
type ScriptedGateway struct {
	mu        sync.Mutex
	index     int
	decisions []Decision
	requests  []core.DecisionRequest
	// Fallback, when set, is used after the script is exhausted.
	Fallback core.Gateway
}

var _ core.Gateway = (*ScriptedGateway)(nil)

// NewScriptedGateway creates a gateway replaying decisions.
func NewScriptedGateway(decisions ...Decision) *ScriptedGateway {
	cloned := make([]Decision, len(decisions))
	copy(cloned, decisions)
	return &ScriptedGateway{decisions: cloned}
}

// Decide implements core.Gateway.
func (g *ScriptedGateway) Decide(ctx context.Context, req core.DecisionRequest) (core.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.requests = append(g.requests, req)
	if g.index >= len(g.decisions) {
		fallback := g.Fallback
		idx := g.index
		g.index++
		g.mu.Unlock()
		if fallback != nil {
			return fallback.Decide(ctx, req)
		}
		return nil, fmt.Errorf("%w at decision %d", ErrScriptExhausted, idx+1)
	}
	current := g.decisions[g.index]
	g.index++
	g.mu.Unlock()

	if current.Err != nil {
		return nil, current.Err
	}
	if c, ok := current.Action.(core.ToolCall); ok {
		return c.Clone(), nil
	}
	return current.Action, nil
}

// Calls returns how many decisions were requested.
func (g *ScriptedGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// Requests returns a copy of the recorded requests.
func (g *ScriptedGateway) Requests() []core.DecisionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]core.DecisionRequest(nil), g.requests...)
}

// Repeat returns a gateway that always emits the same decision.
func Repeat(d Decision) core.Gateway {
	return core.GatewayFunc(func(ctx context.Context, _ core.DecisionRequest) (core.Action, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if d.Err != nil {
			return nil, d.Err
		}
		if c, ok := d.Action.(core.ToolCall); ok {
			return c.Clone(), nil
		}
		return d.Action, nil
	})
}
