package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/internal/util"
	"github.com/hupe1980/agentloop/logging"
)

// DefaultSystemPrompt is rendered with {{.Goal}}, {{.Directory}} and {{.Tools}}.
const DefaultSystemPrompt = `You are an autonomous agent. You pursue a single goal by calling one tool at a time and reading its observation before deciding on the next step.
The working directory is: {{default "." .Directory}}
Available tools: {{join ", " .Tools}}.
When the goal is met, or it cannot be met, call the final_answer function with your answer.`

// DefaultNextStepPrompt closes every decision request.
const DefaultNextStepPrompt = `Based on the goal and the history above, choose the single most useful next action. Failed steps are part of the history; do not repeat a failing call unchanged. If the goal is complete, call final_answer.`

// GatewayOptions configure a Gateway.
type GatewayOptions struct {
	// SystemPrompt is a text/template rendered per decision.
	SystemPrompt string
	// NextStepPrompt is appended after the memory window.
	NextStepPrompt string
	// Directory fills the {{.Directory}} placeholder.
	Directory string
	// StrictToolUse treats plain text replies as malformed instead of final answers.
	StrictToolUse bool
	// Stream requests streaming generation from the provider.
	Stream bool
	// Limiter throttles provider calls when set.
	Limiter *rate.Limiter
	// TokenCounter measures prompt size for logging when set.
	TokenCounter core.TokenCounter
	Logger       logging.Logger
}

// Gateway implements core.Gateway on top of a provider Model.
type Gateway struct {
	model Model
	opts  GatewayOptions
}

var _ core.Gateway = (*Gateway)(nil)

// NewGateway wraps a Model.
func NewGateway(m Model, optFns ...func(o *GatewayOptions)) *Gateway {
	opts := GatewayOptions{
		SystemPrompt:   DefaultSystemPrompt,
		NextStepPrompt: DefaultNextStepPrompt,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Gateway{model: m, opts: opts}
}

type promptData struct {
	Goal      string
	Directory string
	Tools     []string
	Metadata  map[string]string
}

// BuildRequest renders the provider request for a decision.
func (g *Gateway) BuildRequest(req core.DecisionRequest) (Request, error) {
	names := make([]string, 0, len(req.Tools)+1)
	defs := make([]ToolDefinition, 0, len(req.Tools)+1)
	for _, spec := range req.Tools {
		names = append(names, spec.Name)
		defs = append(defs, toolDefinition(spec))
	}
	names = append(names, core.FinalAnswerTool)
	defs = append(defs, finalAnswerDefinition())

	instructions, err := util.RenderTemplate(g.opts.SystemPrompt, promptData{
		Goal:      req.Goal.Text,
		Directory: g.opts.Directory,
		Tools:     names,
		Metadata:  req.Goal.Metadata,
	})
	if err != nil {
		return Request{}, fmt.Errorf("render system prompt: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", req.Goal.Text)
	if !req.Window.Empty() {
		b.WriteString("\nHistory:\n")
		b.WriteString(req.Window.Render())
	}
	if g.opts.NextStepPrompt != "" {
		b.WriteString("\n")
		b.WriteString(g.opts.NextStepPrompt)
	}

	return Request{
		Instructions: instructions,
		Messages:     []Message{{Role: RoleUser, Content: b.String()}},
		Tools:        defs,
		Stream:       g.opts.Stream,
	}, nil
}

// Decide implements core.Gateway.
func (g *Gateway) Decide(ctx context.Context, req core.DecisionRequest) (core.Action, error) {
	mreq, err := g.BuildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrGatewayMalformedResponse, err)
	}

	if g.opts.Limiter != nil {
		if err := g.opts.Limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: rate limiter: %v", core.ErrGatewayUnavailable, err)
		}
	}

	tokens := 0
	if g.opts.TokenCounter != nil {
		tokens = g.opts.TokenCounter.Count(mreq.Instructions) + g.opts.TokenCounter.Count(mreq.Messages[0].Content)
	}

	start := time.Now()
	resp, err := Collect(ctx, g.model, mreq)
	dur := time.Since(start)
	if sl, ok := g.opts.Logger.(*logging.StructuredLogger); ok {
		sl.LogGatewayCall(g.model.Info().Name, tokens, dur, err)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.opts.Logger.Warn("gateway.call.failed",
			"model", g.model.Info().Name, "duration_ms", dur.Milliseconds(), "error", err)
		return nil, fmt.Errorf("%w: %w", core.ErrGatewayUnavailable, err)
	}

	g.opts.Logger.Debug("gateway.call.completed",
		"model", g.model.Info().Name, "prompt_tokens", tokens,
		"finish_reason", resp.FinishReason, "duration_ms", dur.Milliseconds())

	return g.parse(resp)
}

// parse turns one provider reply into exactly one Action.
func (g *Gateway) parse(resp Response) (core.Action, error) {
	if len(resp.ToolCalls) > 0 {
		if len(resp.ToolCalls) > 1 {
			g.opts.Logger.Warn("gateway.response.multiple_calls",
				"count", len(resp.ToolCalls), "used", resp.ToolCalls[0].Function.Name)
		}
		return ParseToolCall(resp.ToolCalls[0])
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty reply (finish reason %q)", core.ErrGatewayMalformedResponse, resp.FinishReason)
	}
	if g.opts.StrictToolUse {
		return nil, fmt.Errorf("%w: reply carried text but no function call", core.ErrGatewayMalformedResponse)
	}
	return core.FinalAnswer{Content: text}, nil
}

// ParseToolCall converts a provider tool call into an Action. A call to
// final_answer yields core.FinalAnswer.
func ParseToolCall(tc ToolCall) (core.Action, error) {
	name := strings.TrimSpace(tc.Function.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: function call without name", core.ErrGatewayMalformedResponse)
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("%w: arguments of %s are not a JSON object: %v", core.ErrGatewayMalformedResponse, name, err)
		}
		if args == nil {
			args = map[string]any{}
		}
	}

	if name == core.FinalAnswerTool {
		answer, ok := args["answer"].(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s requires a string answer", core.ErrGatewayMalformedResponse, core.FinalAnswerTool)
		}
		return core.FinalAnswer{Content: answer}, nil
	}

	id := tc.ID
	if id == "" {
		id = core.NewID()
	}
	return core.ToolCall{ID: id, Name: name, Arguments: args}, nil
}

func toolDefinition(spec core.ToolSpec) ToolDefinition {
	params := spec.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return ToolDefinition{
		Type: "function",
		Function: FunctionDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  params,
		},
	}
}

func finalAnswerDefinition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: FunctionDefinition{
			Name:        core.FinalAnswerTool,
			Description: "Conclude the task and return the final answer to the user.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"answer": map[string]any{
						"type":        "string",
						"description": "The final answer.",
					},
				},
				"required": []string{"answer"},
			},
		},
	}
}

// IsMalformed reports whether err marks an unparseable reply.
func IsMalformed(err error) bool { return errors.Is(err, core.ErrGatewayMalformedResponse) }
