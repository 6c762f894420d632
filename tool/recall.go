package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentloop/core"
)

// RecallToolName is the registered name of the archive search tool.
const RecallToolName = "recall"

type recallArgs struct {
	Query string `json:"query" description:"Text to look for in steps that were summarized away"`
	Limit int    `json:"limit,omitempty" description:"Maximum number of results (default 5)"`
}

// NewRecallTool exposes archive search to the model so details collapsed out
// of the window can be looked up again. The loop is identified through the
// core.CallInfo attached by the executor.
func NewRecallTool(archive core.Archive) *FunctionTool {
	return NewFunctionToolFromStruct(
		RecallToolName,
		"Search earlier steps of this run that were summarized out of the visible history.",
		recallArgs{},
		func(ctx context.Context, args map[string]any) (any, error) {
			info, ok := core.CallInfoFrom(ctx)
			if !ok || info.LoopID == "" {
				return nil, errors.New("recall: no loop bound to call")
			}
			query, _ := args["query"].(string)
			limit := 5
			if v, ok := args["limit"].(float64); ok && v > 0 {
				limit = int(v)
			} else if v, ok := args["limit"].(int); ok && v > 0 {
				limit = v
			}

			results, err := archive.Search(ctx, info.LoopID, query, limit)
			if err != nil {
				return nil, fmt.Errorf("recall: %w", err)
			}
			if len(results) == 0 {
				return "no archived steps match", nil
			}
			out := make([]string, 0, len(results))
			for _, r := range results {
				out = append(out, r.Content)
			}
			return strings.Join(out, "\n"), nil
		},
		WithIdempotency(core.IdempotencySafe),
	)
}
