package browser

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/tool"
)

// Tool names published to the registry.
const (
	NavigateToolName = "navigate"
	ReadToolName     = "read_content"
	ActToolName      = "act"
)

type navigateArgs struct {
	URL string `json:"url" description:"Absolute http(s) URL to open"`
	Tab string `json:"tab,omitempty" description:"Tab name; defaults to main"`
}

type readArgs struct {
	Tab string `json:"tab,omitempty" description:"Tab name; defaults to main"`
}

type actArgs struct {
	Action   string `json:"action" enum:"click,type,submit" description:"Interaction to perform"`
	Selector string `json:"selector" description:"#id, .class, tag, [attr=value] or text=Label"`
	Value    string `json:"value,omitempty" description:"Text to enter for type"`
	Tab      string `json:"tab,omitempty" description:"Tab name; defaults to main"`
}

// NewTools returns the browser tools backed by b.
//
// navigate is retryable (loading the same URL twice is harmless),
// read_content is safe and act is non-idempotent. All three observe run
// cancellation.
func NewTools(b Backend) []tool.Tool {
	return []tool.Tool{
		tool.NewFunctionToolFromStruct(NavigateToolName,
			"Open a URL in a browser tab and return the page title, text and interactive elements.",
			navigateArgs{},
			func(ctx context.Context, args map[string]any) (any, error) {
				url, _ := args["url"].(string)
				page, err := b.Navigate(ctx, tabArg(args), url)
				if err != nil {
					return nil, err
				}
				return page.String(), nil
			},
			tool.WithIdempotency(core.IdempotencyRetryable),
		),
		tool.NewFunctionToolFromStruct(ReadToolName,
			"Read the page currently loaded in a browser tab.",
			readArgs{},
			func(ctx context.Context, args map[string]any) (any, error) {
				page, err := b.Read(ctx, tabArg(args))
				if err != nil {
					return nil, err
				}
				return page.String(), nil
			},
			tool.WithIdempotency(core.IdempotencySafe),
		),
		tool.NewFunctionToolFromStruct(ActToolName,
			"Interact with the current page: click an element, type into a field or submit a form.",
			actArgs{},
			func(ctx context.Context, args map[string]any) (any, error) {
				action, _ := args["action"].(string)
				selector, _ := args["selector"].(string)
				value, _ := args["value"].(string)
				page, err := b.Act(ctx, tabArg(args), Command{Action: Action(action), Selector: selector, Value: value})
				if err != nil {
					return nil, err
				}
				return fmt.Sprintf("%s %s done\n%s", action, selector, page.String()), nil
			},
			tool.WithIdempotency(core.IdempotencyNonIdempotent),
		),
	}
}

func tabArg(args map[string]any) string {
	if t, ok := args["tab"].(string); ok && t != "" {
		return t
	}
	return DefaultTab
}
