// Package browser exposes browser control to loops as three tools
// (navigate, read_content, act) backed by a Backend. An HTTP backend built
// on net/http and golang.org/x/net/html ships by default; headless browser
// drivers can be plugged in behind the same interface.
package browser

import (
	"context"
	"fmt"
	"strings"
)

// DefaultTab is used when a call does not name a tab.
const DefaultTab = "main"

// Action is an interaction performed by act.
type Action string

const (
	ActionClick  Action = "click"
	ActionType   Action = "type"
	ActionSubmit Action = "submit"
)

// Command is a single interaction on the current page of a tab.
type Command struct {
	Action   Action `json:"action"`
	Selector string `json:"selector"`
	Value    string `json:"value,omitempty"`
}

// PageElement is an interactive element advertised to the model.
type PageElement struct {
	Tag      string `json:"tag"`
	Selector string `json:"selector"`
	Text     string `json:"text,omitempty"`
	Type     string `json:"type,omitempty"`
}

// PageState describes the page currently loaded in a tab.
type PageState struct {
	Tab      string        `json:"tab"`
	URL      string        `json:"url"`
	Status   int           `json:"status,omitempty"`
	Title    string        `json:"title"`
	Content  string        `json:"content,omitempty"`
	Elements []PageElement `json:"elements,omitempty"`
}

// String renders the page for the model.
func (p *PageState) String() string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "tab: %s\nurl: %s\ntitle: %s\n", p.Tab, p.URL, p.Title)
	if p.Content != "" {
		b.WriteString("content: ")
		b.WriteString(p.Content)
		b.WriteString("\n")
	}
	if len(p.Elements) > 0 {
		b.WriteString("elements:\n")
		for _, e := range p.Elements {
			fmt.Fprintf(&b, "- %s", e.Selector)
			if e.Text != "" {
				fmt.Fprintf(&b, " %q", e.Text)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Backend is the browser-automation black box. Implementations must be safe
// for concurrent use across tabs.
type Backend interface {
	Navigate(ctx context.Context, tab, url string) (*PageState, error)
	Read(ctx context.Context, tab string) (*PageState, error)
	Act(ctx context.Context, tab string, cmd Command) (*PageState, error)
	Tabs() []string
	Close() error
}
