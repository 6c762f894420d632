package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/tool/browser"
)

var titlePattern = regexp.MustCompile(`title: (.+)`)

// pageReader navigates, reads the page and answers with the title it saw.
func pageReader(url string) core.Gateway {
	return core.GatewayFunc(func(_ context.Context, req core.DecisionRequest) (core.Action, error) {
		switch len(req.Window.Steps) {
		case 0:
			return core.NewToolCall(browser.NavigateToolName, map[string]any{"url": url}), nil
		case 1:
			return core.NewToolCall(browser.ReadToolName, nil), nil
		default:
			last := req.Window.Steps[len(req.Window.Steps)-1]
			m := titlePattern.FindStringSubmatch(last.Observation())
			if m == nil {
				return core.FinalAnswer{Content: "no title"}, nil
			}
			return core.FinalAnswer{Content: m[1]}, nil
		}
	})
}

func TestBrowserScenarioReportsPageTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>Example Domain</title></head><body><h1>Example Domain</h1></body></html>`)
	}))
	defer srv.Close()

	backend := browser.NewHTTPBackend()
	defer backend.Close()

	reg := registry(t, browser.NewTools(backend)...)
	rec := &eventRecorder{}
	l := New(core.NewGoal("Find the title of the page at "+srv.URL, nil), pageReader(srv.URL), reg,
		fastRetries, func(o *Options) { o.Observer = rec })

	res, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.StatusDone, res.Status)
	assert.Equal(t, "Example Domain", res.Answer)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, browser.NavigateToolName, res.Steps[0].ToolName())
	assert.Equal(t, browser.ReadToolName, res.Steps[1].ToolName())
	assert.Equal(t, 3, rec.count(core.EventStepRecorded))
}
