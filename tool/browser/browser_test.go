package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexPage = `<!doctype html>
<html><head><title>Example Domain</title><style>p{color:red}</style></head>
<body>
  <h1>Example Domain</h1>
  <p>This domain is for use in examples. <a href="/more">More information</a></p>
  <form id="search" action="/search" method="get">
    <input name="q" placeholder="Search">
    <input type="hidden" name="lang" value="en">
    <button type="submit" name="go" value="1">Go</button>
  </form>
  <form id="login" action="/login" method="post">
    <input name="user">
    <textarea name="note">hi</textarea>
  </form>
  <script>console.log("ignored")</script>
</body></html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, indexPage)
	})
	mux.HandleFunc("/more", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>More</title></head><body>IANA</body></html>`)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>Results for %s</title></head><body>lang=%s go=%s</body></html>`,
			r.URL.Query().Get("q"), r.URL.Query().Get("lang"), r.URL.Query().Get("go"))
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		fmt.Fprintf(w, `<html><head><title>%s %s</title></head><body>welcome</body></html>`, r.Method, r.PostForm.Get("user")+"/"+r.PostForm.Get("note"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPBackend_NavigateAndRead(t *testing.T) {
	srv := newSite(t)
	b := NewHTTPBackend()
	ctx := context.Background()

	page, err := b.Navigate(ctx, DefaultTab, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", page.Title)
	assert.Contains(t, page.Content, "This domain is for use in examples.")
	assert.NotContains(t, page.Content, "ignored")
	assert.NotContains(t, page.Content, "color:red")

	var selectors []string
	for _, e := range page.Elements {
		selectors = append(selectors, e.Selector)
	}
	assert.Contains(t, selectors, "text=More information")
	assert.Contains(t, selectors, "#search")
	assert.Contains(t, selectors, "input[name=q]")
	assert.NotContains(t, selectors, "input[name=lang]")

	again, err := b.Read(ctx, DefaultTab)
	require.NoError(t, err)
	assert.Equal(t, page.Title, again.Title)

	_, err = b.Read(ctx, "other")
	assert.Error(t, err)
}

func TestHTTPBackend_ClickLink(t *testing.T) {
	srv := newSite(t)
	b := NewHTTPBackend()
	ctx := context.Background()
	_, err := b.Navigate(ctx, DefaultTab, srv.URL)
	require.NoError(t, err)

	page, err := b.Act(ctx, DefaultTab, Command{Action: ActionClick, Selector: "text=More information"})
	require.NoError(t, err)
	assert.Equal(t, "More", page.Title)
	assert.True(t, strings.HasSuffix(page.URL, "/more"))
}

func TestHTTPBackend_TypeAndSubmit(t *testing.T) {
	srv := newSite(t)
	b := NewHTTPBackend()
	ctx := context.Background()
	_, err := b.Navigate(ctx, DefaultTab, srv.URL)
	require.NoError(t, err)

	_, err = b.Act(ctx, DefaultTab, Command{Action: ActionType, Selector: "input[name=q]", Value: "gophers"})
	require.NoError(t, err)

	page, err := b.Act(ctx, DefaultTab, Command{Action: ActionClick, Selector: "text=Go"})
	require.NoError(t, err)
	assert.Equal(t, "Results for gophers", page.Title)
	assert.Contains(t, page.Content, "lang=en go=1")
}

func TestHTTPBackend_SubmitPostForm(t *testing.T) {
	srv := newSite(t)
	b := NewHTTPBackend()
	ctx := context.Background()
	_, err := b.Navigate(ctx, DefaultTab, srv.URL)
	require.NoError(t, err)

	_, err = b.Act(ctx, DefaultTab, Command{Action: ActionType, Selector: "[name=user]", Value: "ada"})
	require.NoError(t, err)
	page, err := b.Act(ctx, DefaultTab, Command{Action: ActionSubmit, Selector: "#login"})
	require.NoError(t, err)
	assert.Equal(t, "POST ada/hi", page.Title)
}

func TestHTTPBackend_Errors(t *testing.T) {
	srv := newSite(t)
	b := NewHTTPBackend()
	ctx := context.Background()

	_, err := b.Navigate(ctx, DefaultTab, "ftp://example.com")
	assert.Error(t, err)

	_, err = b.Navigate(ctx, DefaultTab, srv.URL+"/missing")
	assert.ErrorContains(t, err, "404")

	_, err = b.Navigate(ctx, DefaultTab, srv.URL)
	require.NoError(t, err)

	_, err = b.Act(ctx, DefaultTab, Command{Action: ActionClick, Selector: "#nope"})
	assert.ErrorContains(t, err, "no element matches")

	_, err = b.Act(ctx, DefaultTab, Command{Action: ActionClick, Selector: "h1"})
	assert.ErrorContains(t, err, "not clickable")

	_, err = b.Act(ctx, DefaultTab, Command{Action: ActionType, Selector: "h1", Value: "x"})
	assert.ErrorContains(t, err, "cannot type")

	_, err = b.Act(ctx, DefaultTab, Command{Action: "hover", Selector: "h1"})
	assert.ErrorContains(t, err, "unsupported action")

	require.NoError(t, b.Close())
	_, err = b.Read(ctx, DefaultTab)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHTTPBackend_Tabs(t *testing.T) {
	srv := newSite(t)
	b := NewHTTPBackend()
	ctx := context.Background()

	_, err := b.Navigate(ctx, "a", srv.URL)
	require.NoError(t, err)
	_, err = b.Navigate(ctx, "b", srv.URL+"/more")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, b.Tabs())
	pa, err := b.Read(ctx, "a")
	require.NoError(t, err)
	pb, err := b.Read(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", pa.Title)
	assert.Equal(t, "More", pb.Title)
}

func TestHTTPBackend_NavigateCancelled(t *testing.T) {
	srv := newSite(t)
	b := NewHTTPBackend()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Navigate(ctx, DefaultTab, srv.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTools(t *testing.T) {
	srv := newSite(t)
	reg, err := tool.NewRegistry(NewTools(NewHTTPBackend())...)
	require.NoError(t, err)
	assert.Equal(t, []string{NavigateToolName, ReadToolName, ActToolName}, reg.Names())

	nav, err := reg.Resolve(NavigateToolName)
	require.NoError(t, err)
	assert.Equal(t, core.IdempotencyRetryable, nav.Idempotency)
	assert.True(t, nav.Cancellable)

	act, err := reg.Resolve(ActToolName)
	require.NoError(t, err)
	assert.Equal(t, core.IdempotencyNonIdempotent, act.Idempotency)

	read, err := reg.Resolve(ReadToolName)
	require.NoError(t, err)
	assert.Equal(t, core.IdempotencySafe, read.Idempotency)

	ctx := context.Background()
	out, err := nav.Executor.Execute(ctx, map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Contains(t, out.(string), "title: Example Domain")

	out, err = read.Executor.Execute(ctx, map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, out.(string), "tab: main")

	_, err = act.Executor.Execute(ctx, map[string]any{"action": "hover", "selector": "h1"})
	assert.ErrorIs(t, err, core.ErrInvalidArguments)
}

func TestParseSelector(t *testing.T) {
	sel, err := parseSelector(`input.big.wide#q[name="q"]`)
	require.NoError(t, err)
	assert.Equal(t, "input", sel.tag)
	assert.Equal(t, "q", sel.id)
	assert.Equal(t, []string{"big", "wide"}, sel.classes)
	assert.Equal(t, "q", sel.attrs["name"])

	_, err = parseSelector("div > a")
	assert.Error(t, err)
	_, err = parseSelector("[name=q")
	assert.Error(t, err)
	_, err = parseSelector("")
	assert.Error(t, err)
}
