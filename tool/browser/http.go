package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hupe1980/agentloop/logging"
)

// ErrClosed is returned by a backend after Close.
var ErrClosed = errors.New("browser: backend closed")

// HTTPOptions configures an HTTPBackend.
type HTTPOptions struct {
	Client          *http.Client
	UserAgent       string
	MaxBodyBytes    int64
	MaxContentChars int
	MaxElements     int
	Logger          logging.Logger
}

// HTTPBackend is a Backend that fetches pages with net/http and interprets
// links and forms itself. It does not run scripts.
type HTTPBackend struct {
	opts HTTPOptions

	mu     sync.Mutex
	tabs   map[string]*tabState
	closed bool
}

type tabState struct {
	mu     sync.Mutex
	url    *url.URL
	status int
	doc    *html.Node
	values map[*html.Node]string
}

var _ Backend = (*HTTPBackend)(nil)

// NewHTTPBackend creates a backend with an empty tab set.
func NewHTTPBackend(optFns ...func(o *HTTPOptions)) *HTTPBackend {
	opts := HTTPOptions{
		Client:          &http.Client{Timeout: 30 * time.Second},
		UserAgent:       "agentloop-browser/1.0",
		MaxBodyBytes:    4 << 20,
		MaxContentChars: 4000,
		MaxElements:     40,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &HTTPBackend{opts: opts, tabs: map[string]*tabState{}}
}

func (b *HTTPBackend) tab(name string, create bool) (*tabState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	t, ok := b.tabs[name]
	if !ok {
		if !create {
			return nil, fmt.Errorf("browser: tab %q has no page loaded", name)
		}
		t = &tabState{}
		b.tabs[name] = t
	}
	return t, nil
}

// Navigate loads rawURL into tab, creating the tab when needed.
func (b *HTTPBackend) Navigate(ctx context.Context, tab, rawURL string) (*PageState, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("browser: invalid url %q", rawURL)
	}
	t, err := b.tab(tab, true)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return b.load(tab, t, req)
}

// Read returns the page currently loaded in tab.
func (b *HTTPBackend) Read(_ context.Context, tab string) (*PageState, error) {
	t, err := b.tab(tab, false)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.doc == nil {
		return nil, fmt.Errorf("browser: tab %q has no page loaded", tab)
	}
	return b.state(tab, t), nil
}

// Act performs cmd on the page loaded in tab.
func (b *HTTPBackend) Act(ctx context.Context, tab string, cmd Command) (*PageState, error) {
	t, err := b.tab(tab, false)
	if err != nil {
		return nil, err
	}
	sel, err := parseSelector(cmd.Selector)
	if err != nil {
		return nil, fmt.Errorf("browser: %w", err)
	}

	t.mu.Lock()
	if t.doc == nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("browser: tab %q has no page loaded", tab)
	}
	n := find(t.doc, sel)
	if n == nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("browser: no element matches %q", cmd.Selector)
	}

	var req *http.Request
	switch cmd.Action {
	case ActionType:
		if n.Data != "input" && n.Data != "textarea" && n.Data != "select" {
			t.mu.Unlock()
			return nil, fmt.Errorf("browser: cannot type into <%s>", n.Data)
		}
		t.values[n] = cmd.Value
		st := b.state(tab, t)
		t.mu.Unlock()
		return st, nil
	case ActionClick:
		switch {
		case n.Data == "a" && attr(n, "href") != "":
			target, rerr := t.url.Parse(attr(n, "href"))
			if rerr != nil {
				t.mu.Unlock()
				return nil, fmt.Errorf("browser: bad link %q: %w", attr(n, "href"), rerr)
			}
			req, err = http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		case isSubmitter(n):
			form := enclosing(n, "form")
			if form == nil {
				t.mu.Unlock()
				return nil, fmt.Errorf("browser: %q is not inside a form", cmd.Selector)
			}
			req, err = t.formRequest(ctx, form, n)
		default:
			t.mu.Unlock()
			return nil, fmt.Errorf("browser: element <%s> is not clickable", n.Data)
		}
	case ActionSubmit:
		form := n
		if n.Data != "form" {
			form = enclosing(n, "form")
		}
		if form == nil {
			t.mu.Unlock()
			return nil, fmt.Errorf("browser: %q is not a form", cmd.Selector)
		}
		req, err = t.formRequest(ctx, form, nil)
	default:
		t.mu.Unlock()
		return nil, fmt.Errorf("browser: unsupported action %q", cmd.Action)
	}
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return b.load(tab, t, req)
}

// Tabs lists open tab names.
func (b *HTTPBackend) Tabs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.tabs))
	for name := range b.tabs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close drops all tabs. Further calls return ErrClosed.
func (b *HTTPBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.tabs = map[string]*tabState{}
	b.opts.Client.CloseIdleConnections()
	return nil
}

func (b *HTTPBackend) load(tab string, t *tabState, req *http.Request) (*PageState, error) {
	req.Header.Set("User-Agent", b.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	start := time.Now()
	resp, err := b.opts.Client.Do(req)
	if err != nil {
		b.opts.Logger.Warn("browser.load.failed", "tab", tab, "url", req.URL.String(), "error", err)
		return nil, fmt.Errorf("browser: load %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	doc, err := html.Parse(io.LimitReader(resp.Body, b.opts.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("browser: parse %s: %w", req.URL, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("browser: load %s: http status %d", req.URL, resp.StatusCode)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.url = resp.Request.URL
	t.status = resp.StatusCode
	t.doc = doc
	t.values = map[*html.Node]string{}

	b.opts.Logger.Debug("browser.load", "tab", tab, "url", t.url.String(), "status", t.status, "duration", time.Since(start))
	return b.state(tab, t), nil
}

// state must be called with t.mu held.
func (b *HTTPBackend) state(tab string, t *tabState) *PageState {
	ps := &PageState{Tab: tab, URL: t.url.String(), Status: t.status}
	if title := findTag(t.doc, "title"); title != nil {
		ps.Title = collapse(textOf(title))
	}
	root := t.doc
	if body := findTag(t.doc, "body"); body != nil {
		root = body
	}
	content := collapse(textOf(root))
	if r := []rune(content); b.opts.MaxContentChars > 0 && len(r) > b.opts.MaxContentChars {
		content = string(r[:b.opts.MaxContentChars]) + "…"
	}
	ps.Content = content
	ps.Elements = interactive(root, b.opts.MaxElements)
	return ps
}

func (t *tabState) formRequest(ctx context.Context, form, submitter *html.Node) (*http.Request, error) {
	action, err := t.url.Parse(attr(form, "action"))
	if err != nil {
		return nil, fmt.Errorf("browser: bad form action %q: %w", attr(form, "action"), err)
	}
	values := url.Values{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			name := attr(n, "name")
			switch n.Data {
			case "input":
				typ := strings.ToLower(attr(n, "type"))
				switch typ {
				case "submit", "button", "image", "reset":
					if n == submitter && name != "" {
						values.Add(name, attr(n, "value"))
					}
				case "checkbox", "radio":
					if _, checked := attrOK(n, "checked"); checked && name != "" {
						values.Add(name, attr(n, "value"))
					}
				default:
					if name != "" {
						values.Add(name, t.valueOf(n, attr(n, "value")))
					}
				}
			case "textarea":
				if name != "" {
					values.Add(name, t.valueOf(n, textOf(n)))
				}
			case "select":
				if name != "" {
					values.Add(name, t.valueOf(n, selectedOption(n)))
				}
			case "button":
				if n == submitter && name != "" {
					values.Add(name, attr(n, "value"))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(form)

	if strings.EqualFold(attr(form, "method"), http.MethodPost) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, action.String(), strings.NewReader(values.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}
	action.RawQuery = values.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, action.String(), nil)
}

func (t *tabState) valueOf(n *html.Node, def string) string {
	if v, ok := t.values[n]; ok {
		return v
	}
	return strings.TrimSpace(def)
}

func isSubmitter(n *html.Node) bool {
	if n.Data == "button" {
		typ := strings.ToLower(attr(n, "type"))
		return typ == "" || typ == "submit"
	}
	if n.Data == "input" {
		typ := strings.ToLower(attr(n, "type"))
		return typ == "submit" || typ == "image"
	}
	return false
}

func enclosing(n *html.Node, tag string) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == tag {
			return p
		}
	}
	return nil
}

func selectedOption(sel *html.Node) string {
	var first, chosen *html.Node
	for c := sel.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != "option" {
			continue
		}
		if first == nil {
			first = c
		}
		if _, ok := attrOK(c, "selected"); ok {
			chosen = c
		}
	}
	if chosen == nil {
		chosen = first
	}
	if chosen == nil {
		return ""
	}
	if v, ok := attrOK(chosen, "value"); ok {
		return v
	}
	return collapse(textOf(chosen))
}

func findTag(root *html.Node, tag string) *html.Node {
	return find(root, selector{tag: tag})
}

func interactive(root *html.Node, limit int) []PageElement {
	var out []PageElement
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if limit > 0 && len(out) >= limit {
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "a", "button", "input", "textarea", "select", "form":
				if n.Data == "input" && strings.EqualFold(attr(n, "type"), "hidden") {
					break
				}
				out = append(out, PageElement{
					Tag:      n.Data,
					Selector: describe(n),
					Text:     elementText(n),
					Type:     attr(n, "type"),
				})
				if n.Data != "form" {
					return
				}
			}
			if skipped[n.Data] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func elementText(n *html.Node) string {
	if n.Data == "form" {
		return ""
	}
	t := collapse(textOf(n))
	if t == "" {
		t = attr(n, "value")
	}
	if t == "" {
		t = attr(n, "placeholder")
	}
	if r := []rune(t); len(r) > 60 {
		t = string(r[:60]) + "…"
	}
	return t
}
