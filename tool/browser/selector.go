package browser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// selector is the small subset of CSS understood by the HTTP backend:
// tag, #id, .class, [attr=value] (combinable on one element) and the
// text=Label form matching an element's visible text.
type selector struct {
	tag     string
	id      string
	classes []string
	attrs   map[string]string
	text    string
}

func parseSelector(s string) (selector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return selector{}, fmt.Errorf("empty selector")
	}
	if rest, ok := strings.CutPrefix(s, "text="); ok {
		return selector{text: strings.Trim(rest, `"'`)}, nil
	}
	if strings.ContainsAny(s, " >+~,") {
		return selector{}, fmt.Errorf("unsupported selector %q", s)
	}

	sel := selector{attrs: map[string]string{}}
	i := 0
	readIdent := func() string {
		start := i
		for i < len(s) && s[i] != '#' && s[i] != '.' && s[i] != '[' {
			i++
		}
		return s[start:i]
	}

	sel.tag = strings.ToLower(readIdent())
	for i < len(s) {
		switch s[i] {
		case '#':
			i++
			sel.id = readIdent()
		case '.':
			i++
			sel.classes = append(sel.classes, readIdent())
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return selector{}, fmt.Errorf("unterminated attribute in %q", s)
			}
			key, val, _ := strings.Cut(s[i+1:i+end], "=")
			sel.attrs[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(val), `"'`)
			i += end + 1
		}
	}
	return sel, nil
}

func (sel selector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if sel.text != "" {
		return strings.EqualFold(collapse(textOf(n)), collapse(sel.text)) ||
			strings.EqualFold(attr(n, "value"), sel.text)
	}
	if sel.tag != "" && sel.tag != "*" && n.Data != sel.tag {
		return false
	}
	if sel.id != "" && attr(n, "id") != sel.id {
		return false
	}
	if len(sel.classes) > 0 {
		have := strings.Fields(attr(n, "class"))
		for _, c := range sel.classes {
			found := false
			for _, h := range have {
				if h == c {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	for k, v := range sel.attrs {
		got, ok := attrOK(n, k)
		if !ok || (v != "" && got != v) {
			return false
		}
	}
	return true
}

// find returns the first matching node in document order. For text=
// selectors the innermost match wins, so "text=Go" picks the link rather
// than its enclosing paragraph.
func find(root *html.Node, sel selector) *html.Node {
	var matches []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if sel.matches(n) {
			matches = append(matches, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if sel.text == "" {
		if len(matches) == 0 {
			return nil
		}
		return matches[0]
	}
	for _, m := range matches {
		inner := true
		for _, o := range matches {
			if o != m && isAncestor(m, o) {
				inner = false
				break
			}
		}
		if inner {
			return m
		}
	}
	return nil
}

func isAncestor(a, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == a {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
			return
		}
		if n.Type == html.ElementNode && skipped[n.Data] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

var skipped = map[string]bool{"script": true, "style": true, "noscript": true, "template": true}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

// describe builds the selector advertised for an element: #id when present,
// otherwise a tag with name attribute or the text= form.
func describe(n *html.Node) string {
	if id := attr(n, "id"); id != "" {
		return "#" + id
	}
	if name := attr(n, "name"); name != "" {
		return fmt.Sprintf("%s[name=%s]", n.Data, name)
	}
	if t := collapse(textOf(n)); t != "" && len(t) <= 60 {
		return "text=" + t
	}
	return n.Data
}
