// Package dom is a small server-side model of an HTML page.
//
// A [Document] wraps a tree parsed by golang.org/x/net/html. All reads and
// writes go through one mutex, so elements can be updated from interpreter
// callbacks while the page is being rendered.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Classes of the page-level message banners.
const (
	ErrorBannerClass   = "alert-banner py-error"
	WarningBannerClass = "alert-banner py-warning"
)

type Document struct {
	mu   sync.Mutex
	root *html.Node
}

// Parse reads a complete HTML document. Missing <html>, <head> and <body>
// elements are added by the parser.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{root: root}, nil
}

func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

func (d *Document) wrap(n *html.Node) *Element {
	if n == nil {
		return nil
	}
	return &Element{doc: d, node: n}
}

// Body returns the <body> element.
func (d *Document) Body() *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wrap(d.body())
}

func (d *Document) body() *html.Node {
	return findFirst(d.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Body
	})
}

// GetElementByID returns the first element whose id attribute is id.
func (d *Document) GetElementByID(id string) (*Element, bool) {
	if id == "" {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	n := findFirst(d.root, func(n *html.Node) bool {
		v, ok := attr(n, "id")
		return n.Type == html.ElementNode && ok && v == id
	})
	if n == nil {
		return nil, false
	}
	return d.wrap(n), true
}

// ElementsByTag returns every element named tag, in document order.
func (d *Document) ElementsByTag(tag string) []*Element {
	tag = strings.ToLower(tag)
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*Element
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, d.wrap(n))
		}
		return true
	})
	return out
}

// QuerySelector returns the first element named tag, or nil.
func (d *Document) QuerySelector(tag string) *Element {
	tag = strings.ToLower(tag)
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.wrap(findFirst(d.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag
	}))
}

// ShowError puts an error banner holding msg at the top of <body>. msg is
// HTML.
func (d *Document) ShowError(msg string) {
	d.showBanner(ErrorBannerClass, msg)
}

// ShowWarning is ShowError with warning styling.
func (d *Document) ShowWarning(msg string) {
	d.showBanner(WarningBannerClass, msg)
}

func (d *Document) showBanner(class, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	body := d.body()
	if body == nil {
		return
	}
	banner := newElement("div", class)
	for _, c := range parseFragment(msg, banner) {
		banner.AppendChild(c)
	}
	body.InsertBefore(banner, body.FirstChild)
}

// Banners returns the inner HTML of every banner with the given class.
func (d *Document) Banners(class string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []string
	walk(d.root, func(n *html.Node) bool {
		if v, _ := attr(n, "class"); n.Type == html.ElementNode && v == class {
			out = append(out, innerHTML(n))
			return false
		}
		return true
	})
	return out
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

func newElement(tag, class string) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
	if class != "" {
		setAttr(n, "class", class)
	}
	return n
}

// walk visits n and its descendants depth first. Returning false from fn
// skips the children of that node.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if match(c) {
			found = c
			return false
		}
		return true
	})
	return found
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: val})
}

func removeAttr(n *html.Node, name string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// parseFragment parses s in the context of parent. Input the tokenizer
// cannot make sense of comes back as a single text node.
func parseFragment(s string, parent *html.Node) []*html.Node {
	ctx := &html.Node{Type: html.ElementNode, Data: parent.Data, DataAtom: parent.DataAtom}
	if ctx.DataAtom == 0 {
		// Custom elements parse like <div>.
		ctx.Data, ctx.DataAtom = "div", atom.Div
	}
	nodes, err := html.ParseFragment(strings.NewReader(s), ctx)
	if err != nil {
		return []*html.Node{{Type: html.TextNode, Data: s}}
	}
	return nodes
}

func innerHTML(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			break
		}
	}
	return buf.String()
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}
