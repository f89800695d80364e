package dom

import (
	"golang.org/x/net/html"
)

// Element is a handle to one element node of a Document.
type Element struct {
	doc  *Document
	node *html.Node
}

// Tag returns the lower-case element name.
func (e *Element) Tag() string {
	return e.node.Data
}

func (e *Element) GetAttribute(name string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return attr(e.node, name)
}

func (e *Element) SetAttribute(name, val string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	setAttr(e.node, name, val)
}

func (e *Element) RemoveAttribute(name string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	removeAttr(e.node, name)
}

// ID returns the id attribute, or "" when there is none.
func (e *Element) ID() string {
	v, _ := e.GetAttribute("id")
	return v
}

func (e *Element) SetID(id string) {
	e.SetAttribute("id", id)
}

// TextContent returns the concatenated text of e and its descendants.
func (e *Element) TextContent() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return textContent(e.node)
}

// SetTextContent replaces the children of e with a single text node.
func (e *Element) SetTextContent(text string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	removeChildren(e.node)
	if text != "" {
		e.node.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func (e *Element) InnerHTML() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return innerHTML(e.node)
}

// SetInnerHTML replaces the children of e with the parsed fragment.
func (e *Element) SetInnerHTML(fragment string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	removeChildren(e.node)
	for _, c := range parseFragment(fragment, e.node) {
		e.node.AppendChild(c)
	}
}

// AppendHTML parses fragment and adds it after the existing children.
func (e *Element) AppendHTML(fragment string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	for _, c := range parseFragment(fragment, e.node) {
		e.node.AppendChild(c)
	}
}

// AppendElement adds a new <tag class="class">text</tag> child. text is
// stored literally and escaped when rendered.
func (e *Element) AppendElement(tag, class, text string) *Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	child := newElement(tag, class)
	if text != "" {
		child.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	e.node.AppendChild(child)
	return e.doc.wrap(child)
}

// Children returns the element children of e.
func (e *Element) Children() []*Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	var out []*Element
	for c := e.node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, e.doc.wrap(c))
		}
	}
	return out
}

// Remove detaches e from the document.
func (e *Element) Remove() {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.node.Parent != nil {
		e.node.Parent.RemoveChild(e.node)
	}
}
