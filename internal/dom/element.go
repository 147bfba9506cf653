package dom

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// maxTextLen bounds Text so a huge message list does not dominate scoring.
const maxTextLen = 512

// Element is one captured element. The zero Box means the element had no
// rendered box at capture time.
type Element struct {
	doc *Document

	Node     *html.Node
	Root     *Root
	Ref      string
	Box      Rect
	Laid     bool
	Disabled bool
	ReadOnly bool
	Editable bool
	HasValue bool
	Value    string
	Shadow   *Root
	Frame    *Root
	Order    int
}

// Tag returns the lower-case local name.
func (e *Element) Tag() string { return e.Node.Data }

// Attr returns the attribute value, or "" when absent.
func (e *Element) Attr(name string) string {
	for _, a := range e.Node.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// HasAttr reports whether the attribute is present, whatever its value.
func (e *Element) HasAttr(name string) bool {
	for _, a := range e.Node.Attr {
		if a.Key == name {
			return true
		}
	}
	return false
}

// Visible follows the page's own notion: a non-empty box or a layout
// parent. An element behind an invisible shadow or frame host is hidden.
func (e *Element) Visible() bool {
	if !(e.Box.W > 0 && e.Box.H > 0) && !e.Laid {
		return false
	}
	if h := e.Root.Host; h != nil {
		return h.Visible()
	}
	return true
}

// Center returns the centre of the element's box.
func (e *Element) Center() (x, y float64) {
	return e.Box.X + e.Box.W/2, e.Box.Y + e.Box.H/2
}

// IsTextControl reports a native single- or multi-line text field.
func (e *Element) IsTextControl() bool {
	switch e.Tag() {
	case "textarea":
		return true
	case "input":
		switch strings.ToLower(e.Attr("type")) {
		case "", "text", "search", "email", "url", "tel":
			return true
		}
	}
	return false
}

// IsFormControl reports elements that carry a native disabled state.
func (e *Element) IsFormControl() bool {
	switch e.Tag() {
	case "button", "input", "textarea", "select", "option", "optgroup", "fieldset":
		return true
	}
	return false
}

// Text returns the element's text content within its own root, collapsed
// and truncated.
func (e *Element) Text() string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if sb.Len() >= maxTextLen {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.Node)
	s := strings.Join(strings.Fields(sb.String()), " ")
	if len(s) > maxTextLen {
		cut := maxTextLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

// RawText returns the concatenated text nodes without normalisation. It
// is what an editable region reports as its content.
func (e *Element) RawText() string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.Node)
	return sb.String()
}

// Parent returns the parent element inside the same root, nil at the top.
func (e *Element) Parent() *Element {
	return e.doc.element(e.Node.Parent)
}

// Children returns the element children in order.
func (e *Element) Children() []*Element {
	var out []*Element
	for c := e.Node.FirstChild; c != nil; c = c.NextSibling {
		if el := e.doc.element(c); el != nil {
			out = append(out, el)
		}
	}
	return out
}

// Descendants returns every element below e inside the same root.
func (e *Element) Descendants() []*Element {
	var out []*Element
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if el := e.doc.element(c); el != nil {
				out = append(out, el)
			}
			walk(c)
		}
	}
	walk(e.Node)
	return out
}

// Is reports whether the element matches a CSS selector.
func (e *Element) Is(selector string) bool {
	return goquery.NewDocumentFromNode(e.Node).Is(selector)
}

// Contains reports whether other sits below e in the same root.
func (e *Element) Contains(other *Element) bool {
	if other == nil || other.Root != e.Root {
		return false
	}
	for n := other.Node.Parent; n != nil; n = n.Parent {
		if n == e.Node {
			return true
		}
	}
	return false
}

// String is a short human label used in logs: tag#id.class "text".
func (e *Element) String() string {
	var sb strings.Builder
	sb.WriteString(e.Tag())
	if id := e.Attr("id"); id != "" {
		sb.WriteString("#" + id)
	}
	if cls := strings.Fields(e.Attr("class")); len(cls) > 0 {
		sb.WriteString("." + cls[0])
	}
	label := e.Attr("aria-label")
	if label == "" {
		label = e.Attr("placeholder")
	}
	if label == "" && len(e.Text()) <= 24 {
		label = e.Text()
	}
	if label != "" {
		sb.WriteString(" \"" + label + "\"")
	}
	sb.WriteString(" @" + e.Ref)
	return sb.String()
}
