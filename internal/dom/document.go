package dom

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RootKind tells what kind of boundary a root sits behind.
type RootKind int

const (
	RootDocument RootKind = iota
	RootShadow
	RootFrame
)

func (k RootKind) String() string {
	switch k {
	case RootShadow:
		return "shadow"
	case RootFrame:
		return "frame"
	default:
		return "document"
	}
}

// Root is a searchable tree: the top document, an open shadow root, or a
// same-origin frame document. Node is an html.DocumentNode container whose
// children are the root's top-level nodes.
type Root struct {
	Kind     RootKind
	Node     *html.Node
	Host     *Element // nil for the top document
	URL      string
	Viewport Size
	Depth    int
}

// Document is one captured page.
type Document struct {
	URL    string
	Host   string
	Top    *Root
	Active string

	roots    []*Root
	elements []*Element
	byNode   map[*html.Node]*Element
	byRef    map[string]*Element
}

// FromSnapshot builds the model. Elements are numbered in composed order:
// an element, then its shadow content, then its frame content, then its
// light children.
func FromSnapshot(s *Snapshot) *Document {
	d := &Document{
		URL:    s.URL,
		Host:   hostOf(s.URL),
		Active: s.Active,
		byNode: make(map[*html.Node]*Element),
		byRef:  make(map[string]*Element),
	}
	d.Top = d.newRoot(RootDocument, nil, s.URL, s.Viewport, 0)
	d.build(d.Top, d.Top.Node, s.Nodes, "")
	return d
}

func (d *Document) newRoot(kind RootKind, host *Element, u string, vp Size, depth int) *Root {
	r := &Root{
		Kind:     kind,
		Node:     &html.Node{Type: html.DocumentNode},
		Host:     host,
		URL:      u,
		Viewport: vp,
		Depth:    depth,
	}
	d.roots = append(d.roots, r)
	return r
}

func (d *Document) build(root *Root, parent *html.Node, nodes []*Node, prefix string) {
	idx := 0
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if n.Tag == "" {
			parent.AppendChild(&html.Node{Type: html.TextNode, Data: n.Text})
			continue
		}

		ref := n.Ref
		if ref == "" {
			ref = joinRef(prefix, idx)
		}
		idx++

		hn := &html.Node{
			Type:     html.ElementNode,
			Data:     strings.ToLower(n.Tag),
			DataAtom: atom.Lookup([]byte(strings.ToLower(n.Tag))),
			Attr:     sortedAttrs(n.Attrs),
		}
		parent.AppendChild(hn)

		el := &Element{
			doc:      d,
			Node:     hn,
			Root:     root,
			Ref:      ref,
			Laid:     n.Laid,
			Disabled: n.Disabled,
			ReadOnly: n.ReadOnly,
			Editable: n.Editable,
			HasValue: n.HasValue,
			Value:    n.Value,
			Order:    len(d.elements),
		}
		if n.Box != nil {
			el.Box = *n.Box
		}
		d.elements = append(d.elements, el)
		d.byNode[hn] = el
		d.byRef[ref] = el

		if n.Shadow != nil {
			el.Shadow = d.newRoot(RootShadow, el, root.URL, root.Viewport, root.Depth+1)
			d.build(el.Shadow, el.Shadow.Node, n.Shadow.Children, ref+"/s/")
		}
		if n.Frame != nil && !n.Frame.Isolated {
			el.Frame = d.newRoot(RootFrame, el, n.Frame.URL, n.Frame.Viewport, root.Depth+1)
			d.build(el.Frame, el.Frame.Node, n.Frame.Children, ref+"/f/")
		}

		d.build(root, hn, n.Children, ref+".")
	}
}

// joinRef appends an element-child index to a ref prefix. A prefix ending
// in "/" starts a new root; one ending in "." continues the current path.
func joinRef(prefix string, idx int) string {
	return prefix + strconv.Itoa(idx)
}

func sortedAttrs(m map[string]string) []html.Attribute {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]html.Attribute, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, html.Attribute{Key: strings.ToLower(k), Val: m[k]})
	}
	return attrs
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Roots returns every searchable root in discovery order, top document first.
func (d *Document) Roots() []*Root { return d.roots }

// Len returns the number of captured elements.
func (d *Document) Len() int { return len(d.elements) }

// Walk visits elements in composed order until fn returns false.
func (d *Document) Walk(fn func(*Element) bool) {
	for _, el := range d.elements {
		if !fn(el) {
			return
		}
	}
}

// ByRef finds an element by its address.
func (d *Document) ByRef(ref string) *Element { return d.byRef[ref] }

// ActiveElement returns the element that had focus at capture time.
func (d *Document) ActiveElement() *Element {
	if d.Active == "" {
		return nil
	}
	return d.byRef[d.Active]
}

// Query runs a CSS selector in every root and returns the matches in
// composed order. An invalid selector matches nothing.
func (d *Document) Query(selector string) []*Element {
	var out []*Element
	for _, r := range d.roots {
		goquery.NewDocumentFromNode(r.Node).Find(selector).Each(func(_ int, s *goquery.Selection) {
			if el := d.byNode[s.Get(0)]; el != nil {
				out = append(out, el)
			}
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// element maps an html node back to its element, nil for text and
// container nodes.
func (d *Document) element(n *html.Node) *Element {
	if n == nil {
		return nil
	}
	return d.byNode[n]
}
