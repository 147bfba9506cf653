package dom

// Builders for hand-made snapshots used by tests. They mirror what the
// capture script emits.

// E returns an element node. attrs is a flat list of name/value pairs.
func E(tag string, attrs ...string) *Node {
	n := &Node{Tag: tag}
	if len(attrs) > 0 {
		n.Attrs = make(map[string]string, len(attrs)/2)
		for i := 0; i+1 < len(attrs); i += 2 {
			n.Attrs[attrs[i]] = attrs[i+1]
		}
	}
	switch tag {
	case "textarea", "input":
		n.HasValue = true
	}
	if v, ok := n.Attrs["contenteditable"]; ok && v != "false" {
		n.Editable = true
	}
	if _, ok := n.Attrs["disabled"]; ok {
		n.Disabled = true
	}
	if _, ok := n.Attrs["readonly"]; ok {
		n.ReadOnly = true
	}
	return n
}

// T returns a text node.
func T(text string) *Node { return &Node{Text: text} }

// At sets the bounding box.
func (n *Node) At(x, y, w, h float64) *Node {
	n.Box = &Rect{X: x, Y: y, W: w, H: h}
	return n
}

// Kids appends children.
func (n *Node) Kids(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// Shadowed attaches an open shadow root.
func (n *Node) Shadowed(children ...*Node) *Node {
	n.Shadow = &Fragment{Children: children}
	return n
}

// Framed attaches a same-origin frame document.
func (n *Node) Framed(url string, vp Size, children ...*Node) *Node {
	n.Frame = &Frame{URL: url, Viewport: vp, Children: children}
	return n
}

// WithValue sets the current value of a text field.
func (n *Node) WithValue(v string) *Node {
	n.Value = v
	n.HasValue = true
	return n
}

// Page wraps body content in html/body with a 1280x800 viewport.
func Page(url string, body ...*Node) *Snapshot {
	return &Snapshot{
		URL:      url,
		Viewport: Size{W: 1280, H: 800},
		Nodes: []*Node{
			E("html").At(0, 0, 1280, 800).Kids(
				E("body").At(0, 0, 1280, 800).Kids(body...),
			),
		},
	}
}
