// Package dom holds a read-only model of a live page captured in a single
// evaluation. Elements are golang.org/x/net/html nodes; layout and state
// that the resolver needs (box, disabled, editable, value) sit beside them.
// Open shadow roots and same-origin frame documents are separate roots
// attached to their host element.
package dom

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Size is a viewport size in CSS pixels.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Rect is a bounding client rect relative to the owning root's viewport.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Snapshot is the wire form produced by the browser-side capture script.
type Snapshot struct {
	URL      string  `json:"url"`
	Viewport Size    `json:"viewport"`
	Active   string  `json:"active,omitempty"` // ref of document.activeElement
	Nodes    []*Node `json:"nodes"`
}

// Node is one captured node. A node without Tag is a text node.
type Node struct {
	Tag      string            `json:"tag,omitempty"`
	Text     string            `json:"text,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Ref      string            `json:"ref,omitempty"`
	Box      *Rect             `json:"box,omitempty"`
	Laid     bool              `json:"laid,omitempty"` // offsetParent != null
	Disabled bool              `json:"disabled,omitempty"`
	ReadOnly bool              `json:"readOnly,omitempty"`
	Editable bool              `json:"editable,omitempty"` // isContentEditable
	HasValue bool              `json:"hasValue,omitempty"` // exposes a settable value property
	Value    string            `json:"value,omitempty"`
	Children []*Node           `json:"children,omitempty"`
	Shadow   *Fragment         `json:"shadow,omitempty"`
	Frame    *Frame            `json:"frame,omitempty"`
}

// Fragment is the content of an open shadow root.
type Fragment struct {
	Children []*Node `json:"children"`
}

// Frame is the content document of a same-origin frame. Cross-origin
// frames are captured with Isolated set and no children.
type Frame struct {
	URL      string  `json:"url,omitempty"`
	Viewport Size    `json:"viewport"`
	Isolated bool    `json:"isolated,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// Decode reads a snapshot from r and builds the document model.
func Decode(r io.Reader) (*Document, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return FromSnapshot(&s), nil
}

// DecodeBytes is Decode over an in-memory buffer.
func DecodeBytes(data []byte) (*Document, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return FromSnapshot(&s), nil
}

// ReadFile reads the wire form saved by `chatcast snapshot`.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return &s, nil
}

// LoadFile reads a saved snapshot and builds the document model.
func LoadFile(path string) (*Document, error) {
	s, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromSnapshot(s), nil
}

// Find returns the wire node at ref, using the same addressing as the
// document model. Text nodes have no ref.
func (s *Snapshot) Find(ref string) *Node {
	var found *Node
	eachNode(s.Nodes, "", func(r string, n *Node) bool {
		if r == ref {
			found = n
			return false
		}
		return true
	})
	return found
}

// eachNode walks element nodes in composed order with their refs until fn
// returns false.
func eachNode(nodes []*Node, prefix string, fn func(string, *Node) bool) bool {
	idx := 0
	for _, n := range nodes {
		if n == nil || n.Tag == "" {
			continue
		}
		ref := n.Ref
		if ref == "" {
			ref = joinRef(prefix, idx)
		}
		idx++
		if !fn(ref, n) {
			return false
		}
		if n.Shadow != nil && !eachNode(n.Shadow.Children, ref+"/s/", fn) {
			return false
		}
		if n.Frame != nil && !n.Frame.Isolated && !eachNode(n.Frame.Children, ref+"/f/", fn) {
			return false
		}
		if !eachNode(n.Children, ref+".", fn) {
			return false
		}
	}
	return true
}

// HostRef returns the ref of the shadow host owning ref, or "" when ref
// is not inside a shadow root.
func HostRef(ref string) string {
	i := strings.LastIndex(ref, "/s/")
	if i < 0 || strings.LastIndex(ref, "/f/") > i {
		return ""
	}
	return ref[:i]
}
