// Package replay implements domain.Page over a captured snapshot. The
// mutating primitives edit the in-memory snapshot and every dispatched
// event is recorded, so resolution and injection can be checked without a
// browser.
package replay

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"chatcast/internal/dom"
	"chatcast/internal/domain"
)

// Options simulate page quirks.
type Options struct {
	// RejectInsert makes the insertText command unavailable.
	RejectInsert bool
	// DuplicateInsert makes insertText append instead of replacing the
	// selection, as some editors do when select-all is ignored.
	DuplicateInsert bool
	// ParagraphInsert stores each inserted line as its own <p>, as rich
	// editors do, so the read-back separates lines with blank lines.
	ParagraphInsert bool
}

// Record is one dispatched event.
type Record struct {
	Ref   string
	Event domain.Event
}

// Page is an in-memory page.
type Page struct {
	mu          sync.Mutex
	id          string
	snap        *dom.Snapshot
	opts        Options
	focus       string
	events      []Record
	navigations []string
	inserts     int
}

var _ domain.Page = (*Page)(nil)

// New wraps a snapshot. The snapshot is modified in place.
func New(id string, snap *dom.Snapshot, opts Options) *Page {
	return &Page{id: id, snap: snap, opts: opts, focus: snap.Active}
}

// Load reads a snapshot file saved by `chatcast snapshot`.
func Load(id, path string, opts Options) (*Page, error) {
	snap, err := dom.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(id, snap, opts), nil
}

func (p *Page) ID() string { return p.id }

func (p *Page) Snapshot(ctx context.Context) (*dom.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Active = p.focus
	return dom.FromSnapshot(p.snap), nil
}

func (p *Page) node(ref string) (*dom.Node, error) {
	n := p.snap.Find(ref)
	if n == nil {
		return nil, fmt.Errorf("replay %s: ref %q: %w", p.id, ref, domain.ErrElementNotFound)
	}
	return n, nil
}

func (p *Page) SetNativeValue(_ context.Context, ref, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.node(ref)
	if err != nil {
		return err
	}
	if !n.HasValue {
		return fmt.Errorf("replay %s: %s has no value setter", p.id, ref)
	}
	n.Value = text
	return nil
}

func (p *Page) InsertText(_ context.Context, ref, text string, keepFocus bool) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.node(ref)
	if err != nil {
		return false, err
	}
	if p.opts.RejectInsert || !n.Editable {
		return false, nil
	}
	prev := p.focus
	p.focus = ref
	p.inserts++
	switch {
	case p.opts.DuplicateInsert:
		n.Children = append(n.Children, dom.T(text))
	case p.opts.ParagraphInsert:
		var kids []*dom.Node
		for _, line := range strings.Split(text, "\n") {
			kids = append(kids, dom.E("p").Kids(dom.T(line)))
		}
		n.Children = kids
	default:
		n.Children = []*dom.Node{dom.T(text)}
	}
	if keepFocus {
		p.focus = prev
	}
	return true, nil
}

func (p *Page) SetTextContent(_ context.Context, ref, text string, viaChild bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.node(ref)
	if err != nil {
		return err
	}
	if viaChild {
		if c := singleElementChild(n); c != nil {
			c.Children = []*dom.Node{dom.T(text)}
			return nil
		}
	}
	n.Children = []*dom.Node{dom.T(text)}
	return nil
}

func singleElementChild(n *dom.Node) *dom.Node {
	var only *dom.Node
	for _, c := range n.Children {
		if c.Tag == "" {
			if strings.TrimSpace(c.Text) != "" {
				return nil
			}
			continue
		}
		if only != nil {
			return nil
		}
		only = c
	}
	return only
}

func (p *Page) ReadText(_ context.Context, ref string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.node(ref)
	if err != nil {
		return "", err
	}
	if n.HasValue && !n.Editable {
		return n.Value, nil
	}
	return textOf(n), nil
}

func textOf(n *dom.Node) string {
	if n.Tag == "" {
		return n.Text
	}
	var sb strings.Builder
	for i, c := range n.Children {
		// Paragraphs read back the way innerText renders them.
		if i > 0 && c.Tag == "p" {
			sb.WriteString("\n\n")
		}
		sb.WriteString(textOf(c))
	}
	return sb.String()
}

func (p *Page) SetHostValue(_ context.Context, ref, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	host := dom.HostRef(ref)
	if host == "" {
		return fmt.Errorf("replay %s: %s is not inside a shadow root", p.id, ref)
	}
	n, err := p.node(host)
	if err != nil {
		return err
	}
	n.Value = text
	n.HasValue = true
	return nil
}

func (p *Page) Focus(_ context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.node(ref); err != nil {
		return err
	}
	p.focus = ref
	return nil
}

func (p *Page) Dispatch(_ context.Context, ref string, events ...domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.node(ref); err != nil {
		return err
	}
	for _, ev := range events {
		p.events = append(p.events, Record{Ref: ref, Event: ev})
		if ev.Type == "blur" && p.focus == ref {
			p.focus = ""
		}
	}
	return nil
}

func (p *Page) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	p.snap.URL = url
	return nil
}

// Events returns every dispatched event in order.
func (p *Page) Events() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Record, len(p.events))
	copy(out, p.events)
	return out
}

// Count returns how many events of type were dispatched, per ref.
func (p *Page) Count(eventType string) map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int)
	for _, r := range p.events {
		if r.Event.Type == eventType {
			out[r.Ref]++
		}
	}
	return out
}

// Navigations returns the URLs navigated to.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Focused returns the ref holding focus, "" for the body.
func (p *Page) Focused() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focus
}

// Inserts returns how many insertText commands succeeded.
func (p *Page) Inserts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inserts
}

// Value returns the current value or text at ref.
func (p *Page) Value(ref string) string {
	v, _ := p.ReadText(context.Background(), ref)
	return v
}

// Reset clears recorded events and navigations.
func (p *Page) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
	p.navigations = nil
}
