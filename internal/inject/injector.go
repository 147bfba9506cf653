package inject

import (
	"context"
	"fmt"
	"strings"

	"chatcast/internal/bus"
	"chatcast/internal/dom"
	"chatcast/internal/domain"
	"chatcast/internal/metrics"
	"chatcast/internal/profile"

	"golang.org/x/net/html"
)

// Injector sets a resolved input's content and synthesises the events a
// reactive framework listens for.
type Injector struct {
	diag Diag
}

func NewInjector(d Diag) *Injector {
	return &Injector{diag: d}
}

// Inject sets el's content to text. Running it twice with the same text
// leaves the same content as running it once.
func (in *Injector) Inject(ctx context.Context, page domain.Page, el *dom.Element, text string, p *profile.Profile, mode Mode) error {
	ref := el.Ref
	if mode == Active {
		if err := page.Focus(ctx, ref); err != nil {
			return fmt.Errorf("focus input: %w", err)
		}
	}

	switch {
	case el.IsTextControl():
		if err := page.SetNativeValue(ctx, ref, text); err != nil {
			return fmt.Errorf("set value: %w", err)
		}
	case el.Editable:
		if err := in.fillEditable(ctx, page, el, text, mode); err != nil {
			return err
		}
	default:
		// role=textbox without contenteditable; nothing better than
		// overwriting its text.
		if err := page.SetTextContent(ctx, ref, text, singleBlockChild(el)); err != nil {
			return fmt.Errorf("set text: %w", err)
		}
	}

	if err := page.Dispatch(ctx, ref, eventsFor(text, p, mode)...); err != nil {
		return fmt.Errorf("dispatch input events: %w", err)
	}

	if host := el.Root.Host; el.Root.Kind == dom.RootShadow && host != nil && host.HasValue {
		in.mirrorHost(ctx, page, el, host, text)
	}
	return nil
}

// fillEditable prefers the insertText command and falls back to a direct
// overwrite when the command is refused or the editor ends up holding
// something other than text, such as nothing or a duplicated copy. Blank
// lines between blocks do not count as a difference.
func (in *Injector) fillEditable(ctx context.Context, page domain.Page, el *dom.Element, text string, mode Mode) error {
	ok, err := page.InsertText(ctx, el.Ref, text, mode == Passive)
	if err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	reason := ""
	if !ok {
		reason = domain.ErrInjectionRejected.Error()
	} else {
		got, err := page.ReadText(ctx, el.Ref)
		if err != nil {
			return fmt.Errorf("read back: %w", err)
		}
		if normalizeEditable(got) == normalizeEditable(text) {
			return nil
		}
		reason = "content mismatch"
	}

	viaChild := singleBlockChild(el)
	in.diag.log().Debug("insertText fallback", "page", page.ID(), "ref", el.Ref, "reason", reason, "viaChild", viaChild)
	in.diag.report(bus.EventInjectFallback, page, "ref", el.Ref, "reason", reason)
	metrics.InjectFallbacks.Inc()

	if err := page.SetTextContent(ctx, el.Ref, text, viaChild); err != nil {
		return fmt.Errorf("overwrite text: %w", err)
	}
	return nil
}

func (in *Injector) mirrorHost(ctx context.Context, page domain.Page, el, host *dom.Element, text string) {
	err := page.SetHostValue(ctx, el.Ref, text)
	if err == nil {
		err = page.Dispatch(ctx, host.Ref, domain.Event{Type: "input"}, domain.Event{Type: "change"})
	}
	if err != nil {
		in.diag.log().Warn("host mirror failed", "page", page.ID(), "host", host.Ref, "err", err)
	}
}

// eventsFor returns the notifications sent after the content changes.
// compositionend and blur only go out when taking focus, and never for
// profiles whose editors double-insert on synthetic composition.
func eventsFor(text string, p *profile.Profile, mode Mode) []domain.Event {
	evs := []domain.Event{
		{Type: "beforeinput", Data: text},
		{Type: "input", Data: text},
		{Type: "change"},
	}
	if mode == Active && (p == nil || !p.SuppressCompositionEvents) {
		evs = append(evs, domain.Event{Type: "compositionend", Data: text}, domain.Event{Type: "blur"})
	}
	return evs
}

// normalizeEditable reduces editor text to its visible lines. Blank lines
// between blocks collapse, and non-breaking spaces read as spaces.
func normalizeEditable(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		kept = append(kept, strings.TrimRight(l, " \t"))
	}
	return strings.Join(kept, "\n")
}

// singleBlockChild reports whether el wraps exactly one element child and
// no text of its own, as editors that keep a lone <p> do.
func singleBlockChild(el *dom.Element) bool {
	kids := el.Children()
	if len(kids) != 1 {
		return false
	}
	for c := el.Node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode && strings.TrimSpace(c.Data) != "" {
			return false
		}
	}
	return true
}
