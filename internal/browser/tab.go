package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chromedp/chromedp"

	"chatcast/internal/dom"
	"chatcast/internal/domain"
)

//go:embed js/snapshot.js
var snapshotJS string

//go:embed js/ops.js
var opsJS string

// Tab is one browser tab driven over the DevTools protocol. It implements
// domain.Page.
type Tab struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

var _ domain.Page = (*Tab)(nil)

func newTab(id string, ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) *Tab {
	return &Tab{id: id, ctx: ctx, cancel: cancel, logger: logger.With("page", id)}
}

func (t *Tab) ID() string { return t.id }

// Close closes the tab. Attached tabs are detached and left open.
func (t *Tab) Close() { t.cancel() }

// run executes actions in the tab, aborting when either ctx or the tab
// itself is done.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// URL returns the tab's current location.
func (t *Tab) URL(ctx context.Context) (string, error) {
	var u string
	if err := t.run(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// Capture returns the wire form of the page, as saved by `chatcast snapshot`.
func (t *Tab) Capture(ctx context.Context) (*dom.Snapshot, error) {
	var s dom.Snapshot
	if err := t.run(ctx, chromedp.Evaluate(snapshotJS, &s)); err != nil {
		return nil, fmt.Errorf("capture %s: %w", t.id, err)
	}
	return &s, nil
}

func (t *Tab) Snapshot(ctx context.Context) (*dom.Document, error) {
	s, err := t.Capture(ctx)
	if err != nil {
		return nil, err
	}
	return dom.FromSnapshot(s), nil
}

type opResult struct {
	OK    bool   `json:"ok"`
	Value string `json:"value"`
	Error string `json:"error"`
}

type jsEvent struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
	Data string `json:"data,omitempty"`
}

// callExpr builds the expression that invokes one primitive from ops.js.
func callExpr(op, ref, text string, flag bool, events []domain.Event) (string, error) {
	evs := make([]jsEvent, 0, len(events))
	for _, e := range events {
		evs = append(evs, jsEvent{Type: e.Type, Key: e.Key, Data: e.Data})
	}
	args, err := json.Marshal([]any{op, ref, text, flag, evs})
	if err != nil {
		return "", err
	}
	// args is a JSON array; strip the brackets to splice it as an argument list.
	list := strings.TrimSuffix(strings.TrimPrefix(string(args), "["), "]")
	return "(" + strings.TrimSpace(opsJS) + ")(" + list + ")", nil
}

func (t *Tab) call(ctx context.Context, op, ref, text string, flag bool, events ...domain.Event) (opResult, error) {
	expr, err := callExpr(op, ref, text, flag, events)
	if err != nil {
		return opResult{}, err
	}
	var res opResult
	if err := t.run(ctx, chromedp.Evaluate(expr, &res)); err != nil {
		return opResult{}, fmt.Errorf("%s %s: %w", op, ref, err)
	}
	if res.Error != "" {
		return res, fmt.Errorf("%s %s: %w", op, ref, opError(res.Error))
	}
	return res, nil
}

func opError(msg string) error {
	if strings.HasPrefix(msg, "no element at") {
		return fmt.Errorf("%w: %s", domain.ErrElementNotFound, msg)
	}
	return errors.New(msg)
}

func (t *Tab) SetNativeValue(ctx context.Context, ref, text string) error {
	_, err := t.call(ctx, "setNativeValue", ref, text, false)
	return err
}

func (t *Tab) InsertText(ctx context.Context, ref, text string, keepFocus bool) (bool, error) {
	res, err := t.call(ctx, "insertText", ref, text, keepFocus)
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

func (t *Tab) SetTextContent(ctx context.Context, ref, text string, viaChild bool) error {
	_, err := t.call(ctx, "setTextContent", ref, text, viaChild)
	return err
}

func (t *Tab) ReadText(ctx context.Context, ref string) (string, error) {
	res, err := t.call(ctx, "readText", ref, "", false)
	if err != nil {
		return "", err
	}
	return res.Value, nil
}

func (t *Tab) SetHostValue(ctx context.Context, ref, text string) error {
	_, err := t.call(ctx, "setHostValue", ref, text, false)
	return err
}

func (t *Tab) Focus(ctx context.Context, ref string) error {
	_, err := t.call(ctx, "focus", ref, "", false)
	return err
}

func (t *Tab) Dispatch(ctx context.Context, ref string, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	_, err := t.call(ctx, "dispatch", ref, "", false, events...)
	return err
}

func (t *Tab) Navigate(ctx context.Context, url string) error {
	t.logger.Debug("navigate", "url", url)
	return t.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}
