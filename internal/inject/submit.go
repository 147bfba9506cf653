package inject

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatcast/internal/bus"
	"chatcast/internal/domain"
	"chatcast/internal/metrics"
	"chatcast/internal/profile"
	"chatcast/internal/resolve"
)

// Outcome says how a page was submitted.
type Outcome string

const (
	Clicked  Outcome = "click"
	Keyboard Outcome = "keyboard"
)

// Submitter presses send for an input that already holds the text.
type Submitter struct {
	timing Timing
	diag   Diag
}

func NewSubmitter(t Timing, d Diag) *Submitter {
	return &Submitter{timing: t, diag: d}
}

// Submit re-focuses the input, waits for the page to settle and clicks the
// resolved send control, or presses Enter on the input when the profile is
// keyboard-only or no control scores above zero.
func (s *Submitter) Submit(ctx context.Context, page domain.Page, inputRef string, p *profile.Profile) (Outcome, error) {
	if err := page.Focus(ctx, inputRef); err != nil {
		return "", fmt.Errorf("focus input: %w", err)
	}
	if err := sleep(ctx, s.timing.FocusSettle); err != nil {
		return "", err
	}

	if p != nil && p.KeyboardOnlySubmit {
		return s.pressEnter(ctx, page, inputRef, "keyboard-only profile")
	}
	if p != nil {
		if err := sleep(ctx, p.PreSubmitDelay); err != nil {
			return "", err
		}
	}

	start := time.Now()
	doc, err := page.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	res, err := resolve.Resolve(doc, resolve.RoleSubmit, p, doc.ByRef(inputRef))
	metrics.ResolveLatency.Since(start)
	if err != nil {
		metrics.ResolveFailures(string(resolve.RoleSubmit)).Inc()
		reason := "no control"
		if errors.Is(err, domain.ErrSubmitAmbiguous) {
			reason = "ambiguous control"
		}
		s.diag.report(bus.EventResolveFailed, page, "role", resolve.RoleSubmit, "err", err.Error())
		return s.pressEnter(ctx, page, inputRef, reason)
	}

	if err := page.Dispatch(ctx, res.El.Ref, clickSequence...); err != nil {
		// The control went away under us; Enter is still worth a try.
		s.diag.log().Warn("click failed", "page", page.ID(), "ref", res.El.Ref, "err", err)
		return s.pressEnter(ctx, page, inputRef, "click failed")
	}
	s.diag.log().Debug("submit clicked", "page", page.ID(), "control", res.El.String(), "score", res.Score, "override", res.Override)
	s.diag.report(bus.EventSubmitClicked, page, "ref", res.El.Ref, "score", res.Score)
	metrics.Submissions(string(Clicked)).Inc()
	return Clicked, nil
}

func (s *Submitter) pressEnter(ctx context.Context, page domain.Page, inputRef, reason string) (Outcome, error) {
	if err := page.Dispatch(ctx, inputRef, enterSequence...); err != nil {
		return "", fmt.Errorf("press enter: %w", err)
	}
	s.diag.log().Debug("submit by keyboard", "page", page.ID(), "reason", reason)
	s.diag.report(bus.EventSubmitKeyboard, page, "ref", inputRef, "reason", reason)
	metrics.Submissions(string(Keyboard)).Inc()
	return Keyboard, nil
}
