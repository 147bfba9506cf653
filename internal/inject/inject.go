// Package inject writes text into a resolved chat input so the page's own
// framework sees it as typing, presses send, and starts new conversations.
// All page access goes through domain.Page.
package inject

import (
	"context"
	"log/slog"
	"time"

	"chatcast/internal/bus"
	"chatcast/internal/domain"
)

// Mode selects how much of the user gesture is imitated.
type Mode int

const (
	// Passive mirrors text without taking focus from whatever the
	// operator is looking at.
	Passive Mode = iota
	// Active takes focus, as a user about to press send would.
	Active
)

func (m Mode) String() string {
	if m == Active {
		return "active"
	}
	return "passive"
}

// Timing holds the settle waits between steps. Zero values skip the wait.
type Timing struct {
	FocusSettle time.Duration // after re-focusing the input, before submitting
	PostInject  time.Duration // after a send injection, before submitting
}

// DefaultTiming is what the live pages need.
var DefaultTiming = Timing{
	FocusSettle: 100 * time.Millisecond,
	PostInject:  500 * time.Millisecond,
}

// Diag is where the steps report fallbacks and outcomes. Both fields may
// be nil.
type Diag struct {
	Logger *slog.Logger
	Events *bus.EventBus
}

func (d Diag) log() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.Logger
}

func (d Diag) report(eventType string, page domain.Page, kv ...any) {
	d.Events.Report(eventType, page.ID(), kv...)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Synthetic event sequences.
var (
	clickSequence = []domain.Event{
		{Type: "pointerdown"}, {Type: "mousedown"},
		{Type: "pointerup"}, {Type: "mouseup"},
		{Type: "click"},
	}
	enterSequence = []domain.Event{
		{Type: "keydown", Key: "Enter"},
		{Type: "keypress", Key: "Enter"},
		{Type: "keyup", Key: "Enter"},
	}
)
