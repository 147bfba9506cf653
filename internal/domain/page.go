package domain

import (
	"context"

	"chatcast/internal/dom"
)

// Event is a synthetic DOM event. Key is set for keyboard events, Data for
// input events.
type Event struct {
	Type string
	Key  string
	Data string
}

// Page is one live chat page. Snapshot is the only read of page structure;
// every other method mutates or reads back a single element addressed by
// its snapshot ref.
type Page interface {
	ID() string
	Snapshot(ctx context.Context) (*dom.Document, error)

	// SetNativeValue writes a text field through the prototype value setter.
	SetNativeValue(ctx context.Context, ref, text string) error
	// InsertText selects the editable region's content and runs the
	// insertText editing command. It returns false when the command is
	// unavailable or refused. With keepFocus the previously focused
	// element gets focus back afterwards.
	InsertText(ctx context.Context, ref, text string, keepFocus bool) (bool, error)
	// SetTextContent overwrites the region's text, or that of its single
	// structural child when viaChild is set.
	SetTextContent(ctx context.Context, ref, text string, viaChild bool) error
	// ReadText returns the value of a text field or the text of an
	// editable region.
	ReadText(ctx context.Context, ref string) (string, error)
	// SetHostValue sets the value property of the element's shadow host.
	SetHostValue(ctx context.Context, ref, text string) error

	Focus(ctx context.Context, ref string) error
	Dispatch(ctx context.Context, ref string, events ...Event) error
	Navigate(ctx context.Context, url string) error
}
