package domain

import "context"

// Broadcaster is what operator channels drive. It is implemented by the
// coordinator.
type Broadcaster interface {
	Input(text string)
	CompositionStart()
	CompositionEnd(text string)
	Key(key string, shift bool)
	Submit()
	NewConversation()
	// Emit publishes an intent directly, bypassing the buffer.
	Emit(kind IntentKind, text string)
}

// Channel is an operator surface (web panel, CLI, Telegram).
type Channel interface {
	Name() string
	Start(ctx context.Context, b Broadcaster) error
	Stop() error
}
