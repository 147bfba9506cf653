package domain

import (
	"time"

	"github.com/google/uuid"
)

// IntentKind is the operator action an intent carries.
type IntentKind string

const (
	IntentSync            IntentKind = "sync"
	IntentSend            IntentKind = "send"
	IntentNewConversation IntentKind = "new_conversation"
)

// Valid reports whether k is one of the known kinds.
func (k IntentKind) Valid() bool {
	switch k {
	case IntentSync, IntentSend, IntentNewConversation:
		return true
	}
	return false
}

// Intent is one operator action fanned out to every page. It is never
// modified after publishing.
type Intent struct {
	ID   string
	Kind IntentKind
	Text string
	At   time.Time
}

// NewIntent stamps an intent with a fresh id and the current time.
func NewIntent(kind IntentKind, text string) Intent {
	return Intent{
		ID:   uuid.NewString(),
		Kind: kind,
		Text: text,
		At:   time.Now(),
	}
}
