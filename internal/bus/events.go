package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event is a diagnostic record: what a page worker tried and how it went.
type Event struct {
	Type      string         `json:"type"`   // e.g. "intent.received", "resolve.failed", "submit.clicked"
	Source    string         `json:"source"` // page id, or "coordinator"
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is the diagnostic event log. Handlers subscribe by type or "*";
// the last maxHistory events are kept for the panel and `chatcast probe`.
// A nil *EventBus discards everything.
type EventBus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
	nextID     int
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

// NewEventBus creates an event log holding the last 500 events.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: 500,
	}
}

// On registers a handler for eventType ("*" for all) and returns its id.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by id.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit records the event and calls handlers synchronously. A panicking
// handler is logged and skipped.
func (eb *EventBus) Emit(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Report is Emit with the payload given as key/value pairs, the way slog
// takes attributes.
func (eb *EventBus) Report(eventType, source string, kv ...any) {
	if eb == nil {
		return
	}
	payload := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			payload[k] = kv[i+1]
		}
	}
	eb.Emit(Event{Type: eventType, Source: source, Payload: payload})
}

// Replay returns events of eventType ("*" for all) at or after since.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// Recent returns up to n of the newest events, oldest first.
func (eb *EventBus) Recent(n int) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if n <= 0 || n > len(eb.history) {
		n = len(eb.history)
	}
	out := make([]Event, n)
	copy(out, eb.history[len(eb.history)-n:])
	return out
}

// HistoryLen returns the number of events held.
func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}

// --- Well-known event types ---
const (
	EventIntentReceived    = "intent.received"
	EventIntentDone        = "intent.done"
	EventResolveFailed     = "resolve.failed"
	EventInjectFallback    = "inject.fallback"
	EventSubmitClicked     = "submit.clicked"
	EventSubmitKeyboard    = "submit.keyboard"
	EventConversationReset = "conversation.reset"
	EventPageStatus        = "page.status"
	EventProfilesReloaded  = "profiles.reloaded"
)
