// Package coordinator turns operator keystrokes into intents. Typing is
// debounced into Sync intents, IME composition is flushed as soon as it
// commits, and submit or Enter turns the buffer into a Send.
package coordinator

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatcast/internal/domain"
)

// DefaultQuiet is the debounce window for Sync.
const DefaultQuiet = 150 * time.Millisecond

// Publisher receives intents. domain.IntentBus satisfies it.
type Publisher interface {
	Publish(in domain.Intent)
}

// Config configures a Coordinator.
type Config struct {
	Quiet     time.Duration
	Publisher Publisher
	Logger    *slog.Logger
}

// Coordinator owns the operator's text buffer. It is safe for concurrent
// use by several channels.
type Coordinator struct {
	mu        sync.Mutex
	quiet     time.Duration
	pub       Publisher
	logger    *slog.Logger
	buffer    string
	composing bool
	timer     *time.Timer
	gen       uint64
	closed    bool

	// emitMu orders publishes. It is taken before mu is released, so
	// intents reach the publisher in the order the buffer changed.
	emitMu sync.Mutex
}

var _ domain.Broadcaster = (*Coordinator)(nil)

// New creates a coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Quiet <= 0 {
		cfg.Quiet = DefaultQuiet
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{quiet: cfg.Quiet, pub: cfg.Publisher, logger: cfg.Logger}
}

// Input replaces the buffer. Outside composition it (re)starts the quiet
// period; only the last buffer in a burst is synced.
func (c *Coordinator) Input(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.buffer = text
	if c.composing {
		return
	}
	c.scheduleLocked()
}

// CompositionStart marks the start of IME input. A pending sync would
// carry half-composed text, so it is dropped.
func (c *Coordinator) CompositionStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.composing = true
	c.cancelLocked()
}

// CompositionEnd commits the composed buffer and syncs it at once.
func (c *Coordinator) CompositionEnd(text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.composing = false
	c.buffer = text
	c.cancelLocked()
	c.publishUnlock(domain.IntentSync, text)
}

// Key handles a key press in the operator's input. Enter without Shift
// outside composition submits.
func (c *Coordinator) Key(key string, shift bool) {
	if key != "Enter" || shift {
		return
	}
	c.mu.Lock()
	composing := c.composing
	c.mu.Unlock()
	if composing {
		return
	}
	c.Submit()
}

// Submit sends the trimmed buffer and clears it. A blank buffer sends
// nothing.
func (c *Coordinator) Submit() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	text := strings.TrimSpace(c.buffer)
	if text == "" {
		c.mu.Unlock()
		return
	}
	c.buffer = ""
	c.cancelLocked()
	c.publishUnlock(domain.IntentSend, text)
}

// NewConversation asks every page to start a fresh conversation.
func (c *Coordinator) NewConversation() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.publish(domain.IntentNewConversation, "")
}

// Emit publishes an intent without touching the buffer. Channels that
// have no keystroke stream (CLI, Telegram) use it.
func (c *Coordinator) Emit(kind domain.IntentKind, text string) {
	if !kind.Valid() {
		c.logger.Warn("unknown intent kind", "kind", kind)
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.publish(kind, text)
}

// Buffer returns the current buffer.
func (c *Coordinator) Buffer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer
}

// Composing reports whether IME composition is in progress.
func (c *Coordinator) Composing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.composing
}

// Close cancels any pending sync and ignores further input.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cancelLocked()
}

func (c *Coordinator) scheduleLocked() {
	c.cancelLocked()
	gen := c.gen
	c.timer = time.AfterFunc(c.quiet, func() { c.fire(gen) })
}

// cancelLocked stops the pending timer. Bumping gen makes a timer that
// already fired but has not taken the lock yet a no-op.
func (c *Coordinator) cancelLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.closed || c.composing {
		c.mu.Unlock()
		return
	}
	text := c.buffer
	c.timer = nil
	c.publishUnlock(domain.IntentSync, text)
}

// publishUnlock is called with mu held and releases it once the publish
// slot is taken.
func (c *Coordinator) publishUnlock(kind domain.IntentKind, text string) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Unlock()
	c.publish(kind, text)
}

func (c *Coordinator) publish(kind domain.IntentKind, text string) {
	if c.pub == nil {
		return
	}
	in := domain.NewIntent(kind, text)
	c.logger.Debug("intent", "kind", kind, "id", in.ID, "len", len(text))
	c.pub.Publish(in)
}
