package coordinator

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"chatcast/internal/domain"
)

type recorder struct {
	mu      sync.Mutex
	intents []domain.Intent
}

func (r *recorder) Publish(in domain.Intent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, in)
}

func (r *recorder) all() []domain.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Intent(nil), r.intents...)
}

func newTestCoordinator(quiet time.Duration) (*Coordinator, *recorder) {
	rec := &recorder{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return New(Config{Quiet: quiet, Publisher: rec, Logger: logger}), rec
}

func TestCoordinator_DebounceCollapses(t *testing.T) {
	c, rec := newTestCoordinator(40 * time.Millisecond)
	defer c.Close()

	text := ""
	for _, r := range "hello" {
		text += string(r)
		c.Input(text)
	}
	time.Sleep(200 * time.Millisecond)

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 sync, got %d: %+v", len(got), got)
	}
	if got[0].Kind != domain.IntentSync || got[0].Text != "hello" {
		t.Errorf("intent = %+v", got[0])
	}
}

func TestCoordinator_CompositionFlushesImmediately(t *testing.T) {
	c, rec := newTestCoordinator(time.Hour)
	defer c.Close()

	c.Input("n")
	c.CompositionStart()
	c.Input("ni")
	c.Input("nih")
	c.CompositionEnd("你好")

	got := rec.all()
	if len(got) != 1 || got[0].Kind != domain.IntentSync || got[0].Text != "你好" {
		t.Fatalf("intents = %+v", got)
	}
	if c.Buffer() != "你好" || c.Composing() {
		t.Errorf("buffer=%q composing=%v", c.Buffer(), c.Composing())
	}
}

func TestCoordinator_CompositionCancelsPendingSync(t *testing.T) {
	c, rec := newTestCoordinator(30 * time.Millisecond)
	defer c.Close()

	c.Input("a")
	c.CompositionEnd("a啊")
	time.Sleep(120 * time.Millisecond)

	got := rec.all()
	if len(got) != 1 || got[0].Text != "a啊" {
		t.Errorf("intents = %+v", got)
	}
}

func TestCoordinator_NoSyncWhileComposing(t *testing.T) {
	c, rec := newTestCoordinator(20 * time.Millisecond)
	defer c.Close()

	c.CompositionStart()
	c.Input("zh")
	time.Sleep(80 * time.Millisecond)
	if got := rec.all(); len(got) != 0 {
		t.Errorf("sync emitted during composition: %+v", got)
	}
	c.Key("Enter", false)
	if got := rec.all(); len(got) != 0 {
		t.Errorf("Enter during composition sent: %+v", got)
	}
}

func TestCoordinator_SubmitSendsAndClears(t *testing.T) {
	c, rec := newTestCoordinator(30 * time.Millisecond)
	defer c.Close()

	c.Input("  hello  ")
	c.Key("Enter", false)
	time.Sleep(100 * time.Millisecond)

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("intents = %+v", got)
	}
	if got[0].Kind != domain.IntentSend || got[0].Text != "hello" {
		t.Errorf("intent = %+v", got[0])
	}
	if c.Buffer() != "" {
		t.Errorf("buffer = %q", c.Buffer())
	}
}

func TestCoordinator_ShiftEnterAndBlank(t *testing.T) {
	c, rec := newTestCoordinator(time.Hour)
	defer c.Close()

	c.Input("line")
	c.Key("Enter", true)
	c.Key("a", false)
	if len(rec.all()) != 0 {
		t.Errorf("unexpected intents %+v", rec.all())
	}

	c.Input("   ")
	c.Submit()
	if len(rec.all()) != 0 {
		t.Errorf("blank buffer was sent: %+v", rec.all())
	}
}

func TestCoordinator_NewConversationAndEmit(t *testing.T) {
	c, rec := newTestCoordinator(time.Hour)
	defer c.Close()

	c.Input("keep")
	c.NewConversation()
	c.Emit(domain.IntentSync, "direct")
	c.Emit("bogus", "x")

	got := rec.all()
	if len(got) != 2 {
		t.Fatalf("intents = %+v", got)
	}
	if got[0].Kind != domain.IntentNewConversation || got[1].Text != "direct" {
		t.Errorf("intents = %+v", got)
	}
	if c.Buffer() != "keep" {
		t.Error("NewConversation must not touch the buffer")
	}
}

func TestCoordinator_CloseStopsPending(t *testing.T) {
	c, rec := newTestCoordinator(20 * time.Millisecond)
	c.Input("x")
	c.Close()
	c.Input("y")
	time.Sleep(80 * time.Millisecond)
	if got := rec.all(); len(got) != 0 {
		t.Errorf("intents after Close: %+v", got)
	}
}

// gatedPublisher holds sync publishes until gate closes and records each
// intent once its publish returns.
type gatedPublisher struct {
	gate    chan struct{}
	entered chan domain.IntentKind
	rec     recorder
}

func (g *gatedPublisher) Publish(in domain.Intent) {
	g.entered <- in.Kind
	if in.Kind == domain.IntentSync {
		<-g.gate
	}
	g.rec.Publish(in)
}

func TestCoordinator_SubmitWaitsForInFlightSync(t *testing.T) {
	pub := &gatedPublisher{gate: make(chan struct{}), entered: make(chan domain.IntentKind, 4)}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	c := New(Config{Quiet: 10 * time.Millisecond, Publisher: pub, Logger: logger})
	defer c.Close()

	c.Input("draft")
	select {
	case kind := <-pub.entered:
		if kind != domain.IntentSync {
			t.Fatalf("first publish = %s", kind)
		}
	case <-time.After(time.Second):
		t.Fatal("debounced sync never published")
	}

	done := make(chan struct{})
	go func() {
		c.Submit()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("send published while the earlier sync was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(pub.gate)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit never returned")
	}

	got := pub.rec.all()
	if len(got) != 2 || got[0].Kind != domain.IntentSync || got[1].Kind != domain.IntentSend || got[1].Text != "draft" {
		t.Errorf("publish order = %+v", got)
	}
}
