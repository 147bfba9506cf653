package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"chatcast/internal/bus"
	"chatcast/internal/dom"
	"chatcast/internal/domain"
	"chatcast/internal/inject"
	"chatcast/internal/metrics"
	"chatcast/internal/profile"
	"chatcast/internal/resolve"
)

const (
	defaultSyncAttempts   = 5
	defaultSyncRetryDelay = 400 * time.Millisecond
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Page           domain.Page
	Site           string // profile name, for status only
	Profiles       *profile.Table
	Timing         inject.Timing
	SyncAttempts   int
	SyncRetryDelay time.Duration
	Limiter        *RateLimiter
	Events         *bus.EventBus
	Logger         *slog.Logger
}

// Status is what the panel shows per page.
type Status struct {
	Page        string            `json:"page"`
	Site        string            `json:"site"`
	URL         string            `json:"url"`
	LastIntent  domain.IntentKind `json:"lastIntent,omitempty"`
	LastOutcome string            `json:"lastOutcome,omitempty"`
	LastError   string            `json:"lastError,omitempty"`
	Handled     int               `json:"handled"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Worker handles intents for one page, one at a time.
type Worker struct {
	cfg       WorkerConfig
	logger    *slog.Logger
	injector  *inject.Injector
	submitter *inject.Submitter
	diag      inject.Diag

	mu     sync.Mutex
	status Status
}

// NewWorker creates a worker for cfg.Page.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.SyncAttempts <= 0 {
		cfg.SyncAttempts = defaultSyncAttempts
	}
	if cfg.SyncRetryDelay <= 0 {
		cfg.SyncRetryDelay = defaultSyncRetryDelay
	}
	if cfg.Profiles == nil {
		cfg.Profiles = profile.NewTable()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("page", cfg.Page.ID())
	diag := inject.Diag{Logger: logger, Events: cfg.Events}
	return &Worker{
		cfg:       cfg,
		logger:    logger,
		injector:  inject.NewInjector(diag),
		submitter: inject.NewSubmitter(cfg.Timing, diag),
		diag:      diag,
		status:    Status{Page: cfg.Page.ID(), Site: cfg.Site},
	}
}

// ID returns the page id.
func (w *Worker) ID() string { return w.cfg.Page.ID() }

// Status returns a copy of the page status.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Run drains intents until the channel closes or ctx is done. Queued syncs
// superseded by a newer sync are skipped.
func (w *Worker) Run(ctx context.Context, intents <-chan domain.Intent) {
	w.logger.Info("page worker started", "site", w.cfg.Site)
	defer w.logger.Info("page worker stopped")

	var pending *domain.Intent
	for {
		var in domain.Intent
		if pending != nil {
			in, pending = *pending, nil
		} else {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-intents:
				if !ok {
					return
				}
				in = next
			}
		}

		if in.Kind == domain.IntentSync {
			in, pending = latestSync(in, intents)
		}
		_ = w.Handle(ctx, in)
	}
}

// latestSync skips over queued syncs and returns the newest one, plus the
// first non-sync intent found behind it, if any.
func latestSync(in domain.Intent, intents <-chan domain.Intent) (domain.Intent, *domain.Intent) {
	for {
		select {
		case next, ok := <-intents:
			if !ok {
				return in, nil
			}
			if next.Kind != domain.IntentSync {
				return in, &next
			}
			in = next
		default:
			return in, nil
		}
	}
}

// Handle runs one intent to completion. Panics from page code are
// recovered and reported as errors; nothing escapes to the caller's
// goroutine.
func (w *Worker) Handle(ctx context.Context, in domain.Intent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s: %v", in.Kind, r)
			w.logger.Error("intent panic", "intent", in.Kind, "id", in.ID, "panic", r, "stack", string(debug.Stack()))
		}
		w.finish(in, err)
	}()

	metrics.IntentsTotal(string(in.Kind)).Inc()
	w.cfg.Events.Report(bus.EventIntentReceived, w.ID(), "kind", string(in.Kind), "id", in.ID)

	switch in.Kind {
	case domain.IntentSync:
		return w.sync(ctx, in.Text)
	case domain.IntentSend:
		return w.send(ctx, in.Text)
	case domain.IntentNewConversation:
		return w.newConversation(ctx)
	default:
		return fmt.Errorf("unknown intent kind %q", in.Kind)
	}
}

func (w *Worker) finish(in domain.Intent, err error) {
	w.mu.Lock()
	w.status.LastIntent = in.Kind
	w.status.Handled++
	w.status.UpdatedAt = time.Now()
	w.status.LastError = ""
	if err != nil {
		w.status.LastOutcome = "error"
		w.status.LastError = err.Error()
	}
	w.mu.Unlock()

	if err != nil {
		metrics.IntentErrors(string(in.Kind)).Inc()
		if errors.Is(err, context.Canceled) {
			return
		}
		w.logger.Warn("intent failed", "intent", in.Kind, "id", in.ID, "err", err)
	}
	w.cfg.Events.Report(bus.EventIntentDone, w.ID(), "kind", string(in.Kind), "id", in.ID, "ok", err == nil)
}

func (w *Worker) setOutcome(outcome string) {
	w.mu.Lock()
	w.status.LastOutcome = outcome
	w.mu.Unlock()
}

// snapshot captures the page and looks up its profile.
func (w *Worker) snapshot(ctx context.Context) (*dom.Document, *profile.Profile, error) {
	doc, err := w.cfg.Page.Snapshot(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: %w", err)
	}
	w.mu.Lock()
	w.status.URL = doc.URL
	w.mu.Unlock()
	if p, ok := w.cfg.Profiles.Lookup(doc.Host); ok {
		return doc, &p, nil
	}
	return doc, nil, nil
}

func (w *Worker) resolveInput(doc *dom.Document, p *profile.Profile) (resolve.Result, error) {
	start := time.Now()
	res, err := resolve.Resolve(doc, resolve.RoleInput, p, nil)
	metrics.ResolveLatency.Since(start)
	if err != nil {
		metrics.ResolveFailures(string(resolve.RoleInput)).Inc()
		w.cfg.Events.Report(bus.EventResolveFailed, w.ID(), "role", string(resolve.RoleInput), "err", err.Error())
	}
	return res, err
}

// sync mirrors text without taking focus. Resolution is retried for pages
// still rendering after navigation.
func (w *Worker) sync(ctx context.Context, text string) error {
	if err := w.cfg.Limiter.Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.SyncAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, w.cfg.SyncRetryDelay); err != nil {
				return err
			}
		}

		doc, p, err := w.snapshot(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if p != nil && p.SkipRealtimeSync {
			w.logger.Debug("sync skipped by profile", "site", p.Name)
			w.setOutcome("skipped")
			return nil
		}

		res, err := w.resolveInput(doc, p)
		if err != nil {
			lastErr = err
			w.logger.Debug("input not ready", "attempt", attempt, "err", err)
			continue
		}
		if err := w.injector.Inject(ctx, w.cfg.Page, res.El, text, p, inject.Passive); err != nil {
			return fmt.Errorf("sync inject: %w", err)
		}
		w.setOutcome("synced")
		return nil
	}
	return fmt.Errorf("sync gave up after %d attempts: %w", w.cfg.SyncAttempts, lastErr)
}

// send fills the input taking focus and submits. A failed resolution is
// final for this intent.
func (w *Worker) send(ctx context.Context, text string) error {
	doc, p, err := w.snapshot(ctx)
	if err != nil {
		return err
	}
	res, err := w.resolveInput(doc, p)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := w.injector.Inject(ctx, w.cfg.Page, res.El, text, p, inject.Active); err != nil {
		return fmt.Errorf("send inject: %w", err)
	}
	if err := sleepCtx(ctx, w.cfg.Timing.PostInject); err != nil {
		return err
	}
	out, err := w.submitter.Submit(ctx, w.cfg.Page, res.El.Ref, p)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	w.setOutcome("sent:" + string(out))
	return nil
}

func (w *Worker) newConversation(ctx context.Context) error {
	doc, p, err := w.snapshot(ctx)
	if err != nil {
		return err
	}
	if err := inject.NewConversation(ctx, w.cfg.Page, doc, p, w.diag); err != nil {
		return err
	}
	w.setOutcome("new conversation")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
