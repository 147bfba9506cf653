package agent

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"chatcast/internal/domain"
	"chatcast/internal/metrics"
)

// Pool runs one Worker per page, each on its own bus subscription.
type Pool struct {
	bus    domain.IntentBus
	logger *slog.Logger

	mu      sync.RWMutex
	workers map[string]*Worker
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates an empty pool fed by b.
func NewPool(b domain.IntentBus, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		bus:     b,
		logger:  logger,
		workers: make(map[string]*Worker),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start subscribes w and runs it until ctx is done or Stop is called. A
// worker for the same page replaces the old one.
func (p *Pool) Start(ctx context.Context, w *Worker) {
	p.Stop(w.ID())

	wctx, cancel := context.WithCancel(ctx)
	intents := p.bus.Subscribe(w.ID())

	p.mu.Lock()
	p.workers[w.ID()] = w
	p.cancels[w.ID()] = cancel
	p.mu.Unlock()
	metrics.PagesOpen.Inc()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer metrics.PagesOpen.Dec()
		w.Run(wctx, intents)
	}()
}

// Stop ends the page's worker and drops its subscription.
func (p *Pool) Stop(pageID string) {
	p.mu.Lock()
	cancel, ok := p.cancels[pageID]
	delete(p.cancels, pageID)
	delete(p.workers, pageID)
	p.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	p.bus.Unsubscribe(pageID)
}

// Status returns every page's status ordered by page id.
func (p *Pool) Status() []Status {
	p.mu.RLock()
	out := make([]Status, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.Status())
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out
}

// Len returns the number of running workers.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// Close stops every worker and waits for them to exit.
func (p *Pool) Close() {
	p.mu.RLock()
	ids := make([]string, 0, len(p.cancels))
	for id := range p.cancels {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	for _, id := range ids {
		p.Stop(id)
	}
	p.wg.Wait()
	p.logger.Info("page workers stopped", "count", len(ids))
}
