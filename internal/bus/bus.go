package bus

import (
	"log/slog"
	"sync"
	"time"

	"chatcast/internal/domain"
)

const publishTimeout = 2 * time.Second

// InMemoryBus fans every published intent out to one queue per page. A
// sync arriving at a full queue replaces the oldest queued sync, so the
// newest buffer always reaches the page. Send and new-conversation intents
// wait briefly for room before dropping.
type InMemoryBus struct {
	subs     map[string]*subscription
	mu       sync.RWMutex
	closed   bool
	buffer   int
	logger   *slog.Logger
	observer func(domain.Intent)
}

// New creates a bus whose subscriptions queue bufferSize intents.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &InMemoryBus{
		subs:   make(map[string]*subscription),
		buffer: bufferSize,
		logger: logger,
	}
}

// OnPublish registers a callback run for every published intent, before
// fan-out. Used for metrics and the event log.
func (b *InMemoryBus) OnPublish(fn func(domain.Intent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = fn
}

// Publish never blocks the coordinator for long. With no subscribers it
// is a silent no-op.
func (b *InMemoryBus) Publish(in domain.Intent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "intent", in.Kind)
		return
	}
	if b.observer != nil {
		b.observer(in)
	}

	for page, s := range b.subs {
		if s.push(in) {
			continue
		}

		b.logger.Warn("page queue full, waiting...", "page", page, "intent", in.Kind)
		if s.wait(in, publishTimeout) {
			b.logger.Info("intent delivered after wait", "page", page, "intent", in.Kind)
			continue
		}
		b.logger.Error("intent dropped: page queue full",
			"page", page,
			"intent", in.Kind,
			"id", in.ID,
		)
	}
}

// Subscribe returns the page's intent channel, creating it on first use.
func (b *InMemoryBus) Subscribe(pageID string) <-chan domain.Intent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.subs[pageID]; ok {
		return s.out
	}
	if b.closed {
		ch := make(chan domain.Intent)
		close(ch)
		return ch
	}
	s := newSubscription(b.buffer)
	b.subs[pageID] = s
	return s.out
}

// Unsubscribe stops the page's queue. Its channel is closed once the
// queue's goroutine exits; intents still queued are discarded.
func (b *InMemoryBus) Unsubscribe(pageID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.subs[pageID]; ok {
		s.stop()
		delete(b.subs, pageID)
	}
}

// Subscribers returns the number of subscribed pages.
func (b *InMemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		for id, s := range b.subs {
			s.stop()
			delete(b.subs, id)
		}
	}
}

// subscription is one page's queue. A goroutine moves intents from queue
// to the unbuffered out channel one at a time; an intent it has taken off
// the queue is never replaced.
type subscription struct {
	out   chan domain.Intent
	limit int

	mu    sync.Mutex
	queue []domain.Intent

	wake     chan struct{}
	room     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSubscription(limit int) *subscription {
	s := &subscription{
		out:   make(chan domain.Intent),
		limit: limit,
		wake:  make(chan struct{}, 1),
		room:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go s.pump()
	return s
}

// push queues in if there is room. A sync always lands: on a full queue it
// takes the place of the oldest queued sync, or goes past the limit when
// none is queued.
func (s *subscription) push(in domain.Intent) bool {
	s.mu.Lock()
	switch {
	case len(s.queue) < s.limit:
		s.queue = append(s.queue, in)
	case in.Kind == domain.IntentSync:
		s.dropOldestSyncLocked()
		s.queue = append(s.queue, in)
	default:
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	notify(s.wake)
	return true
}

func (s *subscription) dropOldestSyncLocked() {
	for i, q := range s.queue {
		if q.Kind == domain.IntentSync {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// wait retries push each time the queue shrinks, until timeout or stop.
func (s *subscription) wait(in domain.Intent, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-s.room:
			if s.push(in) {
				return true
			}
		case <-s.done:
			return false
		case <-timer.C:
			return false
		}
	}
}

func (s *subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		notify(s.room)

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
