package notification

import (
	"context"
	"log/slog"
	"sync"
)

// Async hands events to a fixed set of workers so slow downstreams never
// delay the caller. Events are dropped and logged when the queue is full.
type Async struct {
	next   Notifier
	logger *slog.Logger
	jobs   chan Event
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts workers goroutines draining a queue of the given depth.
func NewAsync(next Notifier, workers, depth int, logger *slog.Logger) *Async {
	if workers <= 0 {
		workers = 1
	}
	if depth <= 0 {
		depth = 1024
	}
	a := &Async{next: next, logger: logger, jobs: make(chan Event, depth)}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			for event := range a.jobs {
				if err := a.next.Send(context.Background(), event); err != nil {
					a.logger.Warn("notification delivery failed",
						"transaction_id", event.Entry.ID, "error", err)
				}
			}
		}()
	}
	return a
}

// Send enqueues the event without blocking.
func (a *Async) Send(_ context.Context, event Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.logger.Warn("notification queue closed, event dropped", "transaction_id", event.Entry.ID)
		return nil
	}
	select {
	case a.jobs <- event:
	default:
		a.logger.Warn("notification queue full, event dropped", "transaction_id", event.Entry.ID)
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.jobs)
	a.mu.Unlock()
	a.wg.Wait()
}
