package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
)

var (
	ErrQueueFull  = errors.New("event queue full")
	ErrSinkClosed = errors.New("event sink closed")
)

// Async hands events to a background worker so a slow sink never holds up
// the ledger write that produced them. Each delivery gets its own timeout,
// detached from the caller's context. Events are dropped when the queue is
// full.
type Async struct {
	name    string
	sink    Sink
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan models.StatusEvent
	done   chan struct{}
}

func NewAsync(name string, sink Sink, size int, timeout time.Duration, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 256
	}
	a := &Async{
		name:    name,
		sink:    sink,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan models.StatusEvent, size),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Publish(_ context.Context, e models.StatusEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrSinkClosed
	}
	select {
	case a.queue <- e:
		return nil
	default:
		observability.EventsDroppedTotal.WithLabelValues(a.name).Inc()
		return ErrQueueFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.sink.Publish(ctx, e); err != nil {
			a.logger.Warn("async event delivery failed", "sink", a.name, "request_id", e.RequestID, "to", e.To, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to drain or for
// ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
