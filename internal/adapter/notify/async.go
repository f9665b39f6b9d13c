package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rl1809/escrow-relay/internal/core/domain"
	"github.com/rl1809/escrow-relay/internal/port"
)

const (
	DefaultWorkers     = 4
	DefaultQueueSize   = 256
	DefaultSendTimeout = 10 * time.Second
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notifier closed")
)

type notification struct {
	audience domain.Audience
	message  string
}

type AsyncOptions struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// Async hands notifications to a fixed pool of workers so callers never wait on the
// underlying transport. Each send runs under its own SendTimeout.
type Async struct {
	next    port.Notifier
	queue   chan notification
	timeout time.Duration
	logger  *slog.Logger

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewAsync(next port.Notifier, opts AsyncOptions) *Async {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	a := &Async{
		next:    next,
		queue:   make(chan notification, opts.QueueSize),
		timeout: opts.SendTimeout,
		logger:  opts.Logger,
	}
	for i := 0; i < opts.Workers; i++ {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.workerLoop()
		}()
	}
	return a
}

// Notify enqueues the message and returns immediately. It fails with ErrQueueFull
// rather than block when every worker is busy and the queue is at capacity.
func (a *Async) Notify(ctx context.Context, audience domain.Audience, message string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	select {
	case a.queue <- notification{audience: audience, message: message}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *Async) workerLoop() {
	for n := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.next.Notify(ctx, n.audience, n.message)
		cancel()
		if err != nil {
			a.logger.Warn("notification send failed", "audience", n.audience, "error", err)
		}
	}
}

// Close stops intake and waits for queued messages to drain, or for ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
