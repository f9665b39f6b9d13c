package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultSweepInterval = time.Minute
	dueQueueSize         = 256
)

// Sweeper is the part of OrderService the scheduler drives.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
	AutoConfirmDue(ctx context.Context, transactionID string) (bool, error)
}

// Scheduler runs the periodic auto-release sweep. Per-order timers armed through Arm
// only wake the loop early; losing them (restart, full queue) delays an order to the
// next sweep and never skips it.
type Scheduler struct {
	interval time.Duration
	logger   *slog.Logger
	due      chan string

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewScheduler(interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		logger:   logger,
		due:      make(chan string, dueQueueSize),
		timers:   make(map[string]*time.Timer),
	}
}

func (s *Scheduler) Arm(transactionID string, deadline time.Time) {
	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[transactionID]; ok {
		t.Stop()
	}
	s.timers[transactionID] = time.AfterFunc(delay, func() { s.fire(transactionID) })
}

func (s *Scheduler) Disarm(transactionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[transactionID]; ok {
		t.Stop()
		delete(s.timers, transactionID)
	}
}

// Armed returns the number of pending in-process timers.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) fire(transactionID string) {
	s.mu.Lock()
	delete(s.timers, transactionID)
	s.mu.Unlock()

	select {
	case s.due <- transactionID:
	default:
		s.logger.Warn("due queue full, leaving order to the sweep", "transaction_id", transactionID)
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, sweeper Sweeper) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.stopAll()

	s.logger.Info("auto-release scheduler started", "interval", s.interval)
	s.sweep(ctx, sweeper)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("auto-release scheduler stopped")
			return
		case <-ticker.C:
			s.sweep(ctx, sweeper)
		case txn := <-s.due:
			if _, err := sweeper.AutoConfirmDue(ctx, txn); err != nil {
				s.logger.Warn("early auto-confirm failed, sweep will retry", "transaction_id", txn, "error", err)
			}
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context, sweeper Sweeper) {
	n, err := sweeper.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("sweep pass incomplete", "confirmed", n, "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("sweep pass", "confirmed", n)
	}
}

func (s *Scheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
