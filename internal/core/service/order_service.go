package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/escrow-relay/internal/core/domain"
	"github.com/rl1809/escrow-relay/internal/port"
)

const (
	DefaultAutoConfirmWindow = 24 * time.Hour
	DefaultReleaseLockTTL    = time.Minute
	DefaultSweepBatchSize    = 100

	maxWriteAttempts = 5
	maxReviewLength  = 2000
)

// Options carries every collaborator of the lifecycle manager. Notifier, Events and
// Timer are optional.
type Options struct {
	Orders   port.OrderRepository
	Reviews  port.ReviewRepository
	Cache    port.CacheRepository
	Releaser port.FundsReleaser
	Notifier port.Notifier
	Events   port.EventPublisher
	Timer    port.ReleaseTimer

	AutoConfirmWindow time.Duration
	ReleaseLockTTL    time.Duration
	SweepBatchSize    int
	Categories        []string

	Now    func() time.Time
	Logger *slog.Logger
}

// OrderService is the only writer of order state. Every transition is evaluated on
// domain.Delivery and persisted with a version-conditioned write.
type OrderService struct {
	orders   port.OrderRepository
	reviews  port.ReviewRepository
	cache    port.CacheRepository
	releaser port.FundsReleaser
	notifier port.Notifier
	events   port.EventPublisher
	timer    port.ReleaseTimer

	window     time.Duration
	lockTTL    time.Duration
	batch      int
	categories []string
	now        func() time.Time
	logger     *slog.Logger
}

func NewOrderService(opts Options) *OrderService {
	s := &OrderService{
		orders:     opts.Orders,
		reviews:    opts.Reviews,
		cache:      opts.Cache,
		releaser:   opts.Releaser,
		notifier:   opts.Notifier,
		events:     opts.Events,
		timer:      opts.Timer,
		window:     opts.AutoConfirmWindow,
		lockTTL:    opts.ReleaseLockTTL,
		batch:      opts.SweepBatchSize,
		categories: opts.Categories,
		now:        opts.Now,
		logger:     opts.Logger,
	}
	if s.window <= 0 {
		s.window = DefaultAutoConfirmWindow
	}
	if s.lockTTL <= 0 {
		s.lockTTL = DefaultReleaseLockTTL
	}
	if s.batch <= 0 {
		s.batch = DefaultSweepBatchSize
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *OrderService) AutoConfirmWindow() time.Duration {
	return s.window
}

// RecordPayment upserts the order keyed by the payment's transaction id. A repeated
// webhook updates the mutable payment fields and never touches the delivery record.
func (s *OrderService) RecordPayment(ctx context.Context, p domain.Payment) (domain.Order, bool, error) {
	p = p.Normalize(s.categories)
	if err := p.Validate(); err != nil {
		return domain.Order{}, false, err
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		existing, err := s.orders.GetOrder(ctx, p.TransactionID)
		if err != nil {
			return domain.Order{}, false, dependency("get order", err)
		}
		now := s.now().UTC()

		if existing == nil {
			order := domain.Order{
				ID:            uuid.NewString(),
				TransactionID: p.TransactionID,
				Buyer:         p.Buyer,
				Amount:        p.Amount,
				Currency:      p.Currency,
				LineItems:     p.LineItems,
				Category:      p.Category,
				PaymentMethod: p.Method,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			err := s.orders.CreateOrder(ctx, order)
			if errors.Is(err, port.ErrDuplicate) {
				continue
			}
			if err != nil {
				return domain.Order{}, false, dependency("create order", err)
			}

			s.logger.Info("payment recorded",
				"transaction_id", order.TransactionID,
				"amount", order.Amount.StringFixed(2),
				"currency", order.Currency,
				"method", order.PaymentMethod)
			s.notify(ctx, domain.AudienceAdmin, purchaseMessage(order, false), order.TransactionID)
			s.publish(ctx, domain.NewOrderEvent(domain.EventTypePaymentRecorded, order, now))
			return order, true, nil
		}

		if samePayment(*existing, p) {
			return *existing, false, nil
		}

		updated := *existing
		updated.Buyer = p.Buyer
		updated.Amount = p.Amount
		updated.Currency = p.Currency
		updated.LineItems = p.LineItems
		updated.Category = p.Category
		updated.PaymentMethod = p.Method
		updated.UpdatedAt = now

		err = s.orders.UpdateOrder(ctx, updated)
		if errors.Is(err, port.ErrOptimisticLock) {
			continue
		}
		if err != nil {
			return domain.Order{}, false, dependency("update order", err)
		}
		updated.Version++

		s.logger.Info("payment updated", "transaction_id", updated.TransactionID, "version", updated.Version)
		return updated, false, nil
	}
	return domain.Order{}, false, fmt.Errorf("%w: record payment %s", domain.ErrConflict, p.TransactionID)
}

// MarkDelivered moves a pending order to delivered and arms the auto-release timer.
func (s *OrderService) MarkDelivered(ctx context.Context, transactionID string) (domain.Order, error) {
	order, err := s.transition(ctx, transactionID, domain.EventMarkDelivered)
	if err != nil {
		return order, err
	}

	deadline := order.Delivery.Deadline(s.window)
	if s.timer != nil {
		s.timer.Arm(order.TransactionID, deadline)
	}
	s.logger.Info("order delivered", "transaction_id", transactionID, "auto_confirm_at", deadline)
	s.notify(ctx, domain.AudienceAdmin, deliveredMessage(order, deadline), transactionID)
	s.notify(ctx, domain.AudienceBuyer, deliveredMessage(order, deadline), transactionID)
	s.publish(ctx, domain.NewOrderEvent(domain.EventTypeDelivered, order, order.UpdatedAt))
	return order, nil
}

// OpenDispute sets the reserved dispute flag, which only suppresses auto-confirmation.
// It takes the release lock so it cannot interleave with an in-flight payout.
func (s *OrderService) OpenDispute(ctx context.Context, transactionID string) (domain.Order, error) {
	key := releaseLockKey(transactionID)
	token, ok, err := s.cache.AcquireLock(ctx, key, s.lockTTL)
	if err != nil {
		return domain.Order{}, dependency("acquire release lock", err)
	}
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: release of %s in progress", domain.ErrConflict, transactionID)
	}
	defer s.unlock(ctx, key, token)

	order, err := s.transition(ctx, transactionID, domain.EventOpenDispute)
	if err != nil {
		return order, err
	}
	if s.timer != nil {
		s.timer.Disarm(transactionID)
	}
	s.logger.Warn("dispute opened", "transaction_id", transactionID)
	s.notify(ctx, domain.AudienceAdmin, disputeMessage(order), transactionID)
	s.publish(ctx, domain.NewOrderEvent(domain.EventTypeDisputeOpened, order, order.UpdatedAt))
	return order, nil
}

// ConfirmReceipt records the buyer's confirmation and releases the funds.
func (s *OrderService) ConfirmReceipt(ctx context.Context, transactionID string) (domain.Order, error) {
	order, err := s.settle(ctx, transactionID, domain.EventConfirmReceipt, s.now().UTC())
	if errors.Is(err, domain.ErrConflict) {
		current, getErr := s.load(ctx, transactionID)
		if getErr != nil {
			return order, err
		}
		switch current.State() {
		case domain.StateConfirmedByBuyer:
			return current, nil
		case domain.StateAutoConfirmed:
			return current, fmt.Errorf("%w: order already auto-confirmed", domain.ErrInvalidState)
		}
		return current, err
	}
	if err != nil {
		return order, err
	}

	s.afterSettle(ctx, order, domain.EventTypeConfirmed)
	return order, nil
}

// AutoConfirmExpired auto-confirms every order whose window elapsed at now and returns
// how many were confirmed. Orders whose payout fails stay delivered for the next pass.
func (s *OrderService) AutoConfirmExpired(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	orders, err := s.orders.ListDueForAutoConfirm(ctx, now.Add(-s.window), s.batch)
	if err != nil {
		return 0, dependency("list due orders", err)
	}

	count := 0
	var errs []error
	for _, o := range orders {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		ok, err := s.autoConfirm(ctx, o.TransactionID, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			count++
		}
	}

	if len(orders) > 0 {
		s.logger.Info("sweep finished", "candidates", len(orders), "confirmed", count, "failed", len(errs))
	}
	return count, errors.Join(errs...)
}

// SweepExpired runs AutoConfirmExpired at the service clock's current time.
func (s *OrderService) SweepExpired(ctx context.Context) (int, error) {
	return s.AutoConfirmExpired(ctx, s.now())
}

// AutoConfirmDue auto-confirms a single order if its deadline has passed. Used by the
// in-process timer; a no-op when the guard no longer holds.
func (s *OrderService) AutoConfirmDue(ctx context.Context, transactionID string) (bool, error) {
	return s.autoConfirm(ctx, transactionID, s.now().UTC())
}

func (s *OrderService) GetOrderStatus(ctx context.Context, transactionID string) (domain.Order, error) {
	return s.load(ctx, transactionID)
}

func (s *OrderService) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", domain.ErrValidation, filter.State)
	}
	orders, err := s.orders.ListOrders(ctx, filter)
	if err != nil {
		return nil, dependency("list orders", err)
	}
	return orders, nil
}

// ResendNotification repeats the purchase notification for an existing order.
func (s *OrderService) ResendNotification(ctx context.Context, transactionID string) error {
	order, err := s.load(ctx, transactionID)
	if err != nil {
		return err
	}
	if s.notifier == nil {
		return fmt.Errorf("%w: no notifier configured", domain.ErrDependency)
	}
	if err := s.notifier.Notify(ctx, domain.AudienceAdmin, purchaseMessage(order, true)); err != nil {
		return dependency("notify", err)
	}
	return nil
}

func (s *OrderService) autoConfirm(ctx context.Context, transactionID string, now time.Time) (bool, error) {
	order, err := s.settle(ctx, transactionID, domain.EventAutoConfirm, now)
	switch {
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
		s.logger.Debug("auto-confirm skipped", "transaction_id", transactionID, "reason", err)
		return false, nil
	case err != nil:
		s.logger.Error("auto-confirm failed", "transaction_id", transactionID, "error", err)
		return false, err
	}

	s.afterSettle(ctx, order, domain.EventTypeAutoConfirmed)
	return true, nil
}

// settle drives an order into a terminal state. The payout runs under the per-order
// release lock and the terminal flag is written only after it succeeded.
func (s *OrderService) settle(ctx context.Context, transactionID string, ev domain.Event, now time.Time) (domain.Order, error) {
	order, err := s.load(ctx, transactionID)
	if err != nil {
		return order, err
	}
	if _, err := order.Delivery.Apply(ev, now, s.window); err != nil {
		return order, err
	}

	key := releaseLockKey(transactionID)
	token, ok, err := s.cache.AcquireLock(ctx, key, s.lockTTL)
	if err != nil {
		return order, dependency("acquire release lock", err)
	}
	if !ok {
		return order, fmt.Errorf("%w: release of %s already in progress", domain.ErrConflict, transactionID)
	}
	defer s.unlock(ctx, key, token)

	// Re-check under the lock: a concurrent winner has already moved the order on.
	order, err = s.load(ctx, transactionID)
	if err != nil {
		return order, err
	}
	next, err := order.Delivery.Apply(ev, now, s.window)
	if err != nil {
		return order, err
	}

	if err := s.releaser.Release(ctx, order); err != nil {
		s.logger.Error("funds release failed", "transaction_id", transactionID, "event", ev, "error", err)
		return order, dependency("release funds", err)
	}

	settled, err := s.persistDelivery(ctx, order, next, now)
	if err != nil {
		s.logger.Error("CRITICAL funds released but confirmation not persisted",
			"transaction_id", transactionID, "event", ev, "error", err)
		return order, err
	}
	return settled, nil
}

// transition applies a non-payout event with optimistic retries.
func (s *OrderService) transition(ctx context.Context, transactionID string, ev domain.Event) (domain.Order, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		order, err := s.load(ctx, transactionID)
		if err != nil {
			return order, err
		}
		now := s.now().UTC()
		next, err := order.Delivery.Apply(ev, now, s.window)
		if err != nil {
			return order, err
		}

		order.Delivery = next
		order.UpdatedAt = now
		err = s.orders.UpdateOrder(ctx, order)
		if errors.Is(err, port.ErrOptimisticLock) {
			continue
		}
		if err != nil {
			return order, dependency("update order", err)
		}
		order.Version++
		return order, nil
	}
	return domain.Order{}, fmt.Errorf("%w: %s on %s", domain.ErrConflict, ev, transactionID)
}

// persistDelivery writes next onto order. A version conflict caused by an unrelated
// update (a repeated webhook) is retried as long as the stored delivery is unchanged.
func (s *OrderService) persistDelivery(ctx context.Context, order domain.Order, next domain.Delivery, now time.Time) (domain.Order, error) {
	expected := order.Delivery
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		order.Delivery = next
		order.UpdatedAt = now
		err := s.orders.UpdateOrder(ctx, order)
		if err == nil {
			order.Version++
			return order, nil
		}
		if !errors.Is(err, port.ErrOptimisticLock) {
			return order, dependency("update order", err)
		}

		fresh, err := s.load(ctx, order.TransactionID)
		if err != nil {
			return order, err
		}
		if fresh.State() != expected.State() || fresh.Delivery.DisputeOpened != expected.DisputeOpened {
			return fresh, fmt.Errorf("%w: delivery of %s changed during release", domain.ErrConflict, order.TransactionID)
		}
		order = fresh
	}
	return order, fmt.Errorf("%w: persist delivery of %s", domain.ErrConflict, order.TransactionID)
}

func (s *OrderService) afterSettle(ctx context.Context, order domain.Order, t domain.EventType) {
	if s.timer != nil {
		s.timer.Disarm(order.TransactionID)
	}
	s.logger.Info("order settled", "transaction_id", order.TransactionID, "state", order.State())
	msg := confirmedMessage(order)
	s.notify(ctx, domain.AudienceAdmin, msg, order.TransactionID)
	s.notify(ctx, domain.AudienceBuyer, msg, order.TransactionID)
	s.publish(ctx, domain.NewOrderEvent(t, order, order.UpdatedAt))
}

func (s *OrderService) load(ctx context.Context, transactionID string) (domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, transactionID)
	if err != nil {
		return domain.Order{}, dependency("get order", err)
	}
	if order == nil {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrNotFound, transactionID)
	}
	return *order, nil
}

func (s *OrderService) unlock(ctx context.Context, key, token string) {
	if err := s.cache.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
		s.logger.Warn("failed to drop release lock", "key", key, "error", err)
	}
}

func (s *OrderService) notify(ctx context.Context, audience domain.Audience, msg, transactionID string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, audience, msg); err != nil {
		s.logger.Warn("notification failed", "transaction_id", transactionID, "audience", audience, "error", err)
	}
}

func (s *OrderService) publish(ctx context.Context, ev domain.OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("event publish failed", "transaction_id", ev.TransactionID, "event", ev.Type, "error", err)
	}
}

func releaseLockKey(transactionID string) string {
	return "release:" + transactionID
}

func dependency(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrDependency, err)
}

func samePayment(o domain.Order, p domain.Payment) bool {
	if o.Buyer != p.Buyer || !o.Amount.Equal(p.Amount) || o.Currency != p.Currency ||
		o.Category != p.Category || o.PaymentMethod != p.Method || len(o.LineItems) != len(p.LineItems) {
		return false
	}
	for i, li := range o.LineItems {
		other := p.LineItems[i]
		if li.Name != other.Name || li.Quantity != other.Quantity || !li.UnitPrice.Equal(other.UnitPrice) {
			return false
		}
	}
	return true
}
