package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/escrow-relay/internal/core/domain"
	"github.com/rl1809/escrow-relay/internal/port"
)

// mockStore keeps orders and reviews in memory with the same version semantics as the
// SQL adapter.
type mockStore struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	reviews []domain.Review

	// beforeUpdate runs under the lock before every conditional write
	beforeUpdate func(stored *domain.Order)
	failGet      error
}

func newMockStore() *mockStore {
	return &mockStore{orders: make(map[string]domain.Order)}
}

func (m *mockStore) GetOrder(ctx context.Context, transactionID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	o, ok := m.orders[transactionID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *mockStore) CreateOrder(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.TransactionID]; ok {
		return port.ErrDuplicate
	}
	order.Version = 0
	m.orders[order.TransactionID] = order
	return nil
}

func (m *mockStore) UpdateOrder(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.orders[order.TransactionID]
	if !ok {
		return port.ErrOptimisticLock
	}
	if m.beforeUpdate != nil {
		m.beforeUpdate(&stored)
		m.orders[order.TransactionID] = stored
	}
	if stored.Version != order.Version {
		return port.ErrOptimisticLock
	}
	order.Version++
	m.orders[order.TransactionID] = order
	return nil
}

func (m *mockStore) ListDueForAutoConfirm(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		d := o.Delivery
		if d.State() == domain.StateDelivered && !d.DisputeOpened && !d.DeliveredAt.After(cutoff) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Delivery.DeliveredAt.Before(*out[j].Delivery.DeliveredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if filter.State == "" || o.State() == filter.State {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockStore) AttachReview(ctx context.Context, review domain.Review, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[review.TransactionID]
	if !ok || o.ReviewLeft {
		return port.ErrReviewRejected
	}
	o.ReviewLeft = true
	o.ReviewerName = review.ReviewerName
	o.UpdatedAt = at
	o.Version++
	m.orders[review.TransactionID] = o
	m.reviews = append(m.reviews, review)
	return nil
}

func (m *mockStore) ListReviews(ctx context.Context, limit int) ([]domain.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.Review(nil), m.reviews...)
	return out, nil
}

func (m *mockStore) order(txn string) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[txn]
}

// Mock CacheRepository
type mockCacheRepo struct {
	idempotencySet map[string]bool
	locks          map[string]string
	mu             sync.Mutex

	// onContention runs when AcquireLock finds the key held
	onContention func()
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{
		idempotencySet: make(map[string]bool),
		locks:          make(map[string]string),
	}
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockCacheRepo) ClearIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotencySet, key)
	return nil
}

func (m *mockCacheRepo) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.locks[key]; held {
		if m.onContention != nil {
			m.onContention()
		}
		return "", false, nil
	}
	token := uuid.NewString()
	m.locks[key] = token
	return token, true, nil
}

func (m *mockCacheRepo) ReleaseLock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks[key] == token {
		delete(m.locks, key)
	}
	return nil
}

type mockReleaser struct {
	calls atomic.Int32
	delay time.Duration
	mu    sync.Mutex
	fail  error
	byTxn map[string]int
}

func newMockReleaser() *mockReleaser {
	return &mockReleaser{byTxn: make(map[string]int)}
}

func (m *mockReleaser) Release(ctx context.Context, order domain.Order) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.calls.Add(1)
	m.byTxn[order.TransactionID]++
	return nil
}

func (m *mockReleaser) setFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *mockReleaser) count(txn string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byTxn[txn]
}

type sentMessage struct {
	audience domain.Audience
	text     string
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	fail bool
}

func (m *mockNotifier) Notify(ctx context.Context, audience domain.Audience, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("telegram unreachable")
	}
	m.sent = append(m.sent, sentMessage{audience, message})
	return nil
}

func (m *mockNotifier) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (m *mockPublisher) Publish(ctx context.Context, ev domain.OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockPublisher) types() []domain.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.EventType
	for _, ev := range m.events {
		out = append(out, ev.Type)
	}
	return out
}

type mockTimer struct {
	mu    sync.Mutex
	armed map[string]time.Time
}

func (m *mockTimer) Arm(txn string, deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.armed == nil {
		m.armed = make(map[string]time.Time)
	}
	m.armed[txn] = deadline
}

func (m *mockTimer) Disarm(txn string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.armed, txn)
}

func (m *mockTimer) deadline(txn string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.armed[txn]
	return d, ok
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
