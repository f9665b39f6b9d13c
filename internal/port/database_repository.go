package port

import (
	"context"
	"errors"
	"time"

	"github.com/rl1809/escrow-relay/internal/core/domain"
)

var (
	// ErrOptimisticLock is returned when a conditional write finds a different version.
	ErrOptimisticLock = errors.New("optimistic lock conflict")

	// ErrDuplicate is returned when an insert collides with an existing transaction id.
	ErrDuplicate = errors.New("duplicate transaction id")

	// ErrReviewRejected is returned when a review has no matching order or the order
	// already carries a review.
	ErrReviewRejected = errors.New("review rejected")
)

type OrderRepository interface {
	// GetOrder returns nil, nil when no order carries the transaction id
	GetOrder(ctx context.Context, transactionID string) (*domain.Order, error)

	// CreateOrder inserts a new order, ErrDuplicate if the transaction id exists
	CreateOrder(ctx context.Context, order domain.Order) error

	// UpdateOrder writes order if the stored version equals order.Version and bumps it
	UpdateOrder(ctx context.Context, order domain.Order) error

	// ListDueForAutoConfirm returns delivered, unconfirmed, undisputed orders delivered at or before cutoff
	ListDueForAutoConfirm(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)

	// ListOrders returns orders newest first
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
}

type ReviewRepository interface {
	// AttachReview marks the order reviewed and stores the review atomically
	AttachReview(ctx context.Context, review domain.Review, at time.Time) error

	// ListReviews returns reviews newest first
	ListReviews(ctx context.Context, limit int) ([]domain.Review, error)
}
