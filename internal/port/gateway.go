package port

import (
	"context"
	"time"

	"github.com/rl1809/escrow-relay/internal/core/domain"
)

// FundsReleaser finalizes the payout to the seller. A nil error means the funds moved.
type FundsReleaser interface {
	Release(ctx context.Context, order domain.Order) error
}

// Notifier delivers best-effort messages. Failures are logged by the caller, never propagated.
type Notifier interface {
	Notify(ctx context.Context, audience domain.Audience, message string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.OrderEvent) error
}

// ReleaseTimer is an in-process wake-up for orders whose deadline is near. It is only a
// latency optimization; the periodic sweep stays authoritative.
type ReleaseTimer interface {
	Arm(transactionID string, deadline time.Time)
	Disarm(transactionID string)
}
