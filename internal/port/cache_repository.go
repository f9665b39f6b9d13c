package port

import (
	"context"
	"time"
)

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// ClearIdempotency forgets key so a retried delivery is processed again
	ClearIdempotency(ctx context.Context, key string) error

	// AcquireLock takes an exclusive lease on key, returns false if someone else holds it
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// ReleaseLock drops the lease if token still owns it
	ReleaseLock(ctx context.Context, key, token string) error
}
