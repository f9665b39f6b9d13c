package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/escrow-relay/internal/core/domain"
)

func TestAttachReview_OncePerOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, _, err := env.svc.RecordPayment(ctx, payment("TXN-1"))
	require.NoError(t, err)

	review, err := env.svc.AttachReview(ctx, "TXN-1", " Steve ", "Fast delivery")
	require.NoError(t, err)
	assert.NotEmpty(t, review.ID)
	assert.Equal(t, "Steve", review.ReviewerName)

	order := env.store.order("TXN-1")
	assert.True(t, order.ReviewLeft)
	assert.Equal(t, "Steve", order.ReviewerName)

	_, err = env.svc.AttachReview(ctx, "TXN-1", "Steve", "Second try")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	reviews, err := env.svc.ListReviews(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, reviews, 1)
	assert.Contains(t, env.events.types(), domain.EventTypeReviewAttached)
}

func TestAttachReview_RequiresOrder(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.AttachReview(context.Background(), "NOPE", "Steve", "Great")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAttachReview_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.AttachReview(ctx, "TXN-1", "", "text")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.svc.AttachReview(ctx, "TXN-1", "Steve", "   ")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.svc.AttachReview(ctx, "TXN-1", "Steve", strings.Repeat("a", maxReviewLength+1))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAttachReview_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, _, err := env.svc.RecordPayment(ctx, payment("TXN-1"))
	require.NoError(t, err)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.AttachReview(ctx, "TXN-1", "Steve", "Nice"); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
}
