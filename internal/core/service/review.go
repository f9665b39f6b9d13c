package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rl1809/escrow-relay/internal/core/domain"
	"github.com/rl1809/escrow-relay/internal/port"
)

// AttachReview stores a review for the order with transactionID. Only one review per
// order is accepted; the check and the write are a single repository transaction.
func (s *OrderService) AttachReview(ctx context.Context, transactionID, reviewerName, text string) (domain.Review, error) {
	transactionID = strings.TrimSpace(transactionID)
	reviewerName = domain.NormalizeName(reviewerName)
	text = strings.TrimSpace(text)

	if transactionID == "" || reviewerName == "" || text == "" {
		return domain.Review{}, fmt.Errorf("%w: transaction id, name and review text are required", domain.ErrValidation)
	}
	if utf8.RuneCountInString(text) > maxReviewLength {
		return domain.Review{}, fmt.Errorf("%w: review longer than %d characters", domain.ErrValidation, maxReviewLength)
	}

	now := s.now().UTC()
	review := domain.Review{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		ReviewerName:  reviewerName,
		Text:          text,
		CreatedAt:     now,
	}

	err := s.reviews.AttachReview(ctx, review, now)
	if errors.Is(err, port.ErrReviewRejected) {
		return domain.Review{}, fmt.Errorf("%w: no purchase eligible for a review under %s", domain.ErrForbidden, transactionID)
	}
	if err != nil {
		return domain.Review{}, dependency("attach review", err)
	}

	s.logger.Info("review attached", "transaction_id", transactionID, "reviewer", reviewerName)
	s.notify(ctx, domain.AudienceAdmin, reviewMessage(review), transactionID)
	s.publish(ctx, domain.OrderEvent{Type: domain.EventTypeReviewAttached, TransactionID: transactionID, OccurredAt: now})
	return review, nil
}

func (s *OrderService) ListReviews(ctx context.Context, limit int) ([]domain.Review, error) {
	reviews, err := s.reviews.ListReviews(ctx, limit)
	if err != nil {
		return nil, dependency("list reviews", err)
	}
	return reviews, nil
}
