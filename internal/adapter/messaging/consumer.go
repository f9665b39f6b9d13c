package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/rl1809/escrow-relay/internal/adapter/webhook"
	"github.com/rl1809/escrow-relay/internal/core/domain"
)

const (
	providerHeader = "provider"

	maxHandleAttempts = 3
	retryBackoff      = 500 * time.Millisecond
)

type PaymentRecorder interface {
	RecordPayment(ctx context.Context, p domain.Payment) (domain.Order, bool, error)
}

// PaymentConsumer feeds paid-checkout events from the storefront into RecordPayment.
// Values use the provider's webhook body; the provider header picks the parser and
// defaults to paypal. The topic is internal, so NowPayments signatures are not checked.
type PaymentConsumer struct {
	recorder    PaymentRecorder
	nowPayments *webhook.NowPayments
	logger      *slog.Logger
}

func NewPaymentConsumer(recorder PaymentRecorder, logger *slog.Logger) *PaymentConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentConsumer{
		recorder:    recorder,
		nowPayments: webhook.NewNowPayments(""),
		logger:      logger,
	}
}

func (c *PaymentConsumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *PaymentConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *PaymentConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			c.handleWithRetry(session.Context(), msg)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// handleWithRetry retries dependency failures a few times. Malformed and ignored
// messages are logged and skipped.
func (c *PaymentConsumer) handleWithRetry(ctx context.Context, msg *sarama.ConsumerMessage) {
	for attempt := 1; attempt <= maxHandleAttempts; attempt++ {
		err := c.HandleMessage(ctx, msg)
		switch {
		case err == nil:
			return
		case errors.Is(err, webhook.ErrIgnored):
			c.logger.Debug("payment event ignored", "offset", msg.Offset, "reason", err)
			return
		case !errors.Is(err, domain.ErrDependency) && !errors.Is(err, domain.ErrConflict):
			c.logger.Warn("dropping payment event", "topic", msg.Topic, "offset", msg.Offset, "error", err)
			return
		}

		c.logger.Warn("payment event failed", "offset", msg.Offset, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryBackoff * time.Duration(attempt)):
		}
	}
	c.logger.Error("giving up on payment event", "topic", msg.Topic, "offset", msg.Offset)
}

func (c *PaymentConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	provider := webhook.ProviderPayPal
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == providerHeader {
			provider = string(h.Value)
		}
	}

	var (
		payment domain.Payment
		err     error
	)
	switch provider {
	case webhook.ProviderPayPal:
		payment, err = webhook.ParsePayPal(msg.Value)
	case webhook.ProviderNowPayments:
		payment, err = c.nowPayments.Parse(msg.Value)
	default:
		return fmt.Errorf("%w: unknown provider %q", domain.ErrValidation, provider)
	}
	if err != nil {
		return err
	}

	order, created, err := c.recorder.RecordPayment(ctx, payment)
	if err != nil {
		return err
	}
	c.logger.Info("payment event recorded", "transaction_id", order.TransactionID, "created", created)
	return nil
}

// RunPaymentConsumer joins the consumer group until ctx is cancelled, rejoining after
// every rebalance.
func RunPaymentConsumer(ctx context.Context, group sarama.ConsumerGroup, topic string, handler *PaymentConsumer, logger *slog.Logger) {
	go func() {
		for err := range group.Errors() {
			logger.Error("kafka consumer error", "error", err)
		}
	}()

	for {
		if err := group.Consume(ctx, []string{topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			logger.Error("kafka consume", "topic", topic, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func NewConsumerGroup(brokers []string, groupID string) (sarama.ConsumerGroup, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("start kafka consumer group: %w", err)
	}
	return group, nil
}
