package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/estatehub/settlement-service/internal/domain"
	"github.com/estatehub/settlement-service/pkg/rabbitmq"
)

// Notifier tells payers about payment outcomes. Delivery is best effort:
// callers log failures and never retry.
type Notifier interface {
	SendPaymentSuccess(ctx context.Context, email string, details domain.PaymentNotification) error
	SendPaymentFailed(ctx context.Context, email string, details domain.PaymentNotification) error
	SendChargeSettled(ctx context.Context, details domain.PaymentNotification) error
}

// EventNotifier publishes notification events for the email pipeline to render.
type EventNotifier struct {
	publisher rabbitmq.Publisher
	exchange  string
	logger    *slog.Logger
}

func NewEventNotifier(publisher rabbitmq.Publisher, exchange string, logger *slog.Logger) *EventNotifier {
	if exchange == "" {
		exchange = "estatehub.events"
	}
	return &EventNotifier{publisher: publisher, exchange: exchange, logger: logger}
}

func (n *EventNotifier) SendPaymentSuccess(ctx context.Context, email string, details domain.PaymentNotification) error {
	details.Email = email
	return n.publish(ctx, domain.EventPaymentSucceeded, details)
}

func (n *EventNotifier) SendPaymentFailed(ctx context.Context, email string, details domain.PaymentNotification) error {
	details.Email = email
	return n.publish(ctx, domain.EventPaymentFailed, details)
}

func (n *EventNotifier) SendChargeSettled(ctx context.Context, details domain.PaymentNotification) error {
	return n.publish(ctx, domain.EventChargeSettled, details)
}

func (n *EventNotifier) publish(ctx context.Context, routingKey string, details domain.PaymentNotification) error {
	if details.EventID == "" {
		details.EventID = uuid.NewString()
	}
	if details.OccurredAt.IsZero() {
		details.OccurredAt = time.Now().UTC()
	}
	if err := n.publisher.Publish(ctx, n.exchange, routingKey, details); err != nil {
		return err
	}
	n.logger.Info("notification published", "component", "notifier", "routing_key", routingKey, "reference", details.Reference)
	return nil
}
