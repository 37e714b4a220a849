package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/openmartlabs/openmart-backend/pkg/db/models"
	"github.com/openmartlabs/openmart-backend/pkg/enums"
	"github.com/openmartlabs/openmart-backend/pkg/logger"
	"github.com/openmartlabs/openmart-backend/pkg/outbox"
)

const (
	consumerScope = "notifications.orders"
	processedTTL  = 7 * 24 * time.Hour
)

type orderReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type eventDeduper interface {
	CheckAndMark(ctx context.Context, scope, eventID string, ttl time.Duration) (bool, error)
	Unmark(ctx context.Context, scope, eventID string) error
}

// ConsumerParams wires the order-events consumer.
type ConsumerParams struct {
	Repo         Repository
	Orders       orderReader
	Subscription *pubsub.Subscriber
	Deduper      eventDeduper
	Logger       *logger.Logger
}

// Consumer turns terminal order events into buyer notifications. Events
// it does not recognize are acked and dropped; transient failures nack
// so the subscription redelivers.
type Consumer struct {
	repo         Repository
	orders       orderReader
	subscription *pubsub.Subscriber
	deduper      eventDeduper
	logg         *logger.Logger
}

// NewConsumer builds the order notification consumer.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders reader required")
	}
	if params.Subscription == nil {
		return nil, fmt.Errorf("orders subscription required")
	}
	if params.Deduper == nil {
		return nil, fmt.Errorf("event deduper required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         params.Repo,
		orders:       params.Orders,
		subscription: params.Subscription,
		deduper:      params.Deduper,
		logg:         params.Logger,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

type orderEventPayload struct {
	OrderID uuid.UUID         `json:"orderId"`
	Code    string            `json:"code"`
	Status  enums.OrderStatus `json:"status"`
	Reason  string            `json:"reason,omitempty"`
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	kind, relevant := notificationKindFor(eventType)
	if !relevant {
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	if envelope.EventID == "" {
		c.logg.Warn(logCtx, "event without an id, dropping")
		return processResult{ack: true}
	}

	first, err := c.deduper.CheckAndMark(ctx, consumerScope, envelope.EventID, processedTTL)
	if err != nil {
		c.logg.Error(logCtx, "dedupe check failed", err)
		return processResult{nack: true}
	}
	if !first {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	var payload orderEventPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		_ = c.deduper.Unmark(ctx, consumerScope, envelope.EventID)
		return processResult{ack: true}
	}

	logCtx = c.logg.WithOrderID(logCtx, payload.OrderID.String())
	if err := c.notify(ctx, kind, payload); err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		_ = c.deduper.Unmark(ctx, consumerScope, envelope.EventID)
		return processResult{nack: true}
	}

	c.logg.Info(logCtx, "notification created")
	return processResult{ack: true}
}

func (c *Consumer) notify(ctx context.Context, kind enums.NotificationKind, payload orderEventPayload) error {
	order, err := c.orders.FindByID(ctx, payload.OrderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", payload.OrderID, err)
	}

	title, body := notificationText(kind, payload)
	return c.repo.Create(ctx, &models.Notification{
		ID:        uuid.New(),
		UserID:    order.UserID,
		SessionID: order.SessionID,
		OrderID:   order.ID,
		Kind:      kind,
		Title:     title,
		Body:      body,
	})
}

func notificationKindFor(eventType enums.OutboxEventType) (enums.NotificationKind, bool) {
	switch eventType {
	case enums.EventOrderConfirmed:
		return enums.NotificationOrderConfirmed, true
	case enums.EventOrderCancelled:
		return enums.NotificationOrderCancelled, true
	case enums.EventOrderRefunded:
		return enums.NotificationOrderRefunded, true
	default:
		return "", false
	}
}

func notificationText(kind enums.NotificationKind, payload orderEventPayload) (string, string) {
	switch kind {
	case enums.NotificationOrderConfirmed:
		return "Order confirmed", fmt.Sprintf("Order %s is confirmed and being prepared.", payload.Code)
	case enums.NotificationOrderCancelled:
		body := fmt.Sprintf("Order %s was cancelled.", payload.Code)
		if payload.Reason != "" {
			body = fmt.Sprintf("Order %s was cancelled: %s.", payload.Code, payload.Reason)
		}
		return "Order cancelled", body
	default:
		return "Order refunded", fmt.Sprintf("Order %s was refunded.", payload.Code)
	}
}
