package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/openmartlabs/openmart-backend/pkg/db/models"
	"github.com/openmartlabs/openmart-backend/pkg/enums"
	"github.com/openmartlabs/openmart-backend/pkg/logger"
	"github.com/openmartlabs/openmart-backend/pkg/outbox"
)

type fakeNotificationRepo struct {
	Repository
	created   []*models.Notification
	createErr error
}

func (f *fakeNotificationRepo) Create(_ context.Context, notification *models.Notification) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, notification)
	return nil
}

type fakeOrderReader struct {
	order *models.Order
	err   error
}

func (f *fakeOrderReader) FindByID(context.Context, uuid.UUID) (*models.Order, error) {
	return f.order, f.err
}

type fakeDeduper struct {
	seen     map[string]bool
	unmarked []string
	err      error
}

func (f *fakeDeduper) CheckAndMark(_ context.Context, _, eventID string, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[eventID] {
		return false, nil
	}
	f.seen[eventID] = true
	return true, nil
}

func (f *fakeDeduper) Unmark(_ context.Context, _, eventID string) error {
	delete(f.seen, eventID)
	f.unmarked = append(f.unmarked, eventID)
	return nil
}

func newTestConsumer(repo *fakeNotificationRepo, reader *fakeOrderReader, deduper *fakeDeduper) *Consumer {
	return &Consumer{
		repo:    repo,
		orders:  reader,
		deduper: deduper,
		logg:    logger.New(logger.Options{ServiceName: "notifications-test", Output: io.Discard}),
	}
}

func orderEventMessage(t *testing.T, eventType enums.OutboxEventType, payload orderEventPayload) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &pubsub.Message{
		Data:       envelope,
		Attributes: map[string]string{"event_type": string(eventType)},
	}
}

func TestProcessCreatesConfirmationNotification(t *testing.T) {
	t.Parallel()
	userID := uuid.New()
	orderID := uuid.New()
	repo := &fakeNotificationRepo{}
	reader := &fakeOrderReader{order: &models.Order{ID: orderID, UserID: &userID}}
	consumer := newTestConsumer(repo, reader, &fakeDeduper{})

	msg := orderEventMessage(t, enums.EventOrderConfirmed, orderEventPayload{
		OrderID: orderID,
		Code:    "OM-77",
		Status:  enums.OrderStatusConfirmed,
	})
	result := consumer.process(context.Background(), msg)
	if !result.ack || result.nack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one notification, got %d", len(repo.created))
	}
	created := repo.created[0]
	if created.Kind != enums.NotificationOrderConfirmed {
		t.Fatalf("wrong kind %s", created.Kind)
	}
	if created.UserID == nil || *created.UserID != userID {
		t.Fatalf("notification not addressed to the buyer: %+v", created)
	}
	if created.OrderID != orderID {
		t.Fatalf("wrong order id %s", created.OrderID)
	}
}

func TestProcessSkipsIrrelevantEvents(t *testing.T) {
	t.Parallel()
	repo := &fakeNotificationRepo{}
	consumer := newTestConsumer(repo, &fakeOrderReader{}, &fakeDeduper{})

	msg := orderEventMessage(t, enums.EventReservationReleased, orderEventPayload{})
	result := consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("irrelevant events must ack, got %+v", result)
	}
	if len(repo.created) != 0 {
		t.Fatal("no notification expected")
	}
}

func TestProcessDeduplicatesRedelivery(t *testing.T) {
	t.Parallel()
	orderID := uuid.New()
	sessionID := uuid.NewString()
	repo := &fakeNotificationRepo{}
	reader := &fakeOrderReader{order: &models.Order{ID: orderID, SessionID: &sessionID}}
	consumer := newTestConsumer(repo, reader, &fakeDeduper{})

	msg := orderEventMessage(t, enums.EventOrderCancelled, orderEventPayload{
		OrderID: orderID,
		Code:    "OM-78",
		Status:  enums.OrderStatusCancelled,
		Reason:  "payment timeout",
	})

	first := consumer.process(context.Background(), msg)
	second := consumer.process(context.Background(), msg)
	if !first.ack || !second.ack {
		t.Fatalf("both deliveries must ack: %+v %+v", first, second)
	}
	if len(repo.created) != 1 {
		t.Fatalf("redelivery must not duplicate, got %d rows", len(repo.created))
	}
}

func TestProcessNacksAndUnmarksOnFailure(t *testing.T) {
	t.Parallel()
	orderID := uuid.New()
	repo := &fakeNotificationRepo{}
	reader := &fakeOrderReader{err: errors.New("db down")}
	deduper := &fakeDeduper{}
	consumer := newTestConsumer(repo, reader, deduper)

	msg := orderEventMessage(t, enums.EventOrderRefunded, orderEventPayload{
		OrderID: orderID,
		Code:    "OM-79",
		Status:  enums.OrderStatusRefunded,
	})
	result := consumer.process(context.Background(), msg)
	if !result.nack {
		t.Fatalf("failure must nack, got %+v", result)
	}
	if len(deduper.unmarked) != 1 {
		t.Fatal("failed event must be unmarked so redelivery can retry")
	}

	// After the fault clears the redelivery succeeds.
	reader.err = nil
	reader.order = &models.Order{ID: orderID}
	result = consumer.process(context.Background(), msg)
	if !result.ack || len(repo.created) != 1 {
		t.Fatalf("retry must create the notification: %+v rows=%d", result, len(repo.created))
	}
}
