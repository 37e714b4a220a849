package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openmartlabs/openmart-backend/pkg/enums"
)

func setupOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`
	require.NoError(t, db.Exec(ddl).Error)
	return db
}

func TestEmitWrapsPayloadInEnvelope(t *testing.T) {
	db := setupOutboxDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	orderID := uuid.New()
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &ActorRef{SessionID: "sess-1", Kind: "guest"},
			Data:          map[string]any{"code": "OM-1001"},
		})
	})
	require.NoError(t, err)

	rows, err := repo.FetchUnpublished(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, enums.EventOrderCreated, rows[0].EventType)
	require.Equal(t, orderID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	require.Equal(t, 1, envelope.Version)
	require.NotEmpty(t, envelope.EventID)
	require.Equal(t, "sess-1", envelope.Actor.SessionID)

	var data map[string]any
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	require.Equal(t, "OM-1001", data["code"])
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	err := svc.Emit(context.Background(), nil, DomainEvent{})
	require.Error(t, err)
}

func TestPublishBookkeeping(t *testing.T) {
	db := setupOutboxDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderConfirmed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          map[string]any{},
		})
	}))

	var rows []struct{ ID uuid.UUID }
	require.NoError(t, db.Table("outbox_events").Scan(&rows).Error)
	require.Len(t, rows, 1)
	id := rows[0].ID

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.MarkFailedTx(tx, id, errors.New("publish timeout"))
	}))

	pending, err := repo.FetchUnpublished(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 1, pending[0].AttemptCount)
	require.NotNil(t, pending[0].LastError)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		batch, err := repo.FetchUnpublishedForPublish(tx, 10, 5)
		if err != nil {
			return err
		}
		require.Len(t, batch, 1)
		return repo.MarkPublishedTx(tx, id)
	}))

	pending, err = repo.FetchUnpublished(10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestFetchSkipsExhaustedAttempts(t *testing.T) {
	db := setupOutboxDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   uuid.New(),
			Data:          map[string]any{},
		})
	}))

	require.NoError(t, db.Table("outbox_events").
		Where("1 = 1").
		Update("attempt_count", 10).Error)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		batch, err := repo.FetchUnpublishedForPublish(tx, 10, 10)
		if err != nil {
			return err
		}
		require.Empty(t, batch)
		return nil
	}))
}
