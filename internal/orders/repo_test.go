package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openmartlabs/openmart-backend/pkg/db/models"
	"github.com/openmartlabs/openmart-backend/pkg/enums"
	"github.com/openmartlabs/openmart-backend/pkg/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  code TEXT NOT NULL UNIQUE,
  user_id TEXT,
  session_id TEXT,
  guest_email TEXT,
  status TEXT NOT NULL DEFAULT 'pending_payment',
  payment_status TEXT NOT NULL DEFAULT 'unpaid',
  payment_method TEXT NOT NULL,
  payment_deadline DATETIME,
  sub_total_cents INTEGER NOT NULL,
  shipping_cents INTEGER NOT NULL,
  total_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'VND',
  shipping_address TEXT,
  cancel_reason TEXT,
  confirmed_at DATETIME,
  cancelled_at DATETIME,
  refunded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS order_lines (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  variant_id TEXT NOT NULL,
  sku TEXT NOT NULL,
  name TEXT NOT NULL,
  image_url TEXT,
  unit_price_cents INTEGER NOT NULL,
  quantity INTEGER NOT NULL,
  total_cents INTEGER NOT NULL,
  created_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS reservations (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL DEFAULT 'active',
  expires_at DATETIME NOT NULL,
  closed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS reservation_lines (
  id TEXT PRIMARY KEY,
  reservation_id TEXT NOT NULL,
  variant_id TEXT NOT NULL,
  warehouse_id TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  created_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS payment_transactions (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  type TEXT NOT NULL DEFAULT 'payment',
  status TEXT NOT NULL DEFAULT 'pending',
  provider TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'VND',
  transaction_code TEXT,
  gateway_response TEXT,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS order_timeline_entries (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  from_status TEXT,
  to_status TEXT NOT NULL,
  actor TEXT NOT NULL,
  description TEXT NOT NULL,
  metadata TEXT,
  created_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  created_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS inventory_records (
  id TEXT PRIMARY KEY,
  variant_id TEXT NOT NULL,
  warehouse_id TEXT NOT NULL,
  on_hand INTEGER NOT NULL DEFAULT 0,
  reserved INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (variant_id, warehouse_id)
);`,
		`CREATE TABLE IF NOT EXISTS inventory_movements (
  id TEXT PRIMARY KEY,
  variant_id TEXT NOT NULL,
  warehouse_id TEXT NOT NULL,
  action TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  order_id TEXT,
  reference TEXT,
  created_at DATETIME
);`,
	}
	for _, stmt := range ddl {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return conn
}

func TestRepositoryTransitionStatusIsCompareAndSwap(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	userID := uuid.New()
	order := &models.Order{
		Code:          "OM-CAS-1",
		UserID:        &userID,
		Status:        enums.OrderStatusPendingPayment,
		PaymentStatus: enums.PaymentStatusUnpaid,
		PaymentMethod: enums.PaymentMethodGatewayRedirect,
		SubTotalCents: 1000,
		ShippingCents: 0,
		TotalCents:    1000,
		Currency:      "VND",
	}
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	moved, err := repo.TransitionStatus(ctx, order.ID, enums.OrderStatusPendingPayment, enums.OrderStatusConfirmed, nil)
	if err != nil || !moved {
		t.Fatalf("first transition: moved=%v err=%v", moved, err)
	}
	// A second writer racing the same transition loses.
	moved, err = repo.TransitionStatus(ctx, order.ID, enums.OrderStatusPendingPayment, enums.OrderStatusCancelled, nil)
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if moved {
		t.Fatal("expected compare-and-swap to refuse a stale transition")
	}
}

func TestRepositoryFindPendingPastDeadline(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now()

	makeOrder := func(code string, status enums.OrderStatus, deadline *time.Time) {
		userID := uuid.New()
		order := &models.Order{
			Code:            code,
			UserID:          &userID,
			Status:          status,
			PaymentStatus:   enums.PaymentStatusUnpaid,
			PaymentMethod:   enums.PaymentMethodGatewayRedirect,
			PaymentDeadline: deadline,
			SubTotalCents:   1000,
			TotalCents:      1000,
			Currency:        "VND",
		}
		if err := repo.Create(ctx, order); err != nil {
			t.Fatalf("create %s: %v", code, err)
		}
	}

	past := now.Add(-time.Minute)
	future := now.Add(10 * time.Minute)
	makeOrder("OM-SWEEP-1", enums.OrderStatusPendingPayment, &past)
	makeOrder("OM-SWEEP-2", enums.OrderStatusPendingPayment, &future)
	makeOrder("OM-SWEEP-3", enums.OrderStatusConfirmed, &past)
	makeOrder("OM-SWEEP-4", enums.OrderStatusPendingPayment, nil)

	expired, err := repo.FindPendingPastDeadline(ctx, now, 10)
	if err != nil {
		t.Fatalf("find pending past deadline: %v", err)
	}
	if len(expired) != 1 || expired[0].Code != "OM-SWEEP-1" {
		t.Fatalf("expected only OM-SWEEP-1, got %d rows", len(expired))
	}
}

func TestRepositoryListByOwnerScopes(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	userID := uuid.New()
	session := "sess-abc"
	for i, spec := range []struct {
		code    string
		user    *uuid.UUID
		session *string
	}{
		{"OM-OWN-1", &userID, nil},
		{"OM-OWN-2", nil, &session},
		{"OM-OWN-3", &userID, nil},
	} {
		order := &models.Order{
			Code:          spec.code,
			UserID:        spec.user,
			SessionID:     spec.session,
			Status:        enums.OrderStatusPendingPayment,
			PaymentStatus: enums.PaymentStatusUnpaid,
			PaymentMethod: enums.PaymentMethodCOD,
			SubTotalCents: int64(1000 * (i + 1)),
			TotalCents:    int64(1000 * (i + 1)),
			Currency:      "VND",
		}
		if err := repo.Create(ctx, order); err != nil {
			t.Fatalf("create %s: %v", spec.code, err)
		}
	}

	mine, err := repo.ListByOwner(ctx, types.Owner{UserID: &userID}, 10, 0)
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 user orders, got %d", len(mine))
	}
	guest, err := repo.ListByOwner(ctx, types.Owner{SessionID: session}, 10, 0)
	if err != nil {
		t.Fatalf("list by session: %v", err)
	}
	if len(guest) != 1 || guest[0].Code != "OM-OWN-2" {
		t.Fatalf("unexpected guest orders: %d", len(guest))
	}
}

func TestRepositoryFailPendingTransactions(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	orderID := uuid.New()
	pending := &models.PaymentTransaction{
		OrderID:     orderID,
		Type:        enums.TransactionTypePayment,
		Status:      enums.TransactionStatusPending,
		Provider:    "hosted",
		AmountCents: 1000,
		Currency:    "VND",
	}
	done := &models.PaymentTransaction{
		OrderID:     orderID,
		Type:        enums.TransactionTypePayment,
		Status:      enums.TransactionStatusSuccess,
		Provider:    "hosted",
		AmountCents: 1000,
		Currency:    "VND",
	}
	if err := repo.CreateTransaction(ctx, pending); err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if err := repo.CreateTransaction(ctx, done); err != nil {
		t.Fatalf("create done: %v", err)
	}

	if err := repo.FailPendingTransactions(ctx, orderID, "payment timeout"); err != nil {
		t.Fatalf("fail pending: %v", err)
	}

	var reloaded models.PaymentTransaction
	if err := conn.First(&reloaded, "id = ?", pending.ID).Error; err != nil {
		t.Fatalf("reload pending: %v", err)
	}
	if reloaded.Status != enums.TransactionStatusFailed || reloaded.CompletedAt == nil {
		t.Fatalf("pending txn not failed: %+v", reloaded)
	}
	reloaded = models.PaymentTransaction{}
	if err := conn.First(&reloaded, "id = ?", done.ID).Error; err != nil {
		t.Fatalf("reload done: %v", err)
	}
	if reloaded.Status != enums.TransactionStatusSuccess {
		t.Fatalf("successful txn must not change: %+v", reloaded)
	}
}
