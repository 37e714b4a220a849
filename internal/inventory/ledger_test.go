package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openmartlabs/openmart-backend/pkg/db/models"
	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
)

const warehouse = "main"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	records := `
CREATE TABLE IF NOT EXISTS inventory_records (
  id TEXT PRIMARY KEY,
  variant_id TEXT NOT NULL,
  warehouse_id TEXT NOT NULL,
  on_hand INTEGER NOT NULL DEFAULT 0,
  reserved INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (variant_id, warehouse_id)
);`
	movements := `
CREATE TABLE IF NOT EXISTS inventory_movements (
  id TEXT PRIMARY KEY,
  variant_id TEXT NOT NULL,
  warehouse_id TEXT NOT NULL,
  action TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  order_id TEXT,
  reference TEXT,
  created_at DATETIME
);`
	if err := db.Exec(records).Error; err != nil {
		t.Fatalf("create inventory_records: %v", err)
	}
	if err := db.Exec(movements).Error; err != nil {
		t.Fatalf("create inventory_movements: %v", err)
	}
	return db
}

func seedRecord(t *testing.T, db *gorm.DB, variantID uuid.UUID, onHand, reserved int) {
	t.Helper()
	record := models.InventoryRecord{
		ID:          uuid.New(),
		VariantID:   variantID,
		WarehouseID: warehouse,
		OnHand:      onHand,
		Reserved:    reserved,
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
}

func loadRecord(t *testing.T, db *gorm.DB, variantID uuid.UUID) models.InventoryRecord {
	t.Helper()
	var record models.InventoryRecord
	if err := db.First(&record, "variant_id = ?", variantID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	return record
}

func TestReserve(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	ledger := NewLedger()
	variantA := uuid.New()
	variantB := uuid.New()
	seedRecord(t, db, variantA, 5, 0)
	seedRecord(t, db, variantB, 1, 0)

	requests := []ReserveRequest{
		{LineID: uuid.New(), VariantID: variantA, WarehouseID: warehouse, Qty: 3},
		{LineID: uuid.New(), VariantID: variantA, WarehouseID: warehouse, Qty: 4},
		{LineID: uuid.New(), VariantID: variantB, WarehouseID: warehouse, Qty: 1},
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		results, terr := ledger.Reserve(ctx, tx, uuid.New(), requests)
		if terr != nil {
			return terr
		}
		if len(results) != 3 {
			t.Fatalf("expected 3 results, got %d", len(results))
		}
		if !results[0].Reserved || results[0].Reason != "" {
			t.Fatalf("expected first hold to succeed: %+v", results[0])
		}
		if results[1].Reserved || results[1].Reason == "" {
			t.Fatalf("expected second hold to fail with reason: %+v", results[1])
		}
		if !results[2].Reserved {
			t.Fatalf("expected third hold to succeed: %+v", results[2])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("reserve transaction: %v", err)
	}

	recA := loadRecord(t, db, variantA)
	recB := loadRecord(t, db, variantB)
	if recA.OnHand != 5 || recA.Reserved != 3 {
		t.Fatalf("unexpected state for variant a: %+v", recA)
	}
	if recB.OnHand != 1 || recB.Reserved != 1 {
		t.Fatalf("unexpected state for variant b: %+v", recB)
	}
	if recA.Available() != 2 || recB.Available() != 0 {
		t.Fatalf("unexpected availability: a=%d b=%d", recA.Available(), recB.Available())
	}
}

func TestReserveRejectsInvalidQty(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ledger := NewLedger()
	variantID := uuid.New()
	seedRecord(t, db, variantID, 5, 0)

	_, err := ledger.Reserve(context.Background(), db, uuid.New(), []ReserveRequest{
		{VariantID: variantID, WarehouseID: warehouse, Qty: 0},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReserveNeverOversells(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	ledger := NewLedger()
	variantID := uuid.New()
	const stock = 3
	seedRecord(t, db, variantID, stock, 0)

	// Ten buyers race for three units; the conditional UPDATE must grant
	// exactly three holds no matter the order of arrival.
	granted := 0
	for i := 0; i < 10; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			results, terr := ledger.Reserve(ctx, tx, uuid.New(), []ReserveRequest{
				{LineID: uuid.New(), VariantID: variantID, WarehouseID: warehouse, Qty: 1},
			})
			if terr != nil {
				return terr
			}
			if results[0].Reserved {
				granted++
			}
			return nil
		})
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	if granted != stock {
		t.Fatalf("expected exactly %d granted holds, got %d", stock, granted)
	}
	record := loadRecord(t, db, variantID)
	if record.Reserved != stock || record.Available() != 0 {
		t.Fatalf("unexpected final state: %+v", record)
	}
}

func TestReleaseHoldRestoresAvailability(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	ledger := NewLedger()
	variantID := uuid.New()
	seedRecord(t, db, variantID, 5, 2)

	err := db.Transaction(func(tx *gorm.DB) error {
		return ledger.ReleaseHold(ctx, tx, uuid.New(), []Line{
			{VariantID: variantID, WarehouseID: warehouse, Qty: 2},
		})
	})
	if err != nil {
		t.Fatalf("release hold: %v", err)
	}

	record := loadRecord(t, db, variantID)
	if record.OnHand != 5 || record.Reserved != 0 {
		t.Fatalf("unexpected state after release: %+v", record)
	}
}

func TestReleaseHoldRefusesNegativeReserved(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ledger := NewLedger()
	variantID := uuid.New()
	seedRecord(t, db, variantID, 5, 1)

	err := db.Transaction(func(tx *gorm.DB) error {
		return ledger.ReleaseHold(context.Background(), tx, uuid.New(), []Line{
			{VariantID: variantID, WarehouseID: warehouse, Qty: 2},
		})
	})
	if err == nil {
		t.Fatal("expected state conflict")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCommitSaleDropsBothCounters(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	ledger := NewLedger()
	variantID := uuid.New()
	seedRecord(t, db, variantID, 5, 3)

	err := db.Transaction(func(tx *gorm.DB) error {
		return ledger.CommitSale(ctx, tx, uuid.New(), []Line{
			{VariantID: variantID, WarehouseID: warehouse, Qty: 3},
		})
	})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}

	record := loadRecord(t, db, variantID)
	if record.OnHand != 2 || record.Reserved != 0 {
		t.Fatalf("unexpected state after sale: %+v", record)
	}
	// Available unchanged by confirmation: was 5-3=2, still 2-0=2.
	if record.Available() != 2 {
		t.Fatalf("confirmation must not change availability, got %d", record.Available())
	}
}

func TestDeductOnHandHonorsHolds(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	ledger := NewLedger()
	variantID := uuid.New()
	seedRecord(t, db, variantID, 5, 4)

	err := db.Transaction(func(tx *gorm.DB) error {
		return ledger.DeductOnHand(ctx, tx, uuid.New(), []Line{
			{VariantID: variantID, WarehouseID: warehouse, Qty: 2},
		})
	})
	if err == nil {
		t.Fatal("expected insufficient stock: held units are not sellable")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("unexpected error: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return ledger.DeductOnHand(ctx, tx, uuid.New(), []Line{
			{VariantID: variantID, WarehouseID: warehouse, Qty: 1},
		})
	})
	if err != nil {
		t.Fatalf("deduct within availability: %v", err)
	}
	record := loadRecord(t, db, variantID)
	if record.OnHand != 4 || record.Reserved != 4 {
		t.Fatalf("unexpected state after deduct: %+v", record)
	}
}

func TestRestockIncreasesOnHand(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	ledger := NewLedger()
	variantID := uuid.New()
	seedRecord(t, db, variantID, 2, 0)

	err := db.Transaction(func(tx *gorm.DB) error {
		return ledger.Restock(ctx, tx, uuid.New(), []Line{
			{VariantID: variantID, WarehouseID: warehouse, Qty: 3},
		})
	})
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	record := loadRecord(t, db, variantID)
	if record.OnHand != 5 {
		t.Fatalf("unexpected on_hand after restock: %+v", record)
	}
}

func TestMovementsAreAppended(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	ledger := NewLedger()
	variantID := uuid.New()
	orderID := uuid.New()
	seedRecord(t, db, variantID, 5, 0)

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, terr := ledger.Reserve(ctx, tx, orderID, []ReserveRequest{
			{LineID: uuid.New(), VariantID: variantID, WarehouseID: warehouse, Qty: 2},
		}); terr != nil {
			return terr
		}
		return ledger.CommitSale(ctx, tx, orderID, []Line{
			{VariantID: variantID, WarehouseID: warehouse, Qty: 2},
		})
	})
	if err != nil {
		t.Fatalf("reserve+sale: %v", err)
	}

	var movements []models.InventoryMovement
	if err := db.Where("order_id = ?", orderID).Order("created_at ASC").Find(&movements).Error; err != nil {
		t.Fatalf("load movements: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("expected 2 movements, got %d", len(movements))
	}
}

func TestAvailableFor(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ledger := NewLedger()
	variantA := uuid.New()
	variantB := uuid.New()
	seedRecord(t, db, variantA, 10, 4)
	seedRecord(t, db, variantB, 1, 1)

	available, err := ledger.AvailableFor(context.Background(), db, warehouse, []uuid.UUID{variantA, variantB, uuid.New()})
	if err != nil {
		t.Fatalf("available for: %v", err)
	}
	if available[variantA] != 6 {
		t.Fatalf("variant a availability = %d, want 6", available[variantA])
	}
	if available[variantB] != 0 {
		t.Fatalf("variant b availability = %d, want 0", available[variantB])
	}
	if _, ok := available[uuid.Nil]; ok {
		t.Fatal("missing variants must not appear in the map")
	}
}
