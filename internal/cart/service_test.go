package cart

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openmartlabs/openmart-backend/internal/catalog"
	"github.com/openmartlabs/openmart-backend/internal/inventory"
	"github.com/openmartlabs/openmart-backend/pkg/config"
	"github.com/openmartlabs/openmart-backend/pkg/db"
	"github.com/openmartlabs/openmart-backend/pkg/db/models"
	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
	"github.com/openmartlabs/openmart-backend/pkg/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:cart_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  slug TEXT NOT NULL UNIQUE,
  description TEXT,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS variants (
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL,
  sku TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  attributes TEXT,
  price_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'VND',
  active INTEGER NOT NULL DEFAULT 1,
  image_url TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS carts (
  id TEXT PRIMARY KEY,
  user_id TEXT,
  session_id TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS cart_lines (
  id TEXT PRIMARY KEY,
  cart_id TEXT NOT NULL,
  variant_id TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  unit_price_cents_snap INTEGER NOT NULL,
  display_name TEXT NOT NULL,
  display_image_url TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (cart_id, variant_id)
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
	}
	for _, stmt := range ddl {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return conn
}

func newTestService(t *testing.T, conn *gorm.DB) Service {
	t.Helper()
	cfg := config.CheckoutConfig{
		Currency:           "VND",
		MaxQtyPerLine:      99,
		DefaultWarehouseID: "main",
	}
	svc, err := NewService(
		NewRepository(conn),
		db.NewWithConn(conn),
		catalog.NewRepository(conn),
		inventory.NewLedger(),
		conn,
		cfg,
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func seedVariant(t *testing.T, conn *gorm.DB, priceCents int64, active bool) uuid.UUID {
	t.Helper()
	return seedVariantOf(t, conn, uuid.New(), priceCents, active)
}

func seedVariantOf(t *testing.T, conn *gorm.DB, productID uuid.UUID, priceCents int64, active bool) uuid.UUID {
	t.Helper()
	variant := models.Variant{
		ID:         uuid.New(),
		ProductID:  productID,
		SKU:        "SKU-" + uuid.NewString()[:8],
		Name:       "Ceramic Mug",
		PriceCents: priceCents,
		Currency:   "VND",
		Active:     active,
	}
	if err := conn.Create(&variant).Error; err != nil {
		t.Fatalf("seed variant: %v", err)
	}
	return variant.ID
}

func seedProduct(t *testing.T, conn *gorm.DB, active bool) uuid.UUID {
	t.Helper()
	product := models.Product{
		ID:     uuid.New(),
		Name:   "Tableware",
		Slug:   "tableware-" + uuid.NewString()[:8],
		Active: active,
	}
	if err := conn.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product.ID
}

func seedStock(t *testing.T, conn *gorm.DB, variantID uuid.UUID, onHand, reserved int) {
	t.Helper()
	record := models.InventoryRecord{
		ID:          uuid.New(),
		VariantID:   variantID,
		WarehouseID: "main",
		OnHand:      onHand,
		Reserved:    reserved,
	}
	if err := conn.Create(&record).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func userOwner() types.Owner {
	id := uuid.New()
	return types.Owner{UserID: &id}
}

func TestGetOrCreateReturnsEmptyCart(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	owner := types.Owner{SessionID: "sess-" + uuid.NewString()}
	view, err := svc.GetOrCreate(ctx, owner)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if len(view.Lines) != 0 {
		t.Fatalf("expected empty cart, got %d lines", len(view.Lines))
	}

	again, err := svc.GetOrCreate(ctx, owner)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if again.ID != view.ID {
		t.Fatalf("expected same cart, got %s then %s", view.ID, again.ID)
	}
}

func TestGetOrCreateRejectsAnonymous(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)

	_, err := svc.GetOrCreate(context.Background(), types.Owner{})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}
}

func TestAddItemSnapshotsPrice(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variantID := seedVariant(t, conn, 150_00, true)
	seedStock(t, conn, variantID, 10, 0)
	owner := userOwner()

	view, err := svc.AddItem(ctx, owner, variantID, 2)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if len(view.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(view.Lines))
	}
	line := view.Lines[0]
	if line.Quantity != 2 || line.SnapshotCents != 150_00 || line.PriceChanged {
		t.Fatalf("unexpected line: %+v", line)
	}
	if view.SubTotalCents != 300_00 {
		t.Fatalf("expected subtotal 30000, got %d", view.SubTotalCents)
	}
}

func TestAddItemMergesQuantities(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variantID := seedVariant(t, conn, 50_00, true)
	seedStock(t, conn, variantID, 200, 0)
	owner := userOwner()

	if _, err := svc.AddItem(ctx, owner, variantID, 60); err != nil {
		t.Fatalf("first add: %v", err)
	}
	view, err := svc.AddItem(ctx, owner, variantID, 30)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if len(view.Lines) != 1 {
		t.Fatalf("expected merged line, got %d lines", len(view.Lines))
	}
	if view.Lines[0].Quantity != 90 {
		t.Fatalf("expected merged quantity 90, got %d", view.Lines[0].Quantity)
	}
}

func TestAddItemRejectsQuantityOverCap(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variantID := seedVariant(t, conn, 50_00, true)
	seedStock(t, conn, variantID, 200, 0)
	owner := userOwner()

	if _, err := svc.AddItem(ctx, owner, variantID, 60); err != nil {
		t.Fatalf("first add: %v", err)
	}
	// Merging would land at 120, past the per-line cap.
	_, err := svc.AddItem(ctx, owner, variantID, 60)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}

	view, err := svc.GetOrCreate(ctx, owner)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(view.Lines) != 1 || view.Lines[0].Quantity != 60 {
		t.Fatalf("rejected add must leave the line untouched, got %+v", view.Lines)
	}
}

func TestAddItemInsufficientStock(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variantID := seedVariant(t, conn, 50_00, true)
	seedStock(t, conn, variantID, 5, 3)
	owner := userOwner()

	_, err := svc.AddItem(ctx, owner, variantID, 3)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected INSUFFICIENT_STOCK, got %v", err)
	}

	view, err := svc.GetOrCreate(ctx, owner)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(view.Lines) != 0 {
		t.Fatalf("rejected add must not create a line, got %+v", view.Lines)
	}
}

func TestAddItemRejectsInactiveParentProduct(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)

	productID := seedProduct(t, conn, false)
	variantID := seedVariantOf(t, conn, productID, 50_00, true)
	seedStock(t, conn, variantID, 10, 0)

	_, err := svc.AddItem(context.Background(), userOwner(), variantID, 1)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestAddItemRejectsInactiveVariant(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)

	variantID := seedVariant(t, conn, 50_00, false)
	_, err := svc.AddItem(context.Background(), userOwner(), variantID, 1)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestAddItemRejectsUnknownVariant(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)

	_, err := svc.AddItem(context.Background(), userOwner(), uuid.New(), 1)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestUpdateItemZeroRemovesLine(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variantID := seedVariant(t, conn, 50_00, true)
	seedStock(t, conn, variantID, 10, 0)
	owner := userOwner()

	if _, err := svc.AddItem(ctx, owner, variantID, 3); err != nil {
		t.Fatalf("add: %v", err)
	}
	view, err := svc.UpdateItem(ctx, owner, variantID, 0)
	if err != nil {
		t.Fatalf("update to zero: %v", err)
	}
	if len(view.Lines) != 0 {
		t.Fatalf("expected empty cart, got %d lines", len(view.Lines))
	}
}

func TestUpdateItemMissingLine(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	owner := userOwner()
	if _, err := svc.GetOrCreate(ctx, owner); err != nil {
		t.Fatalf("create cart: %v", err)
	}
	_, err := svc.UpdateItem(ctx, owner, uuid.New(), 2)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestUpdateItemRejectsQuantityOverCap(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variantID := seedVariant(t, conn, 50_00, true)
	seedStock(t, conn, variantID, 200, 0)
	owner := userOwner()

	if _, err := svc.AddItem(ctx, owner, variantID, 3); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := svc.UpdateItem(ctx, owner, variantID, 150)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestUpdateItemInsufficientStock(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variantID := seedVariant(t, conn, 50_00, true)
	seedStock(t, conn, variantID, 5, 0)
	owner := userOwner()

	if _, err := svc.AddItem(ctx, owner, variantID, 3); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := svc.UpdateItem(ctx, owner, variantID, 6)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected INSUFFICIENT_STOCK, got %v", err)
	}

	view, err := svc.GetOrCreate(ctx, owner)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.Lines[0].Quantity != 3 {
		t.Fatalf("rejected update must keep quantity 3, got %d", view.Lines[0].Quantity)
	}
}

func TestViewFlagsPriceDriftAndStockShortfall(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variantID := seedVariant(t, conn, 100_00, true)
	seedStock(t, conn, variantID, 5, 0)
	owner := userOwner()

	if _, err := svc.AddItem(ctx, owner, variantID, 3); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Price and availability both move after the line was added.
	if err := conn.Model(&models.Variant{}).
		Where("id = ?", variantID).
		Update("price_cents", 120_00).Error; err != nil {
		t.Fatalf("bump price: %v", err)
	}
	if err := conn.Model(&models.InventoryRecord{}).
		Where("variant_id = ?", variantID).
		Update("reserved", 4).Error; err != nil {
		t.Fatalf("bump reserved: %v", err)
	}

	view, err := svc.GetOrCreate(ctx, owner)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	line := view.Lines[0]
	if !line.PriceChanged {
		t.Fatal("expected priceChanged flag")
	}
	if line.UnitPriceCents != 120_00 || line.SnapshotCents != 100_00 {
		t.Fatalf("unexpected prices: %+v", line)
	}
	if line.Available != 1 || !line.InsufficientStock {
		t.Fatalf("expected shortfall against available=1, got %+v", line)
	}
	// Subtotal follows the live price.
	if view.SubTotalCents != 360_00 {
		t.Fatalf("expected subtotal 36000, got %d", view.SubTotalCents)
	}
}

func TestRemoveAndClear(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	first := seedVariant(t, conn, 10_00, true)
	second := seedVariant(t, conn, 20_00, true)
	seedStock(t, conn, first, 10, 0)
	seedStock(t, conn, second, 10, 0)
	owner := userOwner()

	if _, err := svc.AddItem(ctx, owner, first, 1); err != nil {
		t.Fatalf("add first: %v", err)
	}
	if _, err := svc.AddItem(ctx, owner, second, 1); err != nil {
		t.Fatalf("add second: %v", err)
	}

	view, err := svc.RemoveItem(ctx, owner, first)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(view.Lines) != 1 || view.Lines[0].VariantID != second {
		t.Fatalf("unexpected lines after remove: %+v", view.Lines)
	}

	if err := svc.Clear(ctx, owner); err != nil {
		t.Fatalf("clear: %v", err)
	}
	view, err = svc.GetOrCreate(ctx, owner)
	if err != nil {
		t.Fatalf("view after clear: %v", err)
	}
	if len(view.Lines) != 0 {
		t.Fatalf("expected empty cart, got %d lines", len(view.Lines))
	}
}

func TestClearOnMissingCartIsNoop(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)

	if err := svc.Clear(context.Background(), userOwner()); err != nil {
		t.Fatalf("expected noop, got %v", err)
	}
}

func TestMergeMovesAndSumsLines(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	shared := seedVariant(t, conn, 100_00, true)
	guestOnly := seedVariant(t, conn, 30_00, true)
	seedStock(t, conn, shared, 50, 0)
	seedStock(t, conn, guestOnly, 50, 0)

	guest := types.Owner{SessionID: "sess-" + uuid.NewString()}
	user := userOwner()

	if _, err := svc.AddItem(ctx, user, shared, 2); err != nil {
		t.Fatalf("seed user cart: %v", err)
	}
	if _, err := svc.AddItem(ctx, guest, shared, 3); err != nil {
		t.Fatalf("seed guest shared line: %v", err)
	}
	if _, err := svc.AddItem(ctx, guest, guestOnly, 1); err != nil {
		t.Fatalf("seed guest-only line: %v", err)
	}

	// Price moves between the adds and the merge; the summed line must
	// carry the fresh price.
	if err := conn.Model(&models.Variant{}).
		Where("id = ?", shared).
		Update("price_cents", 110_00).Error; err != nil {
		t.Fatalf("bump price: %v", err)
	}

	view, err := svc.Merge(ctx, guest, user)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(view.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(view.Lines))
	}
	byVariant := make(map[uuid.UUID]LineView)
	for _, line := range view.Lines {
		byVariant[line.VariantID] = line
	}
	if got := byVariant[shared]; got.Quantity != 5 || got.SnapshotCents != 110_00 {
		t.Fatalf("unexpected summed line: %+v", got)
	}
	if got := byVariant[guestOnly]; got.Quantity != 1 || got.SnapshotCents != 30_00 {
		t.Fatalf("unexpected moved line: %+v", got)
	}

	// The guest cart is gone; fetching recreates an empty one.
	guestView, err := svc.GetOrCreate(ctx, guest)
	if err != nil {
		t.Fatalf("guest view: %v", err)
	}
	if len(guestView.Lines) != 0 {
		t.Fatalf("expected guest cart deleted, got %d lines", len(guestView.Lines))
	}
}

func TestMergeClampsSummedQuantity(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variantID := seedVariant(t, conn, 10_00, true)
	seedStock(t, conn, variantID, 500, 0)

	guest := types.Owner{SessionID: "sess-" + uuid.NewString()}
	user := userOwner()

	if _, err := svc.AddItem(ctx, user, variantID, 60); err != nil {
		t.Fatalf("seed user cart: %v", err)
	}
	if _, err := svc.AddItem(ctx, guest, variantID, 60); err != nil {
		t.Fatalf("seed guest cart: %v", err)
	}

	view, err := svc.Merge(ctx, guest, user)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(view.Lines) != 1 || view.Lines[0].Quantity != 99 {
		t.Fatalf("expected quantity clamped to 99, got %+v", view.Lines)
	}
}

func TestMergeWithoutGuestCartIsNoop(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variantID := seedVariant(t, conn, 10_00, true)
	seedStock(t, conn, variantID, 10, 0)
	user := userOwner()

	if _, err := svc.AddItem(ctx, user, variantID, 2); err != nil {
		t.Fatalf("seed user cart: %v", err)
	}

	view, err := svc.Merge(ctx, types.Owner{SessionID: "sess-" + uuid.NewString()}, user)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(view.Lines) != 1 || view.Lines[0].Quantity != 2 {
		t.Fatalf("expected user cart untouched, got %+v", view.Lines)
	}
}

func TestMergeRequiresAuthenticatedTarget(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)

	guest := types.Owner{SessionID: "sess-" + uuid.NewString()}
	_, err := svc.Merge(context.Background(), guest, types.Owner{SessionID: "sess-other"})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}

	_, err = svc.Merge(context.Background(), types.Owner{}, userOwner())
	typed = pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestRefreshPricesResnapshotsLines(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variantID := seedVariant(t, conn, 100_00, true)
	seedStock(t, conn, variantID, 10, 0)
	owner := userOwner()

	if _, err := svc.AddItem(ctx, owner, variantID, 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := conn.Model(&models.Variant{}).
		Where("id = ?", variantID).
		Update("price_cents", 130_00).Error; err != nil {
		t.Fatalf("bump price: %v", err)
	}

	view, err := svc.RefreshPrices(ctx, owner)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	line := view.Lines[0]
	if line.SnapshotCents != 130_00 || line.PriceChanged {
		t.Fatalf("expected refreshed snapshot, got %+v", line)
	}
}

func TestRefreshPricesMissingCart(t *testing.T) {
	t.Parallel()
	conn := newTestDB(t)
	svc := newTestService(t, conn)

	_, err := svc.RefreshPrices(context.Background(), userOwner())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}
