package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openmartlabs/openmart-backend/pkg/db/models"
	"github.com/openmartlabs/openmart-backend/pkg/enums"
	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
)

// ReserveRequest asks for a soft-lock on one variant.
type ReserveRequest struct {
	LineID      uuid.UUID
	VariantID   uuid.UUID
	WarehouseID string
	Qty         int
}

// ReserveResult reports the outcome per request. Reason is set when the
// hold was not granted.
type ReserveResult struct {
	LineID    uuid.UUID
	VariantID uuid.UUID
	Reserved  bool
	Reason    string
}

// Line addresses one variant's held or sold quantity.
type Line struct {
	VariantID   uuid.UUID
	WarehouseID string
	Qty         int
}

// Ledger owns the inventory counters. Every mutation is a single
// conditional UPDATE so concurrent checkouts can never oversell; callers
// must run the ops inside a transaction and roll back on failure.
type Ledger struct{}

// NewLedger builds the inventory ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Reserve increments the reserved counter for each request where enough
// stock is available. The guard on_hand - reserved >= qty rides inside the
// UPDATE, so two concurrent holds for the last unit cannot both succeed.
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, requests []ReserveRequest) ([]ReserveResult, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	results := make([]ReserveResult, 0, len(requests))
	for _, req := range requests {
		if req.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation quantity must be positive").
				WithDetails(map[string]any{"variantId": req.VariantID})
		}

		res := tx.WithContext(ctx).Model(&models.InventoryRecord{}).
			Where("variant_id = ? AND warehouse_id = ? AND on_hand - reserved >= ?", req.VariantID, req.WarehouseID, req.Qty).
			Update("reserved", gorm.Expr("reserved + ?", req.Qty))
		if res.Error != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve inventory")
		}

		result := ReserveResult{LineID: req.LineID, VariantID: req.VariantID}
		if res.RowsAffected == 0 {
			result.Reason = l.holdFailureReason(ctx, tx, req)
			results = append(results, result)
			continue
		}

		movement := models.InventoryMovement{
			ID:          uuid.New(),
			VariantID:   req.VariantID,
			WarehouseID: req.WarehouseID,
			Action:      enums.MovementActionReservationHold,
			Quantity:    req.Qty,
			OrderID:     orderIDRef(orderID),
		}
		if err := tx.WithContext(ctx).Create(&movement).Error; err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record reservation movement")
		}

		result.Reserved = true
		results = append(results, result)
	}
	return results, nil
}

func (l *Ledger) holdFailureReason(ctx context.Context, tx *gorm.DB, req ReserveRequest) string {
	var record models.InventoryRecord
	err := tx.WithContext(ctx).
		Where("variant_id = ? AND warehouse_id = ?", req.VariantID, req.WarehouseID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "no inventory record"
	}
	if err != nil {
		return "inventory unavailable"
	}
	return fmt.Sprintf("insufficient stock: requested %d, available %d", req.Qty, record.Available())
}

// ReleaseHold returns held quantity to the available pool without touching
// on_hand. Used by cancellation and the sweeper.
func (l *Ledger) ReleaseHold(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	for _, line := range lines {
		res := tx.WithContext(ctx).Model(&models.InventoryRecord{}).
			Where("variant_id = ? AND warehouse_id = ? AND reserved >= ?", line.VariantID, line.WarehouseID, line.Qty).
			Update("reserved", gorm.Expr("reserved - ?", line.Qty))
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release inventory hold")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reserved counter would go negative").
				WithDetails(map[string]any{"variantId": line.VariantID})
		}
		if err := l.appendMovement(ctx, tx, line, enums.MovementActionReservationRelease, orderID); err != nil {
			return err
		}
	}
	return nil
}

// CommitSale converts held stock into a sale: on_hand and reserved drop
// together so available is unchanged by the confirmation itself.
func (l *Ledger) CommitSale(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	for _, line := range lines {
		res := tx.WithContext(ctx).Model(&models.InventoryRecord{}).
			Where("variant_id = ? AND warehouse_id = ? AND reserved >= ? AND on_hand >= ?",
				line.VariantID, line.WarehouseID, line.Qty, line.Qty).
			Updates(map[string]any{
				"on_hand":  gorm.Expr("on_hand - ?", line.Qty),
				"reserved": gorm.Expr("reserved - ?", line.Qty),
			})
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "commit sale")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "sale exceeds held stock").
				WithDetails(map[string]any{"variantId": line.VariantID})
		}
		if err := l.appendMovement(ctx, tx, line, enums.MovementActionSale, orderID); err != nil {
			return err
		}
	}
	return nil
}

// DeductOnHand removes available stock directly, bypassing the hold phase.
// Cash-on-delivery orders use this since they confirm immediately.
func (l *Ledger) DeductOnHand(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	for _, line := range lines {
		if line.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "deduction quantity must be positive")
		}
		res := tx.WithContext(ctx).Model(&models.InventoryRecord{}).
			Where("variant_id = ? AND warehouse_id = ? AND on_hand - reserved >= ?", line.VariantID, line.WarehouseID, line.Qty).
			Update("on_hand", gorm.Expr("on_hand - ?", line.Qty))
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "deduct inventory")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
				WithDetails(map[string]any{"variantId": line.VariantID})
		}
		if err := l.appendMovement(ctx, tx, line, enums.MovementActionSale, orderID); err != nil {
			return err
		}
	}
	return nil
}

// Restock returns sold quantity to on_hand after a refund.
func (l *Ledger) Restock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	for _, line := range lines {
		res := tx.WithContext(ctx).Model(&models.InventoryRecord{}).
			Where("variant_id = ? AND warehouse_id = ?", line.VariantID, line.WarehouseID).
			Update("on_hand", gorm.Expr("on_hand + ?", line.Qty))
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "restock inventory")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "inventory record not found").
				WithDetails(map[string]any{"variantId": line.VariantID})
		}
		if err := l.appendMovement(ctx, tx, line, enums.MovementActionReturn, orderID); err != nil {
			return err
		}
	}
	return nil
}

// AvailableFor returns the current available quantity per variant. This is
// advisory only; the authoritative check is the conditional UPDATE in Reserve.
func (l *Ledger) AvailableFor(ctx context.Context, db *gorm.DB, warehouseID string, variantIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	result := make(map[uuid.UUID]int, len(variantIDs))
	if len(variantIDs) == 0 {
		return result, nil
	}
	var records []models.InventoryRecord
	err := db.WithContext(ctx).
		Where("warehouse_id = ? AND variant_id IN ?", warehouseID, variantIDs).
		Find(&records).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory records")
	}
	for _, record := range records {
		result[record.VariantID] = record.Available()
	}
	return result, nil
}

func (l *Ledger) appendMovement(ctx context.Context, tx *gorm.DB, line Line, action enums.MovementAction, orderID uuid.UUID) error {
	movement := models.InventoryMovement{
		ID:          uuid.New(),
		VariantID:   line.VariantID,
		WarehouseID: line.WarehouseID,
		Action:      action,
		Quantity:    line.Qty,
		OrderID:     orderIDRef(orderID),
	}
	if err := tx.WithContext(ctx).Create(&movement).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record inventory movement")
	}
	return nil
}

func orderIDRef(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
