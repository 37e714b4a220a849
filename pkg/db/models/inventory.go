package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/openmartlabs/openmart-backend/pkg/enums"
)

// InventoryRecord holds the soft-lock counters for one variant in one
// warehouse. Available stock is derived, never stored: on_hand - reserved.
// All mutations go through conditional updates, never read-then-write.
type InventoryRecord struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VariantID   uuid.UUID `gorm:"column:variant_id;type:uuid;not null;uniqueIndex:idx_variant_warehouse"`
	WarehouseID string    `gorm:"column:warehouse_id;not null;uniqueIndex:idx_variant_warehouse"`
	OnHand      int       `gorm:"column:on_hand;not null;default:0"`
	Reserved    int       `gorm:"column:reserved;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the default pluralization.
func (InventoryRecord) TableName() string {
	return "inventory_records"
}

// Available returns the sellable quantity.
func (r InventoryRecord) Available() int {
	return r.OnHand - r.Reserved
}

// InventoryMovement is the append-only audit trail of counter changes.
type InventoryMovement struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VariantID   uuid.UUID            `gorm:"column:variant_id;type:uuid;not null;index"`
	WarehouseID string               `gorm:"column:warehouse_id;not null"`
	Action      enums.MovementAction `gorm:"column:action;not null"`
	Quantity    int                  `gorm:"column:quantity;not null"`
	OrderID     *uuid.UUID           `gorm:"column:order_id;type:uuid;index"`
	Reference   *string              `gorm:"column:reference"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides the default pluralization.
func (InventoryMovement) TableName() string {
	return "inventory_movements"
}
