package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/openmartlabs/openmart-backend/pkg/enums"
)

// Reservation ties held quantities to one order with an expiry. It takes
// exactly one terminal transition (confirmed, released, or expired).
type Reservation struct {
	ID        uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID               `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	Status    enums.ReservationStatus `gorm:"column:status;not null;default:'active';index:idx_reservation_sweep"`
	ExpiresAt time.Time               `gorm:"column:expires_at;not null;index:idx_reservation_sweep"`
	Lines     []ReservationLine       `gorm:"foreignKey:ReservationID;constraint:OnDelete:CASCADE"`
	ClosedAt  *time.Time              `gorm:"column:closed_at"`
	CreatedAt time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the default pluralization.
func (Reservation) TableName() string {
	return "reservations"
}

// ReservationLine records the held quantity for one variant.
type ReservationLine struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ReservationID uuid.UUID `gorm:"column:reservation_id;type:uuid;not null;index"`
	VariantID     uuid.UUID `gorm:"column:variant_id;type:uuid;not null"`
	WarehouseID   string    `gorm:"column:warehouse_id;not null"`
	Quantity      int       `gorm:"column:quantity;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides the default pluralization.
func (ReservationLine) TableName() string {
	return "reservation_lines"
}
