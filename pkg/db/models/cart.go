package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/openmartlabs/openmart-backend/pkg/enums"
)

// Cart is the per-owner working set of lines. Exactly one of UserID or
// SessionID identifies the owner.
type Cart struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    *uuid.UUID       `gorm:"column:user_id;type:uuid;index"`
	SessionID *string          `gorm:"column:session_id;index"`
	Status    enums.CartStatus `gorm:"column:status;not null;default:'active'"`
	Lines     []CartLine       `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the default pluralization.
func (Cart) TableName() string {
	return "carts"
}

// CartLine snapshots the unit price at the time the line was added. The
// snapshot is display-only; checkout re-prices from the live variant.
type CartLine struct {
	ID                 uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CartID             uuid.UUID `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:idx_cart_variant"`
	VariantID          uuid.UUID `gorm:"column:variant_id;type:uuid;not null;uniqueIndex:idx_cart_variant"`
	Quantity           int       `gorm:"column:quantity;not null"`
	UnitPriceCentsSnap int64     `gorm:"column:unit_price_cents_snap;not null"`
	DisplayName        string    `gorm:"column:display_name;not null"`
	DisplayImageURL    *string   `gorm:"column:display_image_url"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the default pluralization.
func (CartLine) TableName() string {
	return "cart_lines"
}
