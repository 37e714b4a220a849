package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/openmartlabs/openmart-backend/pkg/enums"
	"github.com/openmartlabs/openmart-backend/pkg/types"
)

// Order is the durable record produced by checkout. Status only moves
// forward along the lifecycle; rows are never deleted.
type Order struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Code            string               `gorm:"column:code;not null;uniqueIndex"`
	UserID          *uuid.UUID           `gorm:"column:user_id;type:uuid;index"`
	SessionID       *string              `gorm:"column:session_id;index"`
	GuestEmail      *string              `gorm:"column:guest_email"`
	Status          enums.OrderStatus    `gorm:"column:status;not null;default:'pending_payment';index:idx_order_deadline"`
	PaymentStatus   enums.PaymentStatus  `gorm:"column:payment_status;not null;default:'unpaid'"`
	PaymentMethod   enums.PaymentMethod  `gorm:"column:payment_method;not null"`
	PaymentDeadline *time.Time           `gorm:"column:payment_deadline;index:idx_order_deadline"`
	SubTotalCents   int64                `gorm:"column:sub_total_cents;not null"`
	ShippingCents   int64                `gorm:"column:shipping_cents;not null"`
	TotalCents      int64                `gorm:"column:total_cents;not null"`
	Currency        string               `gorm:"column:currency;not null;default:'VND'"`
	ShippingAddress *types.Address       `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	CancelReason    *string              `gorm:"column:cancel_reason"`
	Lines           []OrderLine          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Reservation     *Reservation         `gorm:"foreignKey:OrderID"`
	Transactions    []PaymentTransaction `gorm:"foreignKey:OrderID"`
	ConfirmedAt     *time.Time           `gorm:"column:confirmed_at"`
	CancelledAt     *time.Time           `gorm:"column:cancelled_at"`
	RefundedAt      *time.Time           `gorm:"column:refunded_at"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the default pluralization.
func (Order) TableName() string {
	return "orders"
}

// OwnedBySession reports whether the order belongs to the given guest session.
func (o Order) OwnedBySession(sessionID string) bool {
	return o.SessionID != nil && sessionID != "" && *o.SessionID == sessionID
}

// OwnedByUser reports whether the order belongs to the given user.
func (o Order) OwnedByUser(userID uuid.UUID) bool {
	return o.UserID != nil && *o.UserID == userID
}

// OrderLine is the immutable snapshot of one purchased variant.
type OrderLine struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	VariantID      uuid.UUID `gorm:"column:variant_id;type:uuid;not null"`
	SKU            string    `gorm:"column:sku;not null"`
	Name           string    `gorm:"column:name;not null"`
	ImageURL       *string   `gorm:"column:image_url"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	Quantity       int       `gorm:"column:quantity;not null"`
	TotalCents     int64     `gorm:"column:total_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides the default pluralization.
func (OrderLine) TableName() string {
	return "order_lines"
}
