package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/openmartlabs/openmart-backend/pkg/enums"
)

// Notification is a buyer-facing message derived from an order event.
type Notification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    *uuid.UUID             `gorm:"column:user_id;type:uuid;index"`
	SessionID *string                `gorm:"column:session_id;index"`
	OrderID   uuid.UUID              `gorm:"column:order_id;type:uuid;not null;index"`
	Kind      enums.NotificationKind `gorm:"column:kind;not null"`
	Title     string                 `gorm:"column:title;not null"`
	Body      string                 `gorm:"column:body;not null"`
	ReadAt    *time.Time             `gorm:"column:read_at"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides the default pluralization.
func (Notification) TableName() string {
	return "notifications"
}
