package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/openmartlabs/openmart-backend/pkg/db/types"
	"github.com/openmartlabs/openmart-backend/pkg/enums"
)

// OrderTimelineEntry is the append-only audit record of a status transition.
type OrderTimelineEntry struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	FromStatus  *enums.OrderStatus  `gorm:"column:from_status"`
	ToStatus    enums.OrderStatus   `gorm:"column:to_status;not null"`
	Actor       enums.TimelineActor `gorm:"column:actor;not null"`
	Description string              `gorm:"column:description;not null"`
	Metadata    dbtypes.JSONMap     `gorm:"column:metadata;type:jsonb"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides the default pluralization.
func (OrderTimelineEntry) TableName() string {
	return "order_timeline_entries"
}
