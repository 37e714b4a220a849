package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openmartlabs/openmart-backend/pkg/db/models"
	"github.com/openmartlabs/openmart-backend/pkg/pagination"
	"github.com/openmartlabs/openmart-backend/pkg/types"
)

// Repository owns notification persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.Notification) error
	ListForOwner(ctx context.Context, owner types.Owner, limit int, cursor *pagination.Cursor) ([]models.Notification, *pagination.Cursor, error)
	MarkRead(ctx context.Context, owner types.Owner, id uuid.UUID, now time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to the provided GORM handle.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *repository) ListForOwner(ctx context.Context, owner types.Owner, limit int, cursor *pagination.Cursor) ([]models.Notification, *pagination.Cursor, error) {
	buffered := pagination.LimitWithBuffer(limit)
	normalized := pagination.NormalizeLimit(limit)

	query := ownerScope(r.db.WithContext(ctx).Model(&models.Notification{}), owner)
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var notifications []models.Notification
	if err := query.Order("created_at DESC, id DESC").Limit(buffered).Find(&notifications).Error; err != nil {
		return nil, nil, err
	}

	if len(notifications) > normalized {
		next := notifications[normalized]
		notifications = notifications[:normalized]
		return notifications, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return notifications, nil, nil
}

// MarkRead flips read_at for an unread notification the owner can see.
// It reports whether a row was updated.
func (r *repository) MarkRead(ctx context.Context, owner types.Owner, id uuid.UUID, now time.Time) (bool, error) {
	result := ownerScope(r.db.WithContext(ctx).Model(&models.Notification{}), owner).
		Where("id = ? AND read_at IS NULL", id).
		Update("read_at", now)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func ownerScope(query *gorm.DB, owner types.Owner) *gorm.DB {
	if owner.UserID != nil {
		return query.Where("user_id = ?", *owner.UserID)
	}
	return query.Where("session_id = ?", owner.SessionID)
}
