package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openmartlabs/openmart-backend/pkg/db/models"
	"github.com/openmartlabs/openmart-backend/pkg/enums"
	"github.com/openmartlabs/openmart-backend/pkg/types"
)

// Repository encapsulates cart persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindActiveByOwner(ctx context.Context, owner types.Owner) (*models.Cart, error)
	FindByIDAndOwner(ctx context.Context, id uuid.UUID, owner types.Owner) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) (*models.Cart, error)
	UpsertLine(ctx context.Context, line *models.CartLine) error
	UpdateLineQuantity(ctx context.Context, cartID, variantID uuid.UUID, qty int) error
	RemoveLine(ctx context.Context, cartID, variantID uuid.UUID) error
	ClearLines(ctx context.Context, cartID uuid.UUID) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.CartStatus) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to the provided GORM handle.
func NewRepository(db *gorm.DB) Repository {
	if db == nil {
		return nil
	}
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func ownerScope(db *gorm.DB, owner types.Owner) *gorm.DB {
	if owner.UserID != nil {
		return db.Where("user_id = ?", *owner.UserID)
	}
	return db.Where("session_id = ?", owner.SessionID)
}

func (r *repository) FindActiveByOwner(ctx context.Context, owner types.Owner) (*models.Cart, error) {
	var cart models.Cart
	err := ownerScope(r.db.WithContext(ctx), owner).
		Preload("Lines").
		Where("status = ?", enums.CartStatusActive).
		Order("created_at DESC").
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *repository) FindByIDAndOwner(ctx context.Context, id uuid.UUID, owner types.Owner) (*models.Cart, error) {
	var cart models.Cart
	err := ownerScope(r.db.WithContext(ctx), owner).
		Preload("Lines").
		Where("id = ?", id).
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *repository) Create(ctx context.Context, cart *models.Cart) (*models.Cart, error) {
	if cart.Status == "" {
		cart.Status = enums.CartStatusActive
	}
	if cart.ID == uuid.Nil {
		cart.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(cart).Error; err != nil {
		return nil, err
	}
	return cart, nil
}

func (r *repository) UpsertLine(ctx context.Context, line *models.CartLine) error {
	var existing models.CartLine
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND variant_id = ?", line.CartID, line.VariantID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if line.ID == uuid.Nil {
			line.ID = uuid.New()
		}
		return r.db.WithContext(ctx).Create(line).Error
	}
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&existing).Updates(map[string]any{
		"quantity":              line.Quantity,
		"unit_price_cents_snap": line.UnitPriceCentsSnap,
		"display_name":          line.DisplayName,
		"display_image_url":     line.DisplayImageURL,
	}).Error
}

func (r *repository) UpdateLineQuantity(ctx context.Context, cartID, variantID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).Model(&models.CartLine{}).
		Where("cart_id = ? AND variant_id = ?", cartID, variantID).
		Update("quantity", qty)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) RemoveLine(ctx context.Context, cartID, variantID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("cart_id = ? AND variant_id = ?", cartID, variantID).
		Delete(&models.CartLine{}).Error
}

func (r *repository) ClearLines(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Delete(&models.CartLine{}).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.ClearLines(ctx, id); err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.Cart{}).Error
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.CartStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", id).
		Update("status", status).Error
}
