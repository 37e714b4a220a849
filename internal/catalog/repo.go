package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openmartlabs/openmart-backend/pkg/db/models"
	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
)

// Repository reads the live catalog. Checkout always prices from here,
// never from cart snapshots.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindVariantByID(ctx context.Context, id uuid.UUID) (*models.Variant, error)
	FindVariantsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Variant, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a catalog repository backed by the provided DB.
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

func (r *repository) FindVariantByID(ctx context.Context, id uuid.UUID) (*models.Variant, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id required")
	}
	var variant models.Variant
	err := r.variantQuery(ctx).First(&variant, "variants.id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variant")
	}
	return &variant, nil
}

func (r *repository) FindVariantsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Variant, error) {
	result := make(map[uuid.UUID]*models.Variant, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var variants []models.Variant
	err := r.variantQuery(ctx).Where("variants.id IN ?", ids).Find(&variants).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variants")
	}
	for i := range variants {
		v := variants[i]
		result[v.ID] = &v
	}
	return result, nil
}

// variantQuery pulls the parent product's active flag alongside the
// variant, so availability checks see both levels of the catalog.
func (r *repository) variantQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Variant{}).
		Select("variants.*, products.active AS parent_active").
		Joins("LEFT JOIN products ON products.id = variants.product_id")
}
