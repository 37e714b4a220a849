package models

import (
	"time"

	"github.com/google/uuid"
)

// Variant is the sellable unit of the catalog. Checkout always prices
// against this row, never against what the cart stored.
type Variant struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID  uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	SKU        string    `gorm:"column:sku;not null;uniqueIndex"`
	Name       string    `gorm:"column:name;not null"`
	Attributes *string   `gorm:"column:attributes"`
	PriceCents int64     `gorm:"column:price_cents;not null"`
	Currency   string    `gorm:"column:currency;not null;default:'VND'"`
	Active     bool      `gorm:"column:active;not null;default:true"`
	ImageURL   *string   `gorm:"column:image_url"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`

	// ParentActive mirrors the parent product's active flag when the row
	// was loaded through the catalog join. Nil means the join found no
	// parent row.
	ParentActive *bool `gorm:"column:parent_active;->"`
}

// Purchasable reports whether the variant can be sold right now. A
// deactivated parent product takes the whole variant off sale.
func (v Variant) Purchasable() bool {
	if !v.Active {
		return false
	}
	return v.ParentActive == nil || *v.ParentActive
}

// TableName overrides the default pluralization.
func (Variant) TableName() string {
	return "variants"
}

// Product groups variants for display purposes.
type Product struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name        string    `gorm:"column:name;not null"`
	Slug        string    `gorm:"column:slug;not null;uniqueIndex"`
	Description *string   `gorm:"column:description"`
	Active      bool      `gorm:"column:active;not null;default:true"`
	Variants    []Variant `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the default pluralization.
func (Product) TableName() string {
	return "products"
}
