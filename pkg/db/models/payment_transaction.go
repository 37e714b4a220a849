package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/openmartlabs/openmart-backend/pkg/enums"
)

// PaymentTransaction records one attempt against a provider. An order may
// accumulate many rows, but at most one successful payment and one
// successful refund.
type PaymentTransaction struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID         uuid.UUID               `gorm:"column:order_id;type:uuid;not null;index"`
	Type            enums.TransactionType   `gorm:"column:type;not null;default:'payment'"`
	Status          enums.TransactionStatus `gorm:"column:status;not null;default:'pending'"`
	Provider        string                  `gorm:"column:provider;not null"`
	AmountCents     int64                   `gorm:"column:amount_cents;not null"`
	Currency        string                  `gorm:"column:currency;not null;default:'VND'"`
	TransactionCode *string                 `gorm:"column:transaction_code;index"`
	GatewayResponse *string                 `gorm:"column:gateway_response"`
	CompletedAt     *time.Time              `gorm:"column:completed_at"`
	CreatedAt       time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the default pluralization.
func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}
