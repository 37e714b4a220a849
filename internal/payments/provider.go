package payments

import (
	"context"

	"github.com/google/uuid"

	"github.com/openmartlabs/openmart-backend/pkg/enums"
)

// CreateRequest carries everything a provider needs to initiate payment
// for a freshly created order.
type CreateRequest struct {
	OrderID     uuid.UUID
	OrderCode   string
	AmountCents int64
	Currency    string
	Description string
	ClientIP    string
}

// CreateResult is the provider's answer to a payment initiation.
// Offline providers collect no money online and leave PaymentURL empty.
type CreateResult struct {
	Provider        string
	TransactionCode string
	PaymentURL      string
	Offline         bool
}

// CallbackResult is the verified outcome of a gateway notification.
// RawResponse preserves the provider payload for the transaction record.
type CallbackResult struct {
	OrderCode       string
	TransactionCode string
	AmountCents     int64
	Succeeded       bool
	FailureReason   string
	RawResponse     string
}

// RefundRequest asks the provider to return money for a captured payment.
type RefundRequest struct {
	OrderID         uuid.UUID
	OrderCode       string
	TransactionCode string
	AmountCents     int64
	Currency        string
	Reason          string
}

// RefundResult reports the provider-side refund reference.
type RefundResult struct {
	Provider        string
	TransactionCode string
	RawResponse     string
}

// Provider abstracts one payment rail. Implementations must be safe for
// concurrent use.
type Provider interface {
	Name() string
	Method() enums.PaymentMethod
	CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error)
	VerifyCallback(ctx context.Context, params map[string]string) (*CallbackResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}
