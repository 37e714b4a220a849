package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/openmartlabs/openmart-backend/pkg/enums"
	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
)

const codProviderName = "cod"

// CODProvider collects nothing online. Orders paying cash on delivery
// confirm immediately and settle with the courier.
type CODProvider struct{}

// NewCODProvider builds the cash-on-delivery provider.
func NewCODProvider() *CODProvider {
	return &CODProvider{}
}

func (p *CODProvider) Name() string {
	return codProviderName
}

func (p *CODProvider) Method() enums.PaymentMethod {
	return enums.PaymentMethodCOD
}

func (p *CODProvider) CreatePayment(_ context.Context, req CreateRequest) (*CreateResult, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	return &CreateResult{
		Provider:        codProviderName,
		TransactionCode: fmt.Sprintf("COD-%s", uuid.NewString()),
		Offline:         true,
	}, nil
}

// VerifyCallback never applies; the courier settles cash out of band.
func (p *CODProvider) VerifyCallback(context.Context, map[string]string) (*CallbackResult, error) {
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "cash on delivery has no gateway callbacks")
}

// Refund succeeds without provider interaction; the cash moves back
// through the courier or the store counter.
func (p *CODProvider) Refund(_ context.Context, req RefundRequest) (*RefundResult, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	return &RefundResult{
		Provider:        codProviderName,
		TransactionCode: fmt.Sprintf("CODR-%s", uuid.NewString()),
	}, nil
}
