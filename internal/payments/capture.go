package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openmartlabs/openmart-backend/pkg/config"
	"github.com/openmartlabs/openmart-backend/pkg/enums"
	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
)

const (
	captureProviderName = "capture"

	captureStatusApproved = "approved"
	captureStatusCaptured = "captured"
	captureStatusRefunded = "refunded"
)

// CaptureProvider talks to a two-phase gateway: the buyer approves the
// payment on the gateway's page, then we capture the approved amount when
// the gateway notifies us. Money only moves at capture time.
type CaptureProvider struct {
	cfg    config.CaptureGatewayConfig
	client *http.Client
}

// NewCaptureProvider builds the two-phase gateway provider.
func NewCaptureProvider(cfg config.CaptureGatewayConfig) (*CaptureProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "capture gateway base url required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "capture gateway credentials required")
	}
	return &CaptureProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (p *CaptureProvider) Name() string {
	return captureProviderName
}

func (p *CaptureProvider) Method() enums.PaymentMethod {
	return enums.PaymentMethodGatewayCapture
}

type capturePaymentRequest struct {
	OrderCode   string `json:"order_code"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

type capturePaymentResponse struct {
	PaymentID   string `json:"payment_id"`
	ApprovalURL string `json:"approval_url"`
	Status      string `json:"status"`
	OrderCode   string `json:"order_code"`
	Amount      string `json:"amount"`
	Reason      string `json:"reason,omitempty"`
}

type captureRefundResponse struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

// CreatePayment opens an authorization with the gateway and returns the
// approval URL the buyer must visit.
func (p *CaptureProvider) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	if req.OrderCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order code required")
	}

	body := capturePaymentRequest{
		OrderCode:   req.OrderCode,
		Amount:      formatAmount(req.AmountCents),
		Currency:    req.Currency,
		Description: req.Description,
	}
	var created capturePaymentResponse
	if err := p.do(ctx, http.MethodPost, "/v1/payments", body, &created); err != nil {
		return nil, err
	}
	if created.PaymentID == "" || created.ApprovalURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeProvider, "gateway returned incomplete payment")
	}

	return &CreateResult{
		Provider:        captureProviderName,
		TransactionCode: created.PaymentID,
		PaymentURL:      created.ApprovalURL,
	}, nil
}

// VerifyCallback treats the notification as a hint only: the payment is
// re-read from the gateway and, if the buyer approved it, captured. The
// gateway's answer to the capture call is the authoritative outcome.
func (p *CaptureProvider) VerifyCallback(ctx context.Context, params map[string]string) (*CallbackResult, error) {
	paymentID := params["paymentId"]
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback payment id missing")
	}

	var payment capturePaymentResponse
	if err := p.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, &payment); err != nil {
		return nil, err
	}

	amountCents, err := parseAmount(payment.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "gateway amount invalid")
	}
	result := &CallbackResult{
		OrderCode:       payment.OrderCode,
		TransactionCode: payment.PaymentID,
		AmountCents:     amountCents,
	}

	switch payment.Status {
	case captureStatusApproved:
		var captured capturePaymentResponse
		if err := p.do(ctx, http.MethodPost, "/v1/payments/"+paymentID+"/capture", nil, &captured); err != nil {
			return nil, err
		}
		raw, _ := json.Marshal(captured)
		result.RawResponse = string(raw)
		result.Succeeded = captured.Status == captureStatusCaptured
		if !result.Succeeded {
			result.FailureReason = "capture declined: " + captured.Status
		}
	case captureStatusCaptured:
		// Already captured; a retried notification lands here.
		raw, _ := json.Marshal(payment)
		result.RawResponse = string(raw)
		result.Succeeded = true
	default:
		raw, _ := json.Marshal(payment)
		result.RawResponse = string(raw)
		result.FailureReason = payment.Reason
		if result.FailureReason == "" {
			result.FailureReason = "payment not approved: " + payment.Status
		}
	}
	return result, nil
}

// Refund returns the captured amount through the gateway.
func (p *CaptureProvider) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.TransactionCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "original transaction code required")
	}
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	body := map[string]string{
		"amount": formatAmount(req.AmountCents),
		"reason": req.Reason,
	}
	var refund captureRefundResponse
	path := "/v1/payments/" + req.TransactionCode + "/refunds"
	if err := p.do(ctx, http.MethodPost, path, body, &refund); err != nil {
		return nil, err
	}
	if refund.Status != captureStatusRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeProvider, "refund declined: "+refund.Status)
	}

	raw, _ := json.Marshal(refund)
	return &RefundResult{
		Provider:        captureProviderName,
		TransactionCode: refund.RefundID,
		RawResponse:     string(raw),
	}, nil
}

func (p *CaptureProvider) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway request")
		}
		payload = bytes.NewReader(encoded)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeProvider, err, "gateway unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeProvider, err, "read gateway response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pkgerrors.New(pkgerrors.CodeProvider,
			fmt.Sprintf("gateway responded %d", resp.StatusCode)).
			WithDetails(map[string]any{"body": string(raw)})
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeProvider, err, "decode gateway response")
	}
	return nil
}
