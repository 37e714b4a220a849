package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openmartlabs/openmart-backend/pkg/config"
	"github.com/openmartlabs/openmart-backend/pkg/enums"
	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
)

const (
	hostedProviderName = "hosted"

	hostedParamMerchant  = "merchantCode"
	hostedParamOrder     = "orderCode"
	hostedParamAmount    = "amount"
	hostedParamCurrency  = "currency"
	hostedParamInfo      = "orderInfo"
	hostedParamReturnURL = "returnUrl"
	hostedParamNotifyURL = "notifyUrl"
	hostedParamTxn       = "txnCode"
	hostedParamRequested = "requestedAt"
	hostedParamResult    = "resultCode"
	hostedParamGateway   = "gatewayTxn"
	hostedParamMessage   = "message"
	hostedParamSignature = "signature"

	hostedResultSuccess = "00"

	hostedRequestTimeout = 15 * time.Second
)

// HostedProvider redirects the buyer to an externally hosted payment
// page. Requests and callbacks are authenticated with an HMAC-SHA512
// signature over the sorted parameter set.
type HostedProvider struct {
	cfg       config.HostedGatewayConfig
	returnURL string
	client    *http.Client
	now       func() time.Time
}

// NewHostedProvider builds the hosted-page provider.
func NewHostedProvider(cfg config.HostedGatewayConfig, returnURL string) (*HostedProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "hosted gateway base url required")
	}
	if strings.TrimSpace(cfg.MerchantCode) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "hosted gateway merchant code required")
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "hosted gateway secret required")
	}
	return &HostedProvider{
		cfg:       cfg,
		returnURL: returnURL,
		client:    &http.Client{Timeout: hostedRequestTimeout},
		now:       time.Now,
	}, nil
}

func (p *HostedProvider) Name() string {
	return hostedProviderName
}

func (p *HostedProvider) Method() enums.PaymentMethod {
	return enums.PaymentMethodGatewayRedirect
}

// CreatePayment builds the signed redirect URL for the hosted page.
func (p *HostedProvider) CreatePayment(_ context.Context, req CreateRequest) (*CreateResult, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	if req.OrderCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order code required")
	}

	txnCode := fmt.Sprintf("HST-%s", uuid.NewString())
	params := map[string]string{
		hostedParamMerchant:  p.cfg.MerchantCode,
		hostedParamOrder:     req.OrderCode,
		hostedParamAmount:    formatAmount(req.AmountCents),
		hostedParamCurrency:  req.Currency,
		hostedParamInfo:      req.Description,
		hostedParamReturnURL: p.returnURL,
		hostedParamNotifyURL: p.cfg.NotifyURL,
		hostedParamTxn:       txnCode,
		hostedParamRequested: p.now().UTC().Format(time.RFC3339),
	}
	params[hostedParamSignature] = signParams(p.cfg.Secret, params)

	query := url.Values{}
	for key, value := range params {
		query.Set(key, value)
	}
	paymentURL := strings.TrimRight(p.cfg.BaseURL, "/") + "/pay?" + query.Encode()

	return &CreateResult{
		Provider:        hostedProviderName,
		TransactionCode: txnCode,
		PaymentURL:      paymentURL,
	}, nil
}

// VerifyCallback authenticates a gateway notification. A bad signature is
// always fatal regardless of what the payload claims.
func (p *HostedProvider) VerifyCallback(_ context.Context, params map[string]string) (*CallbackResult, error) {
	received, ok := params[hostedParamSignature]
	if !ok || received == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "callback signature missing")
	}

	unsigned := make(map[string]string, len(params))
	for key, value := range params {
		if key == hostedParamSignature {
			continue
		}
		unsigned[key] = value
	}
	expected := signParams(p.cfg.Secret, unsigned)
	if !hmac.Equal([]byte(expected), []byte(received)) {
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "callback signature mismatch")
	}

	orderCode := params[hostedParamOrder]
	if orderCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback order code missing")
	}
	amountCents, err := parseAmount(params[hostedParamAmount])
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "callback amount invalid")
	}

	result := &CallbackResult{
		OrderCode:       orderCode,
		TransactionCode: params[hostedParamTxn],
		AmountCents:     amountCents,
		Succeeded:       params[hostedParamResult] == hostedResultSuccess,
		RawResponse:     canonicalParams(params),
	}
	if !result.Succeeded {
		result.FailureReason = params[hostedParamMessage]
		if result.FailureReason == "" {
			result.FailureReason = "gateway result " + params[hostedParamResult]
		}
	}
	if gateway := params[hostedParamGateway]; gateway != "" {
		result.TransactionCode = gateway
	}
	return result, nil
}

// hostedRefundAck is the gateway's synchronous answer to a refund
// instruction; settlement itself happens asynchronously on their side.
type hostedRefundAck struct {
	ResultCode string `json:"resultCode"`
	Message    string `json:"message"`
	GatewayTxn string `json:"gatewayTxn"`
}

// Refund posts a signed refund instruction to the gateway. Anything short
// of a "00" acknowledgment means no money moved.
func (p *HostedProvider) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if req.TransactionCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "original transaction code required")
	}
	refundCode := fmt.Sprintf("HSTR-%s", uuid.NewString())
	params := map[string]string{
		hostedParamMerchant: p.cfg.MerchantCode,
		hostedParamOrder:    req.OrderCode,
		hostedParamAmount:   formatAmount(req.AmountCents),
		hostedParamTxn:      refundCode,
		"originalTxn":       req.TransactionCode,
		"reason":            req.Reason,
	}
	params[hostedParamSignature] = signParams(p.cfg.Secret, params)

	form := url.Values{}
	for key, value := range params {
		form.Set(key, value)
	}
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/refunds"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build refund request")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "gateway unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "read gateway response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, pkgerrors.New(pkgerrors.CodeProvider,
			fmt.Sprintf("gateway responded %d", resp.StatusCode)).
			WithDetails(map[string]any{"body": string(raw)})
	}
	var ack hostedRefundAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "decode refund acknowledgment")
	}
	if ack.ResultCode != hostedResultSuccess {
		reason := ack.Message
		if reason == "" {
			reason = "gateway result " + ack.ResultCode
		}
		return nil, pkgerrors.New(pkgerrors.CodeProvider, "refund declined: "+reason)
	}

	code := refundCode
	if ack.GatewayTxn != "" {
		code = ack.GatewayTxn
	}
	return &RefundResult{
		Provider:        hostedProviderName,
		TransactionCode: code,
		RawResponse:     string(raw),
	}, nil
}

// signParams computes HMAC-SHA512 over the parameters sorted by key and
// joined as key=value pairs. Empty values are excluded from the base string.
func signParams(secret string, params map[string]string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(canonicalParams(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

func canonicalParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key, value := range params {
		if value == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}
	return strings.Join(pairs, "&")
}

// formatAmount renders cents as a major-unit decimal string, which is
// what the gateway expects on the wire.
func formatAmount(cents int64) string {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}

func parseAmount(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("amount missing")
	}
	major, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	cents := major.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		return 0, fmt.Errorf("amount %s has sub-cent precision", raw)
	}
	return cents.IntPart(), nil
}
