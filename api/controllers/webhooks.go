package controllers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openmartlabs/openmart-backend/api/responses"
	"github.com/openmartlabs/openmart-backend/internal/idempotency"
	ordersvc "github.com/openmartlabs/openmart-backend/internal/orders"
	"github.com/openmartlabs/openmart-backend/pkg/config"
	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
	"github.com/openmartlabs/openmart-backend/pkg/logger"
)

const callbackScope = "payments.callback"

// PaymentCallback receives server-to-server gateway notifications. The
// gateway retries until it sees 200, so duplicates are expected: a retry
// of a processed notification replays the stored outcome, a retry racing
// the original is turned away while the first delivery runs, and a
// failed delivery is never cached so the gateway's retry re-executes.
func PaymentCallback(svc *ordersvc.Service, coord *idempotency.Coordinator, cfg config.PaymentsConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		params, err := callbackParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if coord == nil {
			outcome, err := svc.HandleCallback(r.Context(), provider, params)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, outcome)
			return
		}

		eventID := callbackEventID(params)
		opts := idempotency.Options{ResultTTL: cfg.CallbackTTL, LockTTL: cfg.LockTTL}
		outcome, _, err := idempotency.Execute(r.Context(), coord, callbackScope+":"+provider, eventID, opts,
			func(ctx context.Context) (*ordersvc.CallbackOutcome, error) {
				return svc.HandleCallback(ctx, provider, params)
			})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, outcome)
	}
}

// callbackEventID picks a stable id for a notification: the gateway's
// transaction reference when present, the parameter fingerprint otherwise.
func callbackEventID(params map[string]string) string {
	for _, key := range []string{"gatewayTxn", "txnCode", "paymentId"} {
		if value := params[key]; value != "" {
			return value
		}
	}
	return fingerprintParams(params)
}

// PaymentReturn lands the buyer's browser after the hosted payment page.
// The result here is advisory; the server-to-server callback is what moves
// the order. Still verify before telling the buyer anything.
func PaymentReturn(svc *ordersvc.Service, cfg config.PaymentsConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		params := map[string]string{}
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}

		outcome, err := svc.HandleCallback(r.Context(), provider, params)
		if err != nil {
			logg.Error(r.Context(), "payment return rejected", err)
			http.Redirect(w, r, cfg.CancelURL, http.StatusFound)
			return
		}

		target, parseErr := url.Parse(cfg.ReturnURL)
		if parseErr != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, parseErr, "invalid return url"))
			return
		}
		query := target.Query()
		query.Set("orderId", outcome.OrderID.String())
		query.Set("status", string(outcome.Status))
		if outcome.TransactionCode != "" {
			query.Set("transactionId", outcome.TransactionCode)
		}
		target.RawQuery = query.Encode()
		http.Redirect(w, r, target.String(), http.StatusFound)
	}
}

func callbackParams(r *http.Request) (map[string]string, error) {
	params := map[string]string{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid callback form")
		}
		for key, values := range r.PostForm {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}
	}
	if len(params) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback carries no parameters")
	}
	return params, nil
}

// fingerprintParams derives a stable id for a notification so retries hash
// to the same idempotency key.
func fingerprintParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, key := range keys {
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(params[key])
		sb.WriteByte('&')
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
