package controllers

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/openmartlabs/openmart-backend/api/middleware"
	"github.com/openmartlabs/openmart-backend/api/responses"
	"github.com/openmartlabs/openmart-backend/api/validators"
	checkoutsvc "github.com/openmartlabs/openmart-backend/internal/checkout"
	"github.com/openmartlabs/openmart-backend/pkg/enums"
	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
	"github.com/openmartlabs/openmart-backend/pkg/logger"
	"github.com/openmartlabs/openmart-backend/pkg/types"
)

type checkoutRequest struct {
	PaymentMethod      string           `json:"paymentMethod" validate:"required,oneof=cod gateway_redirect gateway_capture"`
	ShippingAddress    types.Address    `json:"shippingAddress" validate:"required"`
	GuestEmail         *string          `json:"guestEmail,omitempty" validate:"omitempty,email"`
	ExpectedUnitPrices map[string]int64 `json:"expectedUnitPrices,omitempty"`
}

// Checkout converts the caller's active cart into an order.
func Checkout(svc *checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		pinned, err := parseExpectedPrices(payload.ExpectedUnitPrices)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Execute(r.Context(), middleware.OwnerFromContext(r.Context()), checkoutsvc.Request{
			PaymentMethod:      method,
			ShippingAddress:    payload.ShippingAddress,
			GuestEmail:         payload.GuestEmail,
			ClientIP:           clientIP(r),
			ExpectedUnitPrices: pinned,
			IdempotencyKey:     strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func parseExpectedPrices(raw map[string]int64) (map[uuid.UUID]int64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	pinned := make(map[uuid.UUID]int64, len(raw))
	for key, cents := range raw {
		id, err := uuid.Parse(key)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid variant id in expected prices").
				WithDetails(map[string]any{"variantId": key})
		}
		pinned[id] = cents
	}
	return pinned, nil
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
