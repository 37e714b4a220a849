package controllers

import (
	"net/http"

	"github.com/openmartlabs/openmart-backend/api/responses"
	"github.com/openmartlabs/openmart-backend/api/validators"
	ordersvc "github.com/openmartlabs/openmart-backend/internal/orders"
	"github.com/openmartlabs/openmart-backend/pkg/logger"
)

type refundOrderRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// AdminOrderRefund reverses a confirmed order's successful payment and,
// when configured, restocks its units.
func AdminOrderRefund(svc *ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload refundOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Refund(r.Context(), orderID, adminActor(), payload.Reason); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "refunded"})
	}
}

// AdminOrderTimeline exposes any order's audit trail to operators.
func AdminOrderTimeline(svc *ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := svc.Timeline(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entries)
	}
}
