package controllers

import (
	"net/http"

	"github.com/openmartlabs/openmart-backend/api/middleware"
	"github.com/openmartlabs/openmart-backend/api/responses"
	"github.com/openmartlabs/openmart-backend/api/validators"
	notificationsvc "github.com/openmartlabs/openmart-backend/internal/notifications"
	"github.com/openmartlabs/openmart-backend/pkg/logger"
	"github.com/openmartlabs/openmart-backend/pkg/pagination"
)

// NotificationList returns the caller's notification feed, newest first.
func NotificationList(svc *notificationsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.List(r.Context(), middleware.OwnerFromContext(r.Context()), pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// NotificationMarkRead marks one notification as read.
func NotificationMarkRead(svc *notificationsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notificationID, err := pathUUID(r, "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.MarkRead(r.Context(), middleware.OwnerFromContext(r.Context()), notificationID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "read"})
	}
}
