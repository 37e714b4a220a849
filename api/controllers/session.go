package controllers

import (
	"net/http"
	"time"

	"github.com/openmartlabs/openmart-backend/api/responses"
	pkgauth "github.com/openmartlabs/openmart-backend/pkg/auth"
	"github.com/openmartlabs/openmart-backend/pkg/config"
	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
	"github.com/openmartlabs/openmart-backend/pkg/logger"
)

type guestSessionResponse struct {
	SessionID   string `json:"sessionId"`
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// GuestSession mints an anonymous checkout session token. Guests carry this
// token through cart building and checkout; it scopes their cart and orders.
func GuestSession(cfg config.JWTConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, token, err := pkgauth.NewGuestSession(cfg, time.Now())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint guest session"))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, guestSessionResponse{
			SessionID:   sessionID,
			AccessToken: token,
			ExpiresIn:   int64(cfg.GuestTTL().Seconds()),
		})
	}
}
