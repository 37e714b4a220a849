package middleware

import (
	"net/http"
	"strings"

	"github.com/openmartlabs/openmart-backend/api/responses"
	pkgauth "github.com/openmartlabs/openmart-backend/pkg/auth"
	"github.com/openmartlabs/openmart-backend/pkg/config"
	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
	"github.com/openmartlabs/openmart-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the
// caller's identity. Registered users and guest checkout sessions share the
// same token shape.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			var userID string
			if claims.UserID != nil {
				userID = claims.UserID.String()
			}
			if userID == "" && claims.SessionID == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "token carries no identity"))
				return
			}

			ctx := withIdentity(r.Context(), userID, claims.SessionID, claims.Admin)
			if logg != nil {
				if userID != "" {
					ctx = logg.WithUserID(ctx, userID)
				} else {
					ctx = logg.WithSessionID(ctx, claims.SessionID)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminOnly refuses requests whose token lacks the admin flag.
func AdminOnly(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsAdminFromContext(r.Context()) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
