package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgauth "github.com/openmartlabs/openmart-backend/pkg/auth"
	"github.com/openmartlabs/openmart-backend/pkg/config"
	"github.com/openmartlabs/openmart-backend/pkg/logger"
	"github.com/openmartlabs/openmart-backend/pkg/types"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "openmart-test",
		ExpirationMinutes: 60,
		GuestTTLMinutes:   60,
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "middleware-test", Output: io.Discard})
}

func ownerEcho(t *testing.T, got *types.Owner, admin *bool) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = OwnerFromContext(r.Context())
		if admin != nil {
			*admin = IsAdminFromContext(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	t.Parallel()
	var owner types.Owner
	handler := Auth(testJWTConfig(), testLogger())(ownerEcho(t, &owner, nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthRejectsGarbageToken(t *testing.T) {
	t.Parallel()
	var owner types.Owner
	handler := Auth(testJWTConfig(), testLogger())(ownerEcho(t, &owner, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthSeedsUserIdentity(t *testing.T) {
	t.Parallel()
	cfg := testJWTConfig()
	userID := uuid.New()
	token, err := pkgauth.MintAccessToken(cfg, time.Now(), pkgauth.AccessTokenPayload{
		Kind:   pkgauth.SubjectKindUser,
		UserID: &userID,
		Email:  "buyer@example.test",
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	var owner types.Owner
	var admin bool
	handler := Auth(cfg, testLogger())(ownerEcho(t, &owner, &admin))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if owner.UserID == nil || *owner.UserID != userID {
		t.Fatalf("unexpected owner: %+v", owner)
	}
	if admin {
		t.Fatal("plain user must not be admin")
	}
}

func TestAuthSeedsGuestIdentity(t *testing.T) {
	t.Parallel()
	cfg := testJWTConfig()
	sessionID, token, err := pkgauth.NewGuestSession(cfg, time.Now())
	if err != nil {
		t.Fatalf("mint guest session: %v", err)
	}

	var owner types.Owner
	handler := Auth(cfg, testLogger())(ownerEcho(t, &owner, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !owner.IsGuest() || owner.SessionID != sessionID {
		t.Fatalf("unexpected owner: %+v", owner)
	}
}

func TestAdminOnlyGuards(t *testing.T) {
	t.Parallel()
	cfg := testJWTConfig()
	adminID := uuid.New()
	token, err := pkgauth.MintAccessToken(cfg, time.Now(), pkgauth.AccessTokenPayload{
		Kind:   pkgauth.SubjectKindUser,
		UserID: &adminID,
		Admin:  true,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	var owner types.Owner
	var admin bool
	handler := Auth(cfg, testLogger())(AdminOnly(testLogger())(ownerEcho(t, &owner, &admin)))

	// Admin token passes.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/x/refund", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !admin {
		t.Fatalf("admin should pass, got %d admin=%v", rec.Code, admin)
	}

	// Guest token is refused.
	_, guestToken, err := pkgauth.NewGuestSession(cfg, time.Now())
	if err != nil {
		t.Fatalf("mint guest session: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/x/refund", nil)
	req.Header.Set("Authorization", "Bearer "+guestToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("guest should be forbidden, got %d", rec.Code)
	}
}
