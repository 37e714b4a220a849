package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/openmartlabs/openmart-backend/pkg/types"
)

type contextKey string

const (
	ctxUserID    contextKey = "user_id"
	ctxSessionID contextKey = "session_id"
	ctxAdmin     contextKey = "admin"
)

// OwnerFromContext extracts the request identity seeded by the Auth
// middleware. The zero Owner means the request was not authenticated.
func OwnerFromContext(ctx context.Context) types.Owner {
	if ctx == nil {
		return types.Owner{}
	}
	owner := types.Owner{}
	if raw, ok := ctx.Value(ctxUserID).(string); ok && raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			owner.UserID = &id
		}
	}
	if owner.UserID == nil {
		if sid, ok := ctx.Value(ctxSessionID).(string); ok {
			owner.SessionID = sid
		}
	}
	return owner
}

// IsAdminFromContext reports whether the authenticated user carries the
// admin flag.
func IsAdminFromContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	admin, ok := ctx.Value(ctxAdmin).(bool)
	return ok && admin
}

func withIdentity(ctx context.Context, userID, sessionID string, admin bool) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxSessionID, sessionID)
	return context.WithValue(ctx, ctxAdmin, admin)
}
