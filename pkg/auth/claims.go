package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Subject kinds carried in the token.
const (
	SubjectKindUser  = "user"
	SubjectKindGuest = "guest"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	Kind      string
	UserID    *uuid.UUID
	SessionID string
	Email     string
	Admin     bool
	JTI       string
}

// AccessTokenClaims represents the typed JWT issued to clients. Guest
// checkout sessions and registered users share one token shape; Kind tells
// them apart.
type AccessTokenClaims struct {
	Kind      string     `json:"kind"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Email     string     `json:"email,omitempty"`
	Admin     bool       `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// IsGuest reports whether the token identifies a guest checkout session.
func (c *AccessTokenClaims) IsGuest() bool {
	return c.Kind == SubjectKindGuest
}
