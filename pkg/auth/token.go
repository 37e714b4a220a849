package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/openmartlabs/openmart-backend/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// MintAccessToken issues a signed JWT for the provided payload using the configured TTL.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if cfg.Issuer == "" {
		return "", fmt.Errorf("jwt issuer is required")
	}

	var ttl time.Duration
	switch payload.Kind {
	case SubjectKindUser:
		if payload.UserID == nil {
			return "", fmt.Errorf("user token requires a user id")
		}
		if cfg.ExpirationMinutes <= 0 {
			return "", fmt.Errorf("jwt expiration minutes must be positive")
		}
		ttl = time.Duration(cfg.ExpirationMinutes) * time.Minute
	case SubjectKindGuest:
		if payload.SessionID == "" {
			return "", fmt.Errorf("guest token requires a session id")
		}
		ttl = cfg.GuestTTL()
		if ttl <= 0 {
			return "", fmt.Errorf("guest session ttl must be positive")
		}
	default:
		return "", fmt.Errorf("invalid subject kind %q", payload.Kind)
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	claims := AccessTokenClaims{
		Kind:      payload.Kind,
		UserID:    payload.UserID,
		SessionID: payload.SessionID,
		Email:     payload.Email,
		Admin:     payload.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// NewGuestSession mints a token for a fresh guest checkout session and
// returns the generated session id alongside it.
func NewGuestSession(cfg config.JWTConfig, now time.Time) (sessionID, token string, err error) {
	sessionID = uuid.NewString()
	token, err = MintAccessToken(cfg, now, AccessTokenPayload{
		Kind:      SubjectKindGuest,
		SessionID: sessionID,
	})
	if err != nil {
		return "", "", err
	}
	return sessionID, token, nil
}

// ParseAccessToken validates the JWT string and returns typed claims.
func ParseAccessToken(cfg config.JWTConfig, tokenString string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
	)
	if err != nil {
		return nil, err
	}

	return claims, nil
}
