// internal/common/auth/token.go
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "presence-tracker/internal/common/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the bearer token claims the presence API trusts. Subject holds
// the user id; UserID is accepted for tokens minted by older issuers.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
}

// TokenVerifier checks HS256 bearer tokens signed with a shared secret.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) (*TokenVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify validates raw and returns the caller's user id.
func (v *TokenVerifier) Verify(raw string) (string, error) {
	if raw == "" {
		return "", apperrors.NewUnauthorizedError("missing bearer token")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", apperrors.NewUnauthorizedError(describe(err))
	}
	if !token.Valid {
		return "", apperrors.NewUnauthorizedError("invalid token")
	}

	userID := claims.Subject
	if userID == "" {
		userID = claims.UserID
	}
	if userID == "" {
		return "", apperrors.NewUnauthorizedError("token carries no subject")
	}
	return userID, nil
}

// Issue signs a token for userID valid for ttl. Used by the admin CLI and tests.
func (v *TokenVerifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func describe(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad token signature"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "unexpected token issuer"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	default:
		return err.Error()
	}
}
