package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// TokenIssuer signs HS256 session tokens for signed-in operators.
type TokenIssuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(key []byte, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: key, issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue returns a signed token for u and the claims it carries.
func (ti *TokenIssuer) Issue(u User) (string, *Claims, error) {
	now := ti.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   u.Email,
			Issuer:    ti.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
		Name: u.Name,
		Role: u.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.key)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Middleware returns a JWTMiddleware that accepts this issuer's tokens.
func (ti *TokenIssuer) Middleware(skipper func(echo.Context) bool, revocations Revocations) echo.MiddlewareFunc {
	return JWTMiddleware(JWTConfig{
		SigningKey:  ti.key,
		Issuer:      ti.issuer,
		Skipper:     skipper,
		Revocations: revocations,
	})
}
