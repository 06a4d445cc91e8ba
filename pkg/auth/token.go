package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/enums"
)

// Tokens are HS256 only; any other alg header is rejected before the key is
// released.
var signingMethod = jwt.SigningMethodHS256

// Leeway tolerates clock skew between the identity service and this one.
const Leeway = 30 * time.Second

var (
	ErrMissingSecret = errors.New("jwt secret is required")
	ErrMissingIssuer = errors.New("jwt issuer is required")
	ErrMissingUser   = errors.New("token missing user id")
)

// MintAccessToken signs a token shaped like the identity service's. Only
// local tooling and tests mint tokens here.
func MintAccessToken(cfg config.JWTConfig, now time.Time, ttl time.Duration, payload AccessTokenPayload) (string, error) {
	switch {
	case cfg.Secret == "":
		return "", ErrMissingSecret
	case cfg.Issuer == "":
		return "", ErrMissingIssuer
	case ttl <= 0:
		return "", fmt.Errorf("jwt ttl must be positive, got %s", ttl)
	case payload.UserID == uuid.Nil:
		return "", ErrMissingUser
	case !payload.Role.IsValid():
		return "", fmt.Errorf("invalid role %q", payload.Role)
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := AccessTokenClaims{
		UserID: payload.UserID,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, issuer and expiry, then normalizes the
// identity claims.
func ParseAccessToken(cfg config.JWTConfig, tokenString string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(Leeway),
	)
	if err != nil {
		return nil, err
	}
	if err := claims.normalize(); err != nil {
		return nil, err
	}
	return claims, nil
}

// normalize fills user_id from sub when the issuer only sets the registered
// claim, and defaults a missing role to user.
func (c *AccessTokenClaims) normalize() error {
	if c.UserID == uuid.Nil && c.Subject != "" {
		id, err := uuid.Parse(c.Subject)
		if err != nil {
			return fmt.Errorf("subject is not a user id: %w", err)
		}
		c.UserID = id
	}
	if c.UserID == uuid.Nil {
		return ErrMissingUser
	}
	if c.Role == "" {
		c.Role = enums.RoleUser
		return nil
	}
	role, err := enums.ParseRole(strings.ToLower(string(c.Role)))
	if err != nil {
		return err
	}
	c.Role = role
	return nil
}
