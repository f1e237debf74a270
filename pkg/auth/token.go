// Package auth mints and verifies the HS256 service tokens internal callers
// (solver workers, operators) present on /internal routes.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/solverpay-backend/pkg/config"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
)

// clockSkew tolerates small drift between the minting host and this one.
const clockSkew = 30 * time.Second

var signingMethod = jwt.SigningMethodHS256

var errNoSecret = errors.New("jwt secret is required")

type ServiceTokenPayload struct {
	Subject string
	Role    enums.ServiceRole
	// TTL overrides the configured lifetime when positive.
	TTL time.Duration
}

type ServiceTokenClaims struct {
	Role enums.ServiceRole `json:"role"`
	jwt.RegisteredClaims
}

func lifetime(cfg config.JWTConfig, override time.Duration) (time.Duration, error) {
	if override > 0 {
		return override, nil
	}
	if cfg.ExpirationMinutes <= 0 {
		return 0, errors.New("jwt expiration minutes must be positive")
	}
	return time.Duration(cfg.ExpirationMinutes) * time.Minute, nil
}

func MintServiceToken(cfg config.JWTConfig, now time.Time, payload ServiceTokenPayload) (string, error) {
	subject := strings.TrimSpace(payload.Subject)
	switch {
	case cfg.Secret == "":
		return "", errNoSecret
	case cfg.Issuer == "":
		return "", errors.New("jwt issuer is required")
	case !payload.Role.IsValid():
		return "", fmt.Errorf("invalid service role %q", payload.Role)
	case subject == "":
		return "", errors.New("token subject is required")
	}
	ttl, err := lifetime(cfg, payload.TTL)
	if err != nil {
		return "", err
	}

	signed, err := jwt.NewWithClaims(signingMethod, ServiceTokenClaims{
		Role: payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}

// ParseServiceToken accepts only HS256 tokens from the configured issuer that
// carry an expiry and a known role.
func ParseServiceToken(cfg config.JWTConfig, raw string) (*ServiceTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, errNoSecret
	}
	secret := []byte(cfg.Secret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)

	claims := &ServiceTokenClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return secret, nil }); err != nil {
		return nil, err
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("invalid service role %q", claims.Role)
	}
	return claims, nil
}
