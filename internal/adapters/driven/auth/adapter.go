package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
)

// Ensure Adapter implements AuthAdapter
var _ driven.AuthAdapter = (*Adapter)(nil)

// tokenIssuer is the iss claim of tenant bearer tokens.
const tokenIssuer = "commerce-connect"

// jwtClaims wraps domain.TokenClaims for JWT compatibility
type jwtClaims struct {
	TenantID string      `json:"tenant_id"`
	Role     domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Adapter issues and verifies HS256 bearer tokens for tenant backends.
type Adapter struct {
	jwtSecret []byte
}

// NewAdapter creates a new auth adapter with the given JWT secret
func NewAdapter(jwtSecret string) *Adapter {
	return &Adapter{jwtSecret: []byte(jwtSecret)}
}

// GenerateToken creates a signed JWT from domain claims
func (a *Adapter) GenerateToken(claims *domain.TokenClaims) (string, error) {
	if claims.TenantID == "" {
		return "", fmt.Errorf("tenant id is required: %w", domain.ErrInvalidInput)
	}
	role := claims.Role
	if role == "" {
		role = domain.RoleTenant
	}

	jc := jwtClaims{
		TenantID: claims.TenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   tokenIssuer,
			Subject:  claims.Subject,
			IssuedAt: jwt.NewNumericDate(time.Unix(claims.IssuedAt, 0)),
		},
	}
	if claims.ExpiresAt > 0 {
		jc.ExpiresAt = jwt.NewNumericDate(time.Unix(claims.ExpiresAt, 0))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jc)
	return token.SignedString(a.jwtSecret)
}

// ParseToken validates a JWT and extracts domain claims.
// Any failure is reported as domain.ErrUnauthorized.
func (a *Adapter) ParseToken(tokenString string) (*domain.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(token *jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", domain.ErrUnauthorized)
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("%w: token has no tenant", domain.ErrUnauthorized)
	}

	out := &domain.TokenClaims{
		TenantID: claims.TenantID,
		Subject:  claims.Subject,
		Role:     claims.Role,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return out, nil
}

// IsExpiredError reports whether err came from an expired token.
func IsExpiredError(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
