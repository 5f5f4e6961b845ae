package driven

import "github.com/custodia-labs/commerce-connect/internal/core/domain"

// AuthAdapter issues and parses bearer tokens for tenant backends.
type AuthAdapter interface {
	GenerateToken(claims *domain.TokenClaims) (string, error)
	ParseToken(token string) (*domain.TokenClaims, error)
}
