package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
)

var _ driven.StateSigner = (*StateSigner)(nil)

const stateAudience = "oauth-state"

type stateClaims struct {
	TenantID string          `json:"tid"`
	Platform domain.Platform `json:"plt"`
	jwt.RegisteredClaims
}

// StateSigner encodes the OAuth state parameter as a short HS256 JWT. The
// nonce travels as jti. Nothing is stored server side.
type StateSigner struct {
	secret []byte
}

// NewStateSigner creates a signer. Use a secret distinct from the bearer
// token secret so a state can never pass as an API token.
func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{secret: []byte(secret)}
}

// Sign encodes state.
func (s *StateSigner) Sign(state domain.OAuthState) (string, error) {
	claims := stateClaims{
		TenantID: state.TenantID,
		Platform: state.Platform,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        state.Nonce,
			Audience:  jwt.ClaimStrings{stateAudience},
			ExpiresAt: jwt.NewNumericDate(state.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify decodes a state produced by Sign. Expiry is checked against now.
func (s *StateSigner) Verify(encoded string, now time.Time) (*domain.OAuthState, error) {
	token, err := jwt.ParseWithClaims(encoded, &stateClaims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(stateAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, domain.ErrInvalidState
	}

	claims, ok := token.Claims.(*stateClaims)
	if !ok || claims.TenantID == "" || !claims.Platform.IsValid() {
		return nil, domain.ErrInvalidState
	}

	return &domain.OAuthState{
		TenantID:  claims.TenantID,
		Platform:  claims.Platform,
		Nonce:     claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
