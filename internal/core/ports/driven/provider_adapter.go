package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
)

// ProviderAdapter talks to one platform's OAuth endpoints.
// Each platform (Google, Meta) has its own implementation; all provider
// specific behaviour stays behind this interface.
type ProviderAdapter interface {
	// Platform returns the platform this adapter serves.
	Platform() domain.Platform

	// DefaultScopes returns the scopes requested when none are given.
	DefaultScopes() []string

	// GenerateAuthURL builds the consent URL. state is opaque to the adapter
	// and comes back unchanged on the callback.
	GenerateAuthURL(scopes []string, state string) string

	// ExchangeCode exchanges an authorization code for tokens.
	ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error)

	// Refresh renews a credential. token is whatever RefreshCredential returned.
	// Failures are returned as *domain.ProviderRefreshError.
	Refresh(ctx context.Context, token string) (*domain.TokenSet, error)

	// RefreshCredential picks the value to pass to Refresh for the stored
	// tokens. ok is false when the record has no way to renew itself.
	RefreshCredential(tokens domain.TokenSet, now time.Time) (token string, ok bool)
}

// AccountResolver is implemented by adapters that can look up the
// platform-side account (merchant, business) of a fresh access token.
type AccountResolver interface {
	ResolveAccountID(ctx context.Context, accessToken string) (string, error)
}

// ConnectionTester is implemented by adapters that can verify a stored
// access token with a cheap authenticated call.
type ConnectionTester interface {
	TestConnection(ctx context.Context, accessToken string) error
}

// ProviderRegistry resolves adapters by platform.
type ProviderRegistry interface {
	// Get returns the adapter for platform, or false if none is registered.
	Get(platform domain.Platform) (ProviderAdapter, bool)

	// Platforms returns every registered platform.
	Platforms() []domain.Platform
}
