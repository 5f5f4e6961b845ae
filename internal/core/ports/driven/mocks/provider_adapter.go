package mocks

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
)

var (
	_ driven.ProviderAdapter  = (*MockProviderAdapter)(nil)
	_ driven.AccountResolver  = (*MockProviderAdapter)(nil)
	_ driven.ConnectionTester = (*MockProviderAdapter)(nil)
	_ driven.ProviderRegistry = (*MockProviderRegistry)(nil)
)

// MockProviderAdapter is a configurable ProviderAdapter.
// By default RefreshCredential returns the refresh token, like an
// authorization-code platform.
type MockProviderAdapter struct {
	PlatformValue domain.Platform
	Scopes        []string

	ExchangeCodeFn      func(ctx context.Context, code string) (*domain.TokenSet, error)
	RefreshFn           func(ctx context.Context, token string) (*domain.TokenSet, error)
	RefreshCredentialFn func(tokens domain.TokenSet, now time.Time) (string, bool)
	ResolveAccountIDFn  func(ctx context.Context, accessToken string) (string, error)
	TestConnectionFn    func(ctx context.Context, accessToken string) error

	mu           sync.Mutex
	refreshCalls []string
}

// NewMockProviderAdapter creates an adapter for platform.
func NewMockProviderAdapter(platform domain.Platform) *MockProviderAdapter {
	return &MockProviderAdapter{PlatformValue: platform, Scopes: []string{"scope.a", "scope.b"}}
}

func (m *MockProviderAdapter) Platform() domain.Platform { return m.PlatformValue }

func (m *MockProviderAdapter) DefaultScopes() []string { return m.Scopes }

func (m *MockProviderAdapter) GenerateAuthURL(scopes []string, state string) string {
	q := url.Values{"scope": {strings.Join(scopes, " ")}, "state": {state}}
	return "https://auth.example.test/" + string(m.PlatformValue) + "?" + q.Encode()
}

func (m *MockProviderAdapter) ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error) {
	if m.ExchangeCodeFn != nil {
		return m.ExchangeCodeFn(ctx, code)
	}
	return &domain.TokenSet{AccessToken: "access-" + code, RefreshToken: "refresh-" + code}, nil
}

func (m *MockProviderAdapter) Refresh(ctx context.Context, token string) (*domain.TokenSet, error) {
	m.mu.Lock()
	m.refreshCalls = append(m.refreshCalls, token)
	m.mu.Unlock()

	if m.RefreshFn != nil {
		return m.RefreshFn(ctx, token)
	}
	return nil, errors.New("refresh not configured")
}

func (m *MockProviderAdapter) RefreshCredential(tokens domain.TokenSet, now time.Time) (string, bool) {
	if m.RefreshCredentialFn != nil {
		return m.RefreshCredentialFn(tokens, now)
	}
	return tokens.RefreshToken, tokens.RefreshToken != ""
}

func (m *MockProviderAdapter) ResolveAccountID(ctx context.Context, accessToken string) (string, error) {
	if m.ResolveAccountIDFn != nil {
		return m.ResolveAccountIDFn(ctx, accessToken)
	}
	return "", nil
}

func (m *MockProviderAdapter) TestConnection(ctx context.Context, accessToken string) error {
	if m.TestConnectionFn != nil {
		return m.TestConnectionFn(ctx, accessToken)
	}
	return nil
}

// RefreshCalls returns the credentials passed to Refresh, in call order.
func (m *MockProviderAdapter) RefreshCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.refreshCalls...)
}

// MockProviderRegistry is a map-backed ProviderRegistry.
type MockProviderRegistry struct {
	adapters map[domain.Platform]driven.ProviderAdapter
}

// NewMockProviderRegistry registers the given adapters.
func NewMockProviderRegistry(adapters ...driven.ProviderAdapter) *MockProviderRegistry {
	r := &MockProviderRegistry{adapters: make(map[domain.Platform]driven.ProviderAdapter)}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

func (r *MockProviderRegistry) Get(platform domain.Platform) (driven.ProviderAdapter, bool) {
	a, ok := r.adapters[platform]
	return a, ok
}

func (r *MockProviderRegistry) Platforms() []domain.Platform {
	out := make([]domain.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}
