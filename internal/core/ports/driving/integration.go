package driving

import (
	"context"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
)

// IntegrationService manages the lifecycle of tenant platform connections.
type IntegrationService interface {
	// AuthorizationURL builds the consent URL for a tenant, with the
	// platform's default scopes and a signed state.
	AuthorizationURL(ctx context.Context, tenantID string, platform domain.Platform) (*AuthURLResponse, error)

	// Connect exchanges an authorization code and upserts the record as CONNECTED.
	// Adapter failures are returned as *domain.ProviderExchangeError.
	Connect(ctx context.Context, req ConnectRequest) (*domain.Integration, error)

	// HandleCallback verifies the OAuth state and connects the tenant it names.
	// Failures are reported in the response, not as an error.
	HandleCallback(ctx context.Context, req CallbackRequest) *CallbackResponse

	// Disconnect marks the record DISCONNECTED.
	// Returns domain.ErrNotFound if it doesn't exist.
	Disconnect(ctx context.Context, tenantID string, platform domain.Platform) error

	// IsActive reports whether the record holds a usable credential now.
	IsActive(rec *domain.Integration) bool

	// ListForTenant returns every record of a tenant.
	ListForTenant(ctx context.Context, tenantID string) ([]*domain.Integration, error)

	// Get returns one record. Returns domain.ErrNotFound if it doesn't exist.
	Get(ctx context.Context, tenantID string, platform domain.Platform) (*domain.Integration, error)

	// Summary aggregates the tenant's records across all platforms.
	Summary(ctx context.Context, tenantID string) (*domain.IntegrationSummary, error)

	// UpdatePlatformConfig merges cfg into the record's platform configuration.
	UpdatePlatformConfig(ctx context.Context, tenantID string, platform domain.Platform, cfg map[string]string) (*domain.Integration, error)

	// TestConnection checks the stored credential against the platform.
	TestConnection(ctx context.Context, tenantID string, platform domain.Platform) (*TestConnectionResponse, error)
}

// ConnectRequest carries an authorization code for a tenant and platform.
type ConnectRequest struct {
	TenantID string          `json:"tenant_id"`
	Platform domain.Platform `json:"platform"`
	AuthCode string          `json:"code"`
}

// AuthURLResponse is returned when starting an OAuth flow.
type AuthURLResponse struct {
	AuthorizationURL string          `json:"authorization_url"`
	State            string          `json:"state"`
	Platform         domain.Platform `json:"platform"`
	Scopes           []string        `json:"scopes"`
}

// CallbackRequest holds the query parameters of an OAuth redirect.
type CallbackRequest struct {
	Platform         domain.Platform
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResponse reports the outcome of an OAuth callback.
type CallbackResponse struct {
	Success       bool            `json:"success"`
	Platform      domain.Platform `json:"platform"`
	TenantID      string          `json:"tenant_id,omitempty"`
	IntegrationID string          `json:"integration_id,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}

// TestConnectionResponse reports whether a stored credential still works.
type TestConnectionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
