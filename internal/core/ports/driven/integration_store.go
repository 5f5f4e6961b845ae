package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
)

// IntegrationStore persists tenant integrations. Implementations enforce
// uniqueness of (tenant_id, platform) and store tokens encrypted at rest.
type IntegrationStore interface {
	// FindByTenantAndPlatform returns the record for the pair.
	// Returns nil, nil if it doesn't exist.
	FindByTenantAndPlatform(ctx context.Context, tenantID string, platform domain.Platform) (*domain.Integration, error)

	// FindByTenantID returns every record of a tenant, ordered by platform.
	FindByTenantID(ctx context.Context, tenantID string) ([]*domain.Integration, error)

	// FindExpiring returns records whose token expires before cutoff, with
	// status CONNECTED or ERROR and not flagged as needing a reconnect.
	FindExpiring(ctx context.Context, cutoff time.Time) ([]*domain.Integration, error)

	// Create inserts a new record.
	// Returns domain.ErrAlreadyExists if the (tenant_id, platform) pair is taken.
	Create(ctx context.Context, rec *domain.Integration) (*domain.Integration, error)

	// Update applies a partial update atomically and returns the new state.
	// Returns domain.ErrNotFound if the record doesn't exist.
	Update(ctx context.Context, id string, update domain.IntegrationUpdate) (*domain.Integration, error)

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error
}
