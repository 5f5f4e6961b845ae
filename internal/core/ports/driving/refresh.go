package driving

import (
	"context"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
)

// RefreshSweeper keeps stored credentials usable by renewing them before
// they expire.
type RefreshSweeper interface {
	// RunRefreshSweep refreshes every record expiring within the lookahead.
	// Per-record failures are recorded on the record and in the summary; an
	// error is returned only when records could not be selected or an
	// outcome could not be persisted.
	RunRefreshSweep(ctx context.Context) (*domain.SweepSummary, error)

	// RefreshNow refreshes one record regardless of its expiry.
	RefreshNow(ctx context.Context, tenantID string, platform domain.Platform) (*domain.Integration, error)
}
