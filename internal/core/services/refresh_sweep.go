package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driving"
)

// Ensure RefreshSweeper implements driving.RefreshSweeper
var _ driving.RefreshSweeper = (*RefreshSweeper)(nil)

const (
	// DefaultLookahead is how far ahead of expiry tokens are refreshed.
	DefaultLookahead = 10 * time.Minute

	defaultRefreshTimeout = 30 * time.Second
	defaultPersistTimeout = 10 * time.Second
	defaultConcurrency    = 4
)

// Refresh outcomes reported to metrics.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomeTerminal  = "terminal"
)

// RefreshSweeper finds credentials about to expire and renews them through
// their platform adapter. One record failing never stops the others.
type RefreshSweeper struct {
	store     driven.IntegrationStore
	providers driven.ProviderRegistry
	metrics   driven.SweepMetrics
	logger    *slog.Logger
	now       func() time.Time

	lookahead      time.Duration
	refreshTimeout time.Duration
	persistTimeout time.Duration
	concurrency    int
}

// RefreshSweeperConfig holds configuration for the sweeper.
type RefreshSweeperConfig struct {
	Store     driven.IntegrationStore
	Providers driven.ProviderRegistry
	Metrics   driven.SweepMetrics // Optional
	Logger    *slog.Logger

	// Lookahead selects tokens expiring before now+Lookahead.
	// Zero selects only tokens that have already expired.
	Lookahead time.Duration

	RefreshTimeout time.Duration // Per provider call (default: 30s)
	PersistTimeout time.Duration // Per store write (default: 10s)
	Concurrency    int           // Records refreshed in parallel (default: 4)

	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewRefreshSweeper creates a new sweeper.
func NewRefreshSweeper(cfg RefreshSweeperConfig) *RefreshSweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var metrics driven.SweepMetrics = driven.NopSweepMetrics{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	refreshTimeout := cfg.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = defaultRefreshTimeout
	}

	persistTimeout := cfg.PersistTimeout
	if persistTimeout <= 0 {
		persistTimeout = defaultPersistTimeout
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	lookahead := cfg.Lookahead
	if lookahead < 0 {
		lookahead = 0
	}

	return &RefreshSweeper{
		store:          cfg.Store,
		providers:      cfg.Providers,
		metrics:        metrics,
		logger:         logger,
		now:            now,
		lookahead:      lookahead,
		refreshTimeout: refreshTimeout,
		persistTimeout: persistTimeout,
		concurrency:    concurrency,
	}
}

// refreshResult is the outcome of refreshing a single record.
type refreshResult struct {
	record  *domain.Integration // state after persisting, nil if the write failed
	err     error               // refresh failure, nil on success
	persist error               // store write failure
	skipped bool                // sweep cancelled before an outcome; nothing written
}

// RunRefreshSweep runs one pass over every expiring record.
//
// The returned summary is always non-nil once records were selected. The
// error is non-nil when selection failed, or when one or more outcomes could
// not be written back; in the latter case every other record was still
// processed.
func (s *RefreshSweeper) RunRefreshSweep(ctx context.Context) (*domain.SweepSummary, error) {
	startedAt := s.now()
	cutoff := startedAt.Add(s.lookahead)

	records, err := s.store.FindExpiring(ctx, cutoff)
	if err != nil {
		s.metrics.ObserveSweepError()
		s.logger.Error("refresh sweep selection failed", "error", err)
		return nil, fmt.Errorf("select expiring integrations: %w", err)
	}

	summary := &domain.SweepSummary{
		StartedAt: startedAt,
		Selected:  len(records),
	}

	s.logger.Info("refresh sweep started",
		"selected", len(records),
		"cutoff", cutoff,
		"concurrency", s.concurrency,
	)

	var (
		mu         sync.Mutex
		persistErr error
	)

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for i, rec := range records {
		if ctx.Err() != nil {
			mu.Lock()
			summary.Skipped += len(records) - i
			mu.Unlock()
			break
		}

		g.Go(func() error {
			// The slot may free up only after cancellation.
			if ctx.Err() != nil {
				mu.Lock()
				summary.Skipped++
				mu.Unlock()
				return nil
			}

			res := s.refreshOne(ctx, rec)

			mu.Lock()
			defer mu.Unlock()

			if res.skipped {
				summary.Skipped++
				return nil
			}
			if res.persist != nil {
				persistErr = multierr.Append(persistErr,
					fmt.Errorf("integration %s: %w", rec.ID, res.persist))
			}

			if res.err == nil && res.persist == nil {
				summary.Succeeded++
				return nil
			}

			reasonErr := res.err
			if reasonErr == nil {
				reasonErr = res.persist
			}
			summary.Failed++
			summary.Failures = append(summary.Failures, domain.SweepFailure{
				IntegrationID: rec.ID,
				TenantID:      rec.TenantID,
				Platform:      rec.Platform,
				Reason:        reasonErr.Error(),
				Terminal:      domain.IsTerminalRefreshError(res.err),
			})
			return nil
		})
	}

	// Workers never return errors; failures are collected above.
	_ = g.Wait()

	if summary.Skipped > 0 {
		s.logger.Warn("refresh sweep cancelled", "skipped", summary.Skipped)
	}
	summary.FinishedAt = s.now()
	s.metrics.ObserveSweep(summary)

	s.logger.Info("refresh sweep finished",
		"selected", summary.Selected,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", summary.Duration(),
	)

	if persistErr != nil {
		return summary, fmt.Errorf("persist refresh outcomes: %w", persistErr)
	}
	return summary, nil
}

// RefreshNow refreshes a single record on demand, using the same rules as
// a sweep.
func (s *RefreshSweeper) RefreshNow(ctx context.Context, tenantID string, platform domain.Platform) (*domain.Integration, error) {
	rec, err := s.store.FindByTenantAndPlatform(ctx, tenantID, platform)
	if err != nil {
		return nil, fmt.Errorf("find integration: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%s integration for tenant %s: %w", platform, tenantID, domain.ErrNotFound)
	}
	if rec.Status == domain.StatusDisconnected {
		return nil, fmt.Errorf("%s integration is disconnected: %w", platform, domain.ErrInvalidInput)
	}

	res := s.refreshOne(ctx, rec)
	if res.skipped {
		return nil, res.err
	}
	if res.persist != nil {
		return nil, fmt.Errorf("persist refresh outcome: %w", res.persist)
	}
	return res.record, res.err
}

// refreshOne refreshes rec and writes the outcome back, success or failure.
// A failure caused by cancellation of ctx itself is not an outcome: the
// record is left as it was.
func (s *RefreshSweeper) refreshOne(ctx context.Context, rec *domain.Integration) refreshResult {
	logger := s.logger.With(
		"integration_id", rec.ID,
		"tenant_id", rec.TenantID,
		"platform", rec.Platform,
	)

	fresh, err := s.callProvider(ctx, rec)
	if err != nil && ctx.Err() != nil {
		logger.Info("token refresh abandoned, sweep cancelled", "error", err)
		return refreshResult{err: fmt.Errorf("refresh abandoned: %w", ctx.Err()), skipped: true}
	}
	if err != nil {
		terminal := domain.IsTerminalRefreshError(err)
		if terminal {
			logger.Warn("token refresh failed, reconnect required", "error", err)
		} else {
			logger.Warn("token refresh failed, will retry", "error", err)
		}

		update := rec.RefreshFailedUpdate(err.Error(), terminal, s.now())
		updated, perr := s.persist(ctx, rec.ID, update)
		if perr != nil {
			logger.Error("failed to persist refresh failure", "error", perr)
		}
		return refreshResult{record: updated, err: err, persist: perr}
	}

	updated, perr := s.persist(ctx, rec.ID, rec.RefreshedUpdate(*fresh, s.now()))
	if perr != nil {
		logger.Error("failed to persist refreshed token", "error", perr)
		return refreshResult{persist: perr}
	}

	logger.Debug("token refreshed", "expires_at", fresh.ExpiresAt)
	return refreshResult{record: updated}
}

// callProvider resolves the adapter and runs the refresh under its own deadline.
func (s *RefreshSweeper) callProvider(ctx context.Context, rec *domain.Integration) (*domain.TokenSet, error) {
	adapter, ok := s.providers.Get(rec.Platform)
	if !ok {
		s.metrics.ObserveRefresh(rec.Platform, OutcomeTerminal, 0)
		return nil, fmt.Errorf("%w: %w", domain.ErrNoRefreshPath, &domain.UnsupportedPlatformError{Platform: rec.Platform})
	}

	credential, ok := adapter.RefreshCredential(rec.Tokens(), s.now())
	if !ok {
		s.metrics.ObserveRefresh(rec.Platform, OutcomeTerminal, 0)
		return nil, fmt.Errorf("%w: %s credential cannot be renewed", domain.ErrNoRefreshPath, rec.Platform)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()

	start := time.Now()
	fresh, err := adapter.Refresh(callCtx, credential)
	if err == nil && (fresh == nil || fresh.AccessToken == "") {
		err = domain.NewTransientRefreshError(rec.Platform, "empty access token in response", nil)
	}
	if err != nil {
		var classified *domain.ProviderRefreshError
		if errors.Is(err, context.DeadlineExceeded) && !errors.As(err, &classified) {
			err = domain.NewTransientRefreshError(rec.Platform, "timed out", err)
		}
		if ctx.Err() != nil {
			return nil, err
		}
		outcome := OutcomeTransient
		if domain.IsTerminalRefreshError(err) {
			outcome = OutcomeTerminal
		}
		s.metrics.ObserveRefresh(rec.Platform, outcome, time.Since(start))
		return nil, err
	}

	s.metrics.ObserveRefresh(rec.Platform, OutcomeSuccess, time.Since(start))
	return fresh, nil
}

// persist writes an outcome. The write outlives cancellation of the sweep so
// an in-flight refresh is never lost, but is bounded by the persist timeout.
func (s *RefreshSweeper) persist(ctx context.Context, id string, update domain.IntegrationUpdate) (*domain.Integration, error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()
	return s.store.Update(pctx, id, update)
}
