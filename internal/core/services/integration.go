package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driving"
)

// Ensure integrationService implements IntegrationService
var _ driving.IntegrationService = (*integrationService)(nil)

const defaultStateTTL = 10 * time.Minute

// IntegrationServiceConfig holds configuration for the integration service.
type IntegrationServiceConfig struct {
	// Store persists integration records.
	Store driven.IntegrationStore

	// Providers resolves platform adapters.
	Providers driven.ProviderRegistry

	// StateSigner encodes the OAuth state parameter.
	StateSigner driven.StateSigner

	Logger *slog.Logger

	// StateTTL bounds how long a consent flow may take (default: 10m).
	StateTTL time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// integrationService implements the IntegrationService interface.
type integrationService struct {
	store       driven.IntegrationStore
	providers   driven.ProviderRegistry
	stateSigner driven.StateSigner
	logger      *slog.Logger
	stateTTL    time.Duration
	now         func() time.Time
}

// NewIntegrationService creates a new integration service.
func NewIntegrationService(cfg IntegrationServiceConfig) driving.IntegrationService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stateTTL := cfg.StateTTL
	if stateTTL <= 0 {
		stateTTL = defaultStateTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &integrationService{
		store:       cfg.Store,
		providers:   cfg.Providers,
		stateSigner: cfg.StateSigner,
		logger:      logger,
		stateTTL:    stateTTL,
		now:         now,
	}
}

func (s *integrationService) adapter(platform domain.Platform) (driven.ProviderAdapter, error) {
	adapter, ok := s.providers.Get(platform)
	if !ok {
		return nil, &domain.UnsupportedPlatformError{Platform: platform}
	}
	return adapter, nil
}

// AuthorizationURL builds the consent URL for a tenant.
func (s *integrationService) AuthorizationURL(ctx context.Context, tenantID string, platform domain.Platform) (*driving.AuthURLResponse, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required: %w", domain.ErrInvalidInput)
	}
	adapter, err := s.adapter(platform)
	if err != nil {
		return nil, err
	}

	state, err := s.stateSigner.Sign(domain.OAuthState{
		TenantID:  tenantID,
		Platform:  platform,
		Nonce:     domain.GenerateID(),
		ExpiresAt: s.now().Add(s.stateTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("sign oauth state: %w", err)
	}

	scopes := adapter.DefaultScopes()
	return &driving.AuthURLResponse{
		AuthorizationURL: adapter.GenerateAuthURL(scopes, state),
		State:            state,
		Platform:         platform,
		Scopes:           scopes,
	}, nil
}

// Connect exchanges the authorization code and upserts the record.
func (s *integrationService) Connect(ctx context.Context, req driving.ConnectRequest) (*domain.Integration, error) {
	if req.TenantID == "" || req.AuthCode == "" {
		return nil, fmt.Errorf("tenant id and authorization code are required: %w", domain.ErrInvalidInput)
	}
	adapter, err := s.adapter(req.Platform)
	if err != nil {
		return nil, err
	}

	tokens, err := adapter.ExchangeCode(ctx, req.AuthCode)
	if err != nil {
		return nil, &domain.ProviderExchangeError{Platform: req.Platform, Err: err}
	}
	if tokens == nil || tokens.AccessToken == "" {
		return nil, &domain.ProviderExchangeError{Platform: req.Platform, Err: errors.New("no access token in response")}
	}

	accountID := s.resolveAccount(ctx, adapter, req, tokens.AccessToken)

	rec, err := s.upsertConnected(ctx, req.TenantID, req.Platform, *tokens, accountID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("integration connected",
		"integration_id", rec.ID,
		"tenant_id", rec.TenantID,
		"platform", rec.Platform,
		"has_refresh_token", tokens.HasRefreshToken(),
	)
	return rec, nil
}

// resolveAccount looks up the platform account of a fresh token. A failed
// lookup does not fail the connect.
func (s *integrationService) resolveAccount(ctx context.Context, adapter driven.ProviderAdapter, req driving.ConnectRequest, accessToken string) string {
	resolver, ok := adapter.(driven.AccountResolver)
	if !ok {
		return ""
	}
	accountID, err := resolver.ResolveAccountID(ctx, accessToken)
	if err != nil {
		s.logger.Warn("failed to resolve platform account",
			"tenant_id", req.TenantID,
			"platform", req.Platform,
			"error", err,
		)
		return ""
	}
	return accountID
}

// upsertConnected writes tokens to the single record for the pair, creating
// it if needed. A lost create race falls back to updating the winner.
func (s *integrationService) upsertConnected(ctx context.Context, tenantID string, platform domain.Platform, tokens domain.TokenSet, accountID string) (*domain.Integration, error) {
	existing, err := s.store.FindByTenantAndPlatform(ctx, tenantID, platform)
	if err != nil {
		return nil, fmt.Errorf("find integration: %w", err)
	}

	if existing == nil {
		created, err := s.store.Create(ctx, domain.NewConnectedIntegration(tenantID, platform, tokens, accountID, s.now()))
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return nil, fmt.Errorf("create integration: %w", err)
		}

		existing, err = s.store.FindByTenantAndPlatform(ctx, tenantID, platform)
		if err != nil {
			return nil, fmt.Errorf("find integration: %w", err)
		}
		if existing == nil {
			return nil, fmt.Errorf("integration vanished after conflict: %w", domain.ErrNotFound)
		}
	}

	updated, err := s.store.Update(ctx, existing.ID, existing.ConnectUpdate(tokens, accountID, s.now()))
	if err != nil {
		return nil, fmt.Errorf("update integration: %w", err)
	}
	return updated, nil
}

// HandleCallback completes a consent flow started by AuthorizationURL.
func (s *integrationService) HandleCallback(ctx context.Context, req driving.CallbackRequest) *driving.CallbackResponse {
	resp := &driving.CallbackResponse{Platform: req.Platform}

	fail := func(msg string) *driving.CallbackResponse {
		resp.ErrorMessage = msg
		s.logger.Warn("oauth callback failed",
			"platform", req.Platform,
			"tenant_id", resp.TenantID,
			"reason", msg,
		)
		return resp
	}

	if req.Error != "" {
		msg := "authorization denied: " + req.Error
		if req.ErrorDescription != "" {
			msg += " (" + req.ErrorDescription + ")"
		}
		return fail(msg)
	}
	if req.Code == "" {
		return fail("missing authorization code")
	}

	state, err := s.stateSigner.Verify(req.State, s.now())
	if err != nil {
		return fail("invalid or expired state")
	}
	resp.TenantID = state.TenantID
	if state.Platform != req.Platform {
		return fail("state was issued for a different platform")
	}

	rec, err := s.Connect(ctx, driving.ConnectRequest{
		TenantID: state.TenantID,
		Platform: req.Platform,
		AuthCode: req.Code,
	})
	if err != nil {
		return fail(err.Error())
	}

	resp.Success = true
	resp.IntegrationID = rec.ID
	return resp
}

// Disconnect marks the record DISCONNECTED.
func (s *integrationService) Disconnect(ctx context.Context, tenantID string, platform domain.Platform) error {
	rec, err := s.Get(ctx, tenantID, platform)
	if err != nil {
		return err
	}

	if _, err := s.store.Update(ctx, rec.ID, rec.DisconnectUpdate(s.now())); err != nil {
		return fmt.Errorf("disconnect integration: %w", err)
	}

	s.logger.Info("integration disconnected",
		"integration_id", rec.ID,
		"tenant_id", tenantID,
		"platform", platform,
	)
	return nil
}

// IsActive reports whether rec holds a usable credential now.
func (s *integrationService) IsActive(rec *domain.Integration) bool {
	if rec == nil {
		return false
	}
	return rec.IsActive(s.now())
}

// ListForTenant returns every record of a tenant.
func (s *integrationService) ListForTenant(ctx context.Context, tenantID string) ([]*domain.Integration, error) {
	recs, err := s.store.FindByTenantID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	return recs, nil
}

// Get returns the record for the pair.
func (s *integrationService) Get(ctx context.Context, tenantID string, platform domain.Platform) (*domain.Integration, error) {
	rec, err := s.store.FindByTenantAndPlatform(ctx, tenantID, platform)
	if err != nil {
		return nil, fmt.Errorf("find integration: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%s integration for tenant %s: %w", platform, tenantID, domain.ErrNotFound)
	}
	return rec, nil
}

// Summary aggregates a tenant's records across platforms.
func (s *integrationService) Summary(ctx context.Context, tenantID string) (*domain.IntegrationSummary, error) {
	recs, err := s.ListForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return domain.Summarize(tenantID, recs, s.now()), nil
}

// UpdatePlatformConfig merges cfg into the record's platform configuration.
func (s *integrationService) UpdatePlatformConfig(ctx context.Context, tenantID string, platform domain.Platform, cfg map[string]string) (*domain.Integration, error) {
	if len(cfg) == 0 {
		return nil, fmt.Errorf("platform config is empty: %w", domain.ErrInvalidInput)
	}
	rec, err := s.Get(ctx, tenantID, platform)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.Update(ctx, rec.ID, rec.ConfigUpdate(cfg, s.now()))
	if err != nil {
		return nil, fmt.Errorf("update platform config: %w", err)
	}
	return updated, nil
}

// TestConnection checks the stored credential against the platform.
func (s *integrationService) TestConnection(ctx context.Context, tenantID string, platform domain.Platform) (*driving.TestConnectionResponse, error) {
	rec, err := s.Get(ctx, tenantID, platform)
	if err != nil {
		return nil, err
	}
	if !s.IsActive(rec) {
		return &driving.TestConnectionResponse{Success: false, Message: "integration is not active"}, nil
	}

	adapter, err := s.adapter(platform)
	if err != nil {
		return nil, err
	}
	tester, ok := adapter.(driven.ConnectionTester)
	if !ok {
		return &driving.TestConnectionResponse{Success: true, Message: "token is active"}, nil
	}
	if err := tester.TestConnection(ctx, rec.AccessToken); err != nil {
		return &driving.TestConnectionResponse{Success: false, Message: err.Error()}, nil
	}
	return &driving.TestConnectionResponse{Success: true}, nil
}
