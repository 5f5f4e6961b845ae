package domain

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// IntegrationStatus is the lifecycle state of a tenant's platform connection.
type IntegrationStatus string

const (
	// StatusPending means the record exists but no credential was ever obtained.
	StatusPending IntegrationStatus = "PENDING"

	// StatusConnected means a credential was obtained and last known good.
	StatusConnected IntegrationStatus = "CONNECTED"

	// StatusDisconnected means the tenant explicitly disconnected.
	StatusDisconnected IntegrationStatus = "DISCONNECTED"

	// StatusError means the last refresh attempt failed.
	StatusError IntegrationStatus = "ERROR"
)

// IsValid reports whether s is a known status.
func (s IntegrationStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusConnected, StatusDisconnected, StatusError:
		return true
	}
	return false
}

// Integration is a tenant's stored credential for one platform.
// (TenantID, Platform) is unique across the store.
type Integration struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenant_id"`
	Platform Platform `json:"platform"`

	// Credential material is never serialised to API responses.
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`

	// ExternalAccountID is the platform-side account (merchant, business).
	ExternalAccountID string            `json:"external_account_id,omitempty"`
	Status            IntegrationStatus `json:"status"`
	PlatformConfig    map[string]string `json:"platform_config,omitempty"`

	// LastError holds the reason of the last failed refresh; empty after success.
	LastError string `json:"last_error,omitempty"`

	// NeedsReconnect is set after a terminal refresh failure. Such records are
	// not picked up by refresh sweeps until the tenant connects again.
	NeedsReconnect  bool       `json:"needs_reconnect"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GenerateID returns a new random record identifier.
func GenerateID() string {
	return uuid.NewString()
}

// NewConnectedIntegration builds a new CONNECTED record from a fresh token set.
func NewConnectedIntegration(tenantID string, platform Platform, tokens TokenSet, externalAccountID string, now time.Time) *Integration {
	return &Integration{
		ID:                GenerateID(),
		TenantID:          tenantID,
		Platform:          platform,
		AccessToken:       tokens.AccessToken,
		RefreshToken:      tokens.RefreshToken,
		TokenExpiresAt:    tokens.ExpiresAt,
		ExternalAccountID: externalAccountID,
		Status:            StatusConnected,
		PlatformConfig:    map[string]string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Tokens returns the stored credential as a TokenSet.
func (i *Integration) Tokens() TokenSet {
	return TokenSet{
		AccessToken:  i.AccessToken,
		RefreshToken: i.RefreshToken,
		ExpiresAt:    i.TokenExpiresAt,
	}
}

// IsActive reports whether the credential is usable at now: CONNECTED, a
// non-empty access token, and either no expiry or an expiry in the future.
func (i *Integration) IsActive(now time.Time) bool {
	if i.Status != StatusConnected || i.AccessToken == "" {
		return false
	}
	return i.TokenExpiresAt == nil || i.TokenExpiresAt.After(now)
}

// TokenExpired reports whether the access token has an expiry at or before now.
func (i *Integration) TokenExpired(now time.Time) bool {
	return i.Tokens().ExpiredAt(now)
}

// IntegrationUpdate is a partial update applied atomically to one record.
// Nil fields are left unchanged. PlatformConfig keys are merged into the
// existing map; they never replace it.
type IntegrationUpdate struct {
	// Tokens replaces access token, refresh token and expiry together.
	Tokens            *TokenSet
	Status            *IntegrationStatus
	ExternalAccountID *string
	PlatformConfig    map[string]string
	LastError         *string
	NeedsReconnect    *bool
	LastRefreshedAt   *time.Time

	// UpdatedAt is required and must be later than the stored value.
	UpdatedAt time.Time
}

// Apply mutates i with u. Stores without native partial updates use this.
func (i *Integration) Apply(u IntegrationUpdate) {
	if u.Tokens != nil {
		i.AccessToken = u.Tokens.AccessToken
		i.RefreshToken = u.Tokens.RefreshToken
		i.TokenExpiresAt = u.Tokens.ExpiresAt
	}
	if u.Status != nil {
		i.Status = *u.Status
	}
	if u.ExternalAccountID != nil {
		i.ExternalAccountID = *u.ExternalAccountID
	}
	if len(u.PlatformConfig) > 0 {
		if i.PlatformConfig == nil {
			i.PlatformConfig = make(map[string]string, len(u.PlatformConfig))
		}
		maps.Copy(i.PlatformConfig, u.PlatformConfig)
	}
	if u.LastError != nil {
		i.LastError = *u.LastError
	}
	if u.NeedsReconnect != nil {
		i.NeedsReconnect = *u.NeedsReconnect
	}
	if u.LastRefreshedAt != nil {
		t := *u.LastRefreshedAt
		i.LastRefreshedAt = &t
	}
	i.UpdatedAt = NextUpdatedAt(i.UpdatedAt, u.UpdatedAt)
}

// NextUpdatedAt returns now, or prev plus one microsecond when the clock has
// not advanced past prev. Microseconds match PostgreSQL timestamp precision.
func NextUpdatedAt(prev, now time.Time) time.Time {
	now = now.Truncate(time.Microsecond)
	if now.After(prev) {
		return now
	}
	return prev.Truncate(time.Microsecond).Add(time.Microsecond)
}

// ConnectUpdate replaces the credential and clears any failure state.
func (i *Integration) ConnectUpdate(tokens TokenSet, externalAccountID string, now time.Time) IntegrationUpdate {
	u := IntegrationUpdate{
		Tokens:         &tokens,
		Status:         statusPtr(StatusConnected),
		LastError:      strPtr(""),
		NeedsReconnect: boolPtr(false),
		UpdatedAt:      NextUpdatedAt(i.UpdatedAt, now),
	}
	if externalAccountID != "" {
		u.ExternalAccountID = &externalAccountID
	}
	return u
}

// DisconnectUpdate marks the record DISCONNECTED. Tokens are kept.
func (i *Integration) DisconnectUpdate(now time.Time) IntegrationUpdate {
	return IntegrationUpdate{
		Status:    statusPtr(StatusDisconnected),
		UpdatedAt: NextUpdatedAt(i.UpdatedAt, now),
	}
}

// RefreshedUpdate stores a refreshed credential. An empty refresh token in
// fresh keeps the one already stored.
func (i *Integration) RefreshedUpdate(fresh TokenSet, now time.Time) IntegrationUpdate {
	tokens := TokenSet{
		AccessToken:  fresh.AccessToken,
		RefreshToken: i.RefreshToken,
		ExpiresAt:    fresh.ExpiresAt,
	}
	if fresh.RefreshToken != "" {
		tokens.RefreshToken = fresh.RefreshToken
	}
	refreshedAt := now
	return IntegrationUpdate{
		Tokens:          &tokens,
		Status:          statusPtr(StatusConnected),
		LastError:       strPtr(""),
		NeedsReconnect:  boolPtr(false),
		LastRefreshedAt: &refreshedAt,
		UpdatedAt:       NextUpdatedAt(i.UpdatedAt, now),
	}
}

// RefreshFailedUpdate moves the record to ERROR with a diagnostic reason.
// Terminal failures also flag the record as needing a reconnect.
func (i *Integration) RefreshFailedUpdate(reason string, terminal bool, now time.Time) IntegrationUpdate {
	return IntegrationUpdate{
		Status:         statusPtr(StatusError),
		LastError:      &reason,
		NeedsReconnect: boolPtr(terminal),
		UpdatedAt:      NextUpdatedAt(i.UpdatedAt, now),
	}
}

// ConfigUpdate merges cfg into the record's platform configuration.
func (i *Integration) ConfigUpdate(cfg map[string]string, now time.Time) IntegrationUpdate {
	return IntegrationUpdate{
		PlatformConfig: maps.Clone(cfg),
		UpdatedAt:      NextUpdatedAt(i.UpdatedAt, now),
	}
}

func statusPtr(s IntegrationStatus) *IntegrationStatus { return &s }
func strPtr(s string) *string                          { return &s }
func boolPtr(b bool) *bool                             { return &b }
