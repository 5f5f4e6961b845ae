package domain

import "time"

// SweepFailure describes one record that could not be refreshed in a sweep.
type SweepFailure struct {
	IntegrationID string   `json:"integration_id"`
	TenantID      string   `json:"tenant_id"`
	Platform      Platform `json:"platform"`
	Reason        string   `json:"reason"`
	Terminal      bool     `json:"terminal"`
}

// SweepSummary is the outcome of one refresh sweep.
type SweepSummary struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Selected   int            `json:"selected"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	// Skipped counts selected records not started because the sweep was cancelled.
	Skipped    int            `json:"skipped,omitempty"`
	Failures   []SweepFailure `json:"failures,omitempty"`
}

// Duration returns how long the sweep took.
func (s *SweepSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// PlatformStatus is the per-platform row of a tenant summary.
type PlatformStatus struct {
	Platform       Platform          `json:"platform"`
	Connected      bool              `json:"connected"`
	Status         string            `json:"status"`
	TokenExpired   bool              `json:"token_expired"`
	NeedsReconnect bool              `json:"needs_reconnect"`
	LastSync       *time.Time        `json:"last_sync,omitempty"`
	AccountID      string            `json:"account_id,omitempty"`
	Config         map[string]string `json:"config,omitempty"`
}

// StatusNotConnected is reported for platforms with no stored record.
const StatusNotConnected = "NOT_CONNECTED"

// IntegrationSummary aggregates a tenant's integrations across platforms.
type IntegrationSummary struct {
	TenantID           string           `json:"tenant_id"`
	Platforms          []PlatformStatus `json:"platforms"`
	TotalIntegrations  int              `json:"total_integrations"`
	ActiveIntegrations int              `json:"active_integrations"`
	NextTokenRefresh   *time.Time       `json:"next_token_refresh,omitempty"`
}

// Summarize builds a tenant summary from its records at now. Every known
// platform gets a row; platforms without a record are NOT_CONNECTED.
func Summarize(tenantID string, records []*Integration, now time.Time) *IntegrationSummary {
	byPlatform := make(map[Platform]*Integration, len(records))
	for _, r := range records {
		byPlatform[r.Platform] = r
	}

	summary := &IntegrationSummary{
		TenantID:          tenantID,
		TotalIntegrations: len(records),
	}

	for _, p := range AllPlatforms() {
		rec, ok := byPlatform[p]
		if !ok {
			summary.Platforms = append(summary.Platforms, PlatformStatus{
				Platform: p,
				Status:   StatusNotConnected,
			})
			continue
		}

		active := rec.IsActive(now)
		if active {
			summary.ActiveIntegrations++
		}
		lastSync := rec.LastRefreshedAt
		if lastSync == nil {
			t := rec.UpdatedAt
			lastSync = &t
		}
		summary.Platforms = append(summary.Platforms, PlatformStatus{
			Platform:       p,
			Connected:      active,
			Status:         string(rec.Status),
			TokenExpired:   rec.TokenExpired(now),
			NeedsReconnect: rec.NeedsReconnect,
			LastSync:       lastSync,
			AccountID:      rec.ExternalAccountID,
			Config:         rec.PlatformConfig,
		})

		if rec.Status == StatusConnected && rec.TokenExpiresAt != nil {
			if summary.NextTokenRefresh == nil || rec.TokenExpiresAt.Before(*summary.NextTokenRefresh) {
				t := *rec.TokenExpiresAt
				summary.NextTokenRefresh = &t
			}
		}
	}

	return summary
}
