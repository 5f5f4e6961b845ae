package domain

import (
	"testing"
	"time"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestIntegration_IsActive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		status IntegrationStatus
		token  string
		expiry *time.Time
		want   bool
	}{
		{"connected no expiry", StatusConnected, "a1", nil, true},
		{"connected future expiry", StatusConnected, "a1", timePtr(now.Add(time.Minute)), true},
		{"connected expiry equals now", StatusConnected, "a1", timePtr(now), false},
		{"connected past expiry", StatusConnected, "a1", timePtr(now.Add(-time.Second)), false},
		{"connected empty token", StatusConnected, "", nil, false},
		{"error status", StatusError, "a1", nil, false},
		{"disconnected", StatusDisconnected, "a1", timePtr(now.Add(time.Hour)), false},
		{"pending", StatusPending, "a1", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &Integration{Status: tt.status, AccessToken: tt.token, TokenExpiresAt: tt.expiry}
			if got := rec.IsActive(now); got != tt.want {
				t.Errorf("IsActive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewConnectedIntegration(t *testing.T) {
	now := time.Now()
	rec := NewConnectedIntegration("tenant-1", PlatformGoogle, TokenSet{AccessToken: "a1", RefreshToken: "r1"}, "acct", now)

	if rec.ID == "" {
		t.Error("expected generated ID")
	}
	if rec.Status != StatusConnected {
		t.Errorf("Status = %s, want CONNECTED", rec.Status)
	}
	if rec.PlatformConfig == nil {
		t.Error("expected empty PlatformConfig map")
	}
	if !rec.CreatedAt.Equal(now) || !rec.UpdatedAt.Equal(now) {
		t.Error("expected timestamps to equal now")
	}
}

func TestIntegration_RefreshedUpdate_KeepsRefreshToken(t *testing.T) {
	now := time.Now()
	rec := &Integration{
		Status:       StatusError,
		AccessToken:  "a1",
		RefreshToken: "r1",
		LastError:    "timeout",
		UpdatedAt:    now.Add(-time.Hour),
	}

	expiry := now.Add(time.Hour)
	rec.Apply(rec.RefreshedUpdate(TokenSet{AccessToken: "a2", ExpiresAt: &expiry}, now))

	if rec.AccessToken != "a2" {
		t.Errorf("AccessToken = %q, want a2", rec.AccessToken)
	}
	if rec.RefreshToken != "r1" {
		t.Errorf("RefreshToken = %q, want r1", rec.RefreshToken)
	}
	if rec.Status != StatusConnected {
		t.Errorf("Status = %s, want CONNECTED", rec.Status)
	}
	if rec.LastError != "" {
		t.Errorf("LastError = %q, want empty", rec.LastError)
	}
	if rec.LastRefreshedAt == nil {
		t.Error("expected LastRefreshedAt to be set")
	}
}

func TestIntegration_RefreshedUpdate_RotatesRefreshToken(t *testing.T) {
	rec := &Integration{AccessToken: "a1", RefreshToken: "r1"}
	rec.Apply(rec.RefreshedUpdate(TokenSet{AccessToken: "a2", RefreshToken: "r2"}, time.Now()))

	if rec.RefreshToken != "r2" {
		t.Errorf("RefreshToken = %q, want r2", rec.RefreshToken)
	}
}

func TestIntegration_RefreshFailedUpdate(t *testing.T) {
	rec := &Integration{Status: StatusConnected, AccessToken: "a1"}

	rec.Apply(rec.RefreshFailedUpdate("status 503", false, time.Now()))
	if rec.Status != StatusError || rec.NeedsReconnect {
		t.Errorf("transient: got status=%s needs_reconnect=%v", rec.Status, rec.NeedsReconnect)
	}
	if rec.AccessToken != "a1" {
		t.Error("failed refresh must not drop the stored token")
	}

	rec.Apply(rec.RefreshFailedUpdate("invalid_grant", true, time.Now()))
	if !rec.NeedsReconnect {
		t.Error("terminal: expected NeedsReconnect")
	}
	if rec.LastError != "invalid_grant" {
		t.Errorf("LastError = %q", rec.LastError)
	}
}

func TestIntegration_ConnectUpdate_ClearsFailure(t *testing.T) {
	rec := &Integration{
		Status:            StatusError,
		NeedsReconnect:    true,
		LastError:         "invalid_grant",
		ExternalAccountID: "old",
	}

	rec.Apply(rec.ConnectUpdate(TokenSet{AccessToken: "a9"}, "", time.Now()))

	if rec.Status != StatusConnected || rec.NeedsReconnect || rec.LastError != "" {
		t.Errorf("unexpected state: %+v", rec)
	}
	if rec.ExternalAccountID != "old" {
		t.Errorf("empty account id must keep existing, got %q", rec.ExternalAccountID)
	}
}

func TestIntegration_DisconnectUpdate(t *testing.T) {
	rec := &Integration{Status: StatusConnected, AccessToken: "a1"}
	rec.Apply(rec.DisconnectUpdate(time.Now()))

	if rec.Status != StatusDisconnected {
		t.Errorf("Status = %s, want DISCONNECTED", rec.Status)
	}
	if rec.AccessToken != "a1" {
		t.Error("disconnect keeps the token")
	}
}

func TestIntegration_ConfigUpdate_Merges(t *testing.T) {
	rec := &Integration{PlatformConfig: map[string]string{"merchant_id": "m1", "region": "eu"}}
	rec.Apply(rec.ConfigUpdate(map[string]string{"region": "us", "catalog_id": "c1"}, time.Now()))

	want := map[string]string{"merchant_id": "m1", "region": "us", "catalog_id": "c1"}
	if len(rec.PlatformConfig) != len(want) {
		t.Fatalf("PlatformConfig = %v, want %v", rec.PlatformConfig, want)
	}
	for k, v := range want {
		if rec.PlatformConfig[k] != v {
			t.Errorf("PlatformConfig[%s] = %q, want %q", k, rec.PlatformConfig[k], v)
		}
	}
}

func TestIntegration_Apply_NilConfig(t *testing.T) {
	rec := &Integration{}
	rec.Apply(IntegrationUpdate{PlatformConfig: map[string]string{"k": "v"}, UpdatedAt: time.Now()})
	if rec.PlatformConfig["k"] != "v" {
		t.Error("expected config to be initialised")
	}
}

func TestNextUpdatedAt_Monotonic(t *testing.T) {
	prev := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := NextUpdatedAt(prev, prev.Add(time.Second)); !got.Equal(prev.Add(time.Second)) {
		t.Errorf("advancing clock: got %v", got)
	}
	if got := NextUpdatedAt(prev, prev); !got.After(prev) {
		t.Errorf("same instant: got %v, want after %v", got, prev)
	}
	if got := NextUpdatedAt(prev, prev.Add(-time.Hour)); !got.After(prev) {
		t.Errorf("clock skew: got %v, want after %v", got, prev)
	}
}

func TestIntegration_Apply_UpdatedAtStrictlyIncreases(t *testing.T) {
	now := time.Now()
	rec := &Integration{UpdatedAt: now}

	last := rec.UpdatedAt
	for i := 0; i < 5; i++ {
		rec.Apply(rec.DisconnectUpdate(now))
		if !rec.UpdatedAt.After(last) {
			t.Fatalf("mutation %d: UpdatedAt %v not after %v", i, rec.UpdatedAt, last)
		}
		last = rec.UpdatedAt
	}
}

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in      string
		want    Platform
		wantErr bool
	}{
		{"google", PlatformGoogle, false},
		{"GOOGLE", PlatformGoogle, false},
		{" Meta ", PlatformMeta, false},
		{"tiktok", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePlatform(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePlatform(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParsePlatform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokenSet_ExpiredAt(t *testing.T) {
	now := time.Now()
	if (TokenSet{AccessToken: "a"}).ExpiredAt(now) {
		t.Error("token without expiry never expires")
	}
	if !(TokenSet{ExpiresAt: timePtr(now)}).ExpiredAt(now) {
		t.Error("expiry at now is expired")
	}
	if ExpiresIn(now, 0) != nil {
		t.Error("ExpiresIn(0) should be nil")
	}
	if got := ExpiresIn(now, 3600); !got.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresIn(3600) = %v", got)
	}
}
