package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
)

func TestStateSigner_RoundTrip(t *testing.T) {
	signer := NewStateSigner("state-secret")
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

	in := domain.OAuthState{
		TenantID:  "tenant-1",
		Platform:  domain.PlatformMeta,
		Nonce:     "n-123",
		ExpiresAt: now.Add(10 * time.Minute),
	}

	encoded, err := signer.Sign(in)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	out, err := signer.Verify(encoded, now.Add(9*time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if out.TenantID != in.TenantID || out.Platform != in.Platform || out.Nonce != in.Nonce {
		t.Errorf("got %+v, want %+v", out, in)
	}
	if !out.ExpiresAt.Equal(in.ExpiresAt) {
		t.Errorf("expiry: got %v, want %v", out.ExpiresAt, in.ExpiresAt)
	}
}

func TestStateSigner_Rejects(t *testing.T) {
	signer := NewStateSigner("state-secret")
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

	sign := func(s *StateSigner, st domain.OAuthState) string {
		encoded, err := s.Sign(st)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		return encoded
	}
	base := domain.OAuthState{
		TenantID:  "tenant-1",
		Platform:  domain.PlatformGoogle,
		Nonce:     "n",
		ExpiresAt: now.Add(10 * time.Minute),
	}

	apiToken, _ := NewAdapter("state-secret").GenerateToken(&domain.TokenClaims{
		TenantID:  "tenant-1",
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(time.Hour).Unix(),
	})

	tests := []struct {
		name    string
		encoded string
		at      time.Time
	}{
		{"expired", sign(signer, base), now.Add(11 * time.Minute)},
		{"other secret", sign(NewStateSigner("other"), base), now},
		{"tampered", sign(signer, base) + "x", now},
		{"garbage", "abc", now},
		{"unknown platform", sign(signer, domain.OAuthState{TenantID: "t", Platform: "shopify", ExpiresAt: base.ExpiresAt}), now},
		{"no tenant", sign(signer, domain.OAuthState{Platform: domain.PlatformGoogle, ExpiresAt: base.ExpiresAt}), now},
		{"bearer token is not a state", apiToken, now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := signer.Verify(tt.encoded, tt.at); !errors.Is(err, domain.ErrInvalidState) {
				t.Errorf("expected ErrInvalidState, got %v", err)
			}
		})
	}
}
