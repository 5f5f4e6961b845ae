package mocks

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
)

var _ driven.StateSigner = (*MockStateSigner)(nil)

// MockStateSigner encodes state as unsigned base64 JSON.
type MockStateSigner struct{}

func (MockStateSigner) Sign(state domain.OAuthState) (string, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (MockStateSigner) Verify(encoded string, now time.Time) (*domain.OAuthState, error) {
	b, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, domain.ErrInvalidState
	}
	var state domain.OAuthState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, domain.ErrInvalidState
	}
	if !now.Before(state.ExpiresAt) {
		return nil, domain.ErrInvalidState
	}
	return &state, nil
}
