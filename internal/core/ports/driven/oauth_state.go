package driven

import (
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
)

// StateSigner encodes and verifies the OAuth state parameter.
// The encoded form is tamper-proof and expires on its own; nothing is stored.
type StateSigner interface {
	// Sign encodes state. state.ExpiresAt must be set.
	Sign(state domain.OAuthState) (string, error)

	// Verify decodes a state produced by Sign.
	// Returns domain.ErrInvalidState if it was tampered with or has expired.
	Verify(encoded string, now time.Time) (*domain.OAuthState, error)
}
