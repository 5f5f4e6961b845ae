package domain

import "time"

// TokenSet is the credential material returned by a platform's OAuth endpoint.
//
// An empty RefreshToken means the platform cannot renew the credential with a
// refresh token. A nil ExpiresAt means the access token does not self-expire.
type TokenSet struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// HasRefreshToken reports whether a refresh token is present.
func (t TokenSet) HasRefreshToken() bool {
	return t.RefreshToken != ""
}

// ExpiredAt reports whether the access token has expired at now.
// Tokens without an expiry never expire.
func (t TokenSet) ExpiredAt(now time.Time) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !t.ExpiresAt.After(now)
}

// ExpiresIn converts an expires_in seconds value relative to now into an
// absolute expiry. Zero or negative seconds yield nil.
func ExpiresIn(now time.Time, seconds int64) *time.Time {
	if seconds <= 0 {
		return nil
	}
	at := now.Add(time.Duration(seconds) * time.Second)
	return &at
}
