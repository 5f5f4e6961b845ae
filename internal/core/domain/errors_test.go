package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrNotFound", ErrNotFound, "not found"},
		{"ErrAlreadyExists", ErrAlreadyExists, "already exists"},
		{"ErrInvalidInput", ErrInvalidInput, "invalid input"},
		{"ErrUnauthorized", ErrUnauthorized, "unauthorized"},
		{"ErrUnsupportedPlatform", ErrUnsupportedPlatform, "unsupported platform"},
		{"ErrInvalidState", ErrInvalidState, "invalid oauth state"},
		{"ErrNoRefreshPath", ErrNoRefreshPath, "no refresh path, reconnect required"},
		{"ErrSweepInProgress", ErrSweepInProgress, "refresh sweep already in progress"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.msg {
				t.Errorf("expected %q, got %q", tt.msg, tt.err.Error())
			}
		})
	}
}

func TestErrorsAreDistinct(t *testing.T) {
	allErrors := []error{
		ErrNotFound,
		ErrAlreadyExists,
		ErrInvalidInput,
		ErrUnauthorized,
		ErrUnsupportedPlatform,
		ErrInvalidState,
		ErrNoRefreshPath,
		ErrSweepInProgress,
	}

	for i, err1 := range allErrors {
		for j, err2 := range allErrors {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("errors should be distinct: %v and %v", err1, err2)
			}
		}
	}
}

func TestUnsupportedPlatformError_Unwrap(t *testing.T) {
	err := fmt.Errorf("resolve adapter: %w", &UnsupportedPlatformError{Platform: "tiktok"})
	if !errors.Is(err, ErrUnsupportedPlatform) {
		t.Errorf("expected errors.Is(err, ErrUnsupportedPlatform)")
	}
	if got := err.Error(); got != `resolve adapter: unsupported platform: "tiktok"` {
		t.Errorf("unexpected message %q", got)
	}
}

func TestProviderExchangeError(t *testing.T) {
	cause := errors.New("invalid code")
	err := fmt.Errorf("connect: %w", &ProviderExchangeError{Platform: PlatformGoogle, Err: cause})

	var pe *ProviderExchangeError
	if !errors.As(err, &pe) {
		t.Fatal("expected ProviderExchangeError")
	}
	if pe.Platform != PlatformGoogle {
		t.Errorf("Platform = %q, want google", pe.Platform)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be unwrapped")
	}
}

func TestIsTerminalRefreshError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"terminal", NewTerminalRefreshError(PlatformGoogle, "invalid_grant", nil), true},
		{"wrapped terminal", fmt.Errorf("refresh: %w", NewTerminalRefreshError(PlatformMeta, "code 190", nil)), true},
		{"transient", NewTransientRefreshError(PlatformGoogle, "timeout", errors.New("deadline")), false},
		{"no refresh path", fmt.Errorf("%w: missing refresh token", ErrNoRefreshPath), true},
		{"unclassified", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTerminalRefreshError(tt.err); got != tt.want {
				t.Errorf("IsTerminalRefreshError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProviderRefreshError_Message(t *testing.T) {
	err := NewTransientRefreshError(PlatformGoogle, "status 503", errors.New("unavailable"))
	want := "google refresh failed (transient): status 503: unavailable"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestConfigurationError(t *testing.T) {
	err := &ConfigurationError{Field: "GOOGLE_CLIENT_SECRET", Reason: "required when google is enabled"}
	want := "configuration error: GOOGLE_CLIENT_SECRET: required when google is enabled"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
