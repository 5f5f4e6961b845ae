package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnsupportedPlatform indicates no adapter is registered for the platform
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrInvalidState indicates an OAuth state parameter failed verification
	ErrInvalidState = errors.New("invalid oauth state")

	// ErrNoRefreshPath indicates a record holds no credential that can be renewed
	ErrNoRefreshPath = errors.New("no refresh path, reconnect required")

	// ErrSweepInProgress indicates another instance is running the refresh sweep
	ErrSweepInProgress = errors.New("refresh sweep already in progress")
)

// UnsupportedPlatformError names the platform that could not be resolved.
type UnsupportedPlatformError struct {
	Platform Platform
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform: %q", string(e.Platform))
}

func (e *UnsupportedPlatformError) Unwrap() error {
	return ErrUnsupportedPlatform
}

// ProviderExchangeError is returned when an authorization code could not be
// exchanged for tokens. It is surfaced to the caller and never retried.
type ProviderExchangeError struct {
	Platform Platform
	Err      error
}

func (e *ProviderExchangeError) Error() string {
	return fmt.Sprintf("%s code exchange failed: %v", e.Platform, e.Err)
}

func (e *ProviderExchangeError) Unwrap() error {
	return e.Err
}

// RefreshFailureKind classifies a refresh failure.
type RefreshFailureKind string

const (
	// RefreshFailureTerminal means the grant is revoked or invalid; only a
	// new connect can recover.
	RefreshFailureTerminal RefreshFailureKind = "terminal"

	// RefreshFailureTransient means the call may succeed on a later attempt
	// (network error, timeout, platform 5xx).
	RefreshFailureTransient RefreshFailureKind = "transient"
)

// ProviderRefreshError is returned by adapters when a refresh call fails.
type ProviderRefreshError struct {
	Platform Platform
	Kind     RefreshFailureKind
	Reason   string
	Err      error
}

func (e *ProviderRefreshError) Error() string {
	msg := fmt.Sprintf("%s refresh failed (%s)", e.Platform, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderRefreshError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether the failure requires the tenant to reconnect.
func (e *ProviderRefreshError) IsTerminal() bool {
	return e.Kind == RefreshFailureTerminal
}

// NewTerminalRefreshError builds a terminal refresh failure.
func NewTerminalRefreshError(platform Platform, reason string, err error) *ProviderRefreshError {
	return &ProviderRefreshError{Platform: platform, Kind: RefreshFailureTerminal, Reason: reason, Err: err}
}

// NewTransientRefreshError builds a transient refresh failure.
func NewTransientRefreshError(platform Platform, reason string, err error) *ProviderRefreshError {
	return &ProviderRefreshError{Platform: platform, Kind: RefreshFailureTransient, Reason: reason, Err: err}
}

// IsTerminalRefreshError reports whether err carries a terminal refresh
// failure. Unclassified errors are treated as transient.
func IsTerminalRefreshError(err error) bool {
	if errors.Is(err, ErrNoRefreshPath) {
		return true
	}
	var re *ProviderRefreshError
	if errors.As(err, &re) {
		return re.IsTerminal()
	}
	return false
}

// ConfigurationError is a fatal startup error such as missing secrets.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}
