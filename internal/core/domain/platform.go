package domain

import "strings"

// Platform identifies a third-party commerce platform a tenant can connect to.
type Platform string

const (
	// PlatformGoogle is the Google shopping (Merchant Center) platform.
	PlatformGoogle Platform = "google"

	// PlatformMeta is the Meta commerce (catalog / business) platform.
	PlatformMeta Platform = "meta"
)

// AllPlatforms returns every known platform in display order.
func AllPlatforms() []Platform {
	return []Platform{PlatformGoogle, PlatformMeta}
}

// IsValid reports whether p is a known platform.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformGoogle, PlatformMeta:
		return true
	}
	return false
}

// ParsePlatform normalises a user supplied platform name ("GOOGLE", "Meta").
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", &UnsupportedPlatformError{Platform: Platform(s)}
	}
	return p, nil
}

func (p Platform) String() string {
	return string(p)
}
