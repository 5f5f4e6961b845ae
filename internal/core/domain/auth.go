package domain

import "time"

// Role distinguishes tenant callers from platform operators.
type Role string

const (
	RoleTenant   Role = "tenant"
	RoleOperator Role = "operator"
)

// AuthContext contains the authenticated caller for request context.
type AuthContext struct {
	TenantID string `json:"tenant_id"`
	Subject  string `json:"subject,omitempty"`
	Role     Role   `json:"role"`
}

// IsOperator reports whether the caller may run platform-wide operations.
func (a *AuthContext) IsOperator() bool {
	return a.Role == RoleOperator
}

// TokenClaims is the payload of a bearer token issued to a tenant backend.
type TokenClaims struct {
	TenantID  string `json:"tenant_id"`
	Subject   string `json:"sub,omitempty"`
	Role      Role   `json:"role"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// IsExpired checks the claims against now.
func (c *TokenClaims) IsExpired(now time.Time) bool {
	return c.ExpiresAt > 0 && now.Unix() >= c.ExpiresAt
}

// OAuthState is the payload carried through a platform's OAuth redirect.
// It binds the callback to the tenant and platform that started the flow.
type OAuthState struct {
	TenantID  string    `json:"tenant_id"`
	Platform  Platform  `json:"platform"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}
