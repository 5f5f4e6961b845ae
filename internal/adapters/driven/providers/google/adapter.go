package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
)

var (
	_ driven.ProviderAdapter  = (*Adapter)(nil)
	_ driven.AccountResolver  = (*Adapter)(nil)
	_ driven.ConnectionTester = (*Adapter)(nil)
)

const defaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// defaultTokenLifetime applies when a token response carries no expires_in.
// Google access tokens live one hour.
const defaultTokenLifetime = time.Hour

// DefaultScopes are requested when the caller does not override them.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/content",
	"https://www.googleapis.com/auth/userinfo.email",
}

// terminalErrorCodes are OAuth error codes meaning the grant can never be
// used again.
var terminalErrorCodes = []string{"invalid_grant", "unauthorized_client", "invalid_client"}

// Config holds Google OAuth client settings.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Endpoint overrides. Empty values use Google's production endpoints.
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Adapter implements the authorization-code-with-refresh-token flow for
// Google's shopping APIs.
type Adapter struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
	now         func() time.Time
}

// New creates a Google adapter.
func New(cfg Config) *Adapter {
	endpoint := googleoauth.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	// Google accepts client credentials in the request body.
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = defaultUserInfoURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Adapter{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       slices.Clone(scopes),
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		httpClient:  httpClient,
		now:         now,
	}
}

func (a *Adapter) Platform() domain.Platform { return domain.PlatformGoogle }

func (a *Adapter) DefaultScopes() []string { return slices.Clone(a.oauth.Scopes) }

// GenerateAuthURL requests offline access with forced consent so Google
// always issues a refresh token.
func (a *Adapter) GenerateAuthURL(scopes []string, state string) string {
	cfg := *a.oauth
	if len(scopes) > 0 {
		cfg.Scopes = scopes
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode trades an authorization code for an access and refresh token.
func (a *Adapter) ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error) {
	tok, err := a.oauth.Exchange(a.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return a.toTokenSet(tok), nil
}

// Refresh obtains a new access token from a refresh token. When Google omits
// the refresh token from the response the one sent is returned unchanged.
func (a *Adapter) Refresh(ctx context.Context, refreshToken string) (*domain.TokenSet, error) {
	src := a.oauth.TokenSource(a.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyRefreshError(err)
	}
	set := a.toTokenSet(tok)
	if set.RefreshToken == "" {
		set.RefreshToken = refreshToken
	}
	return set, nil
}

// RefreshCredential returns the stored refresh token. Without one there is
// no way to renew the access token.
func (a *Adapter) RefreshCredential(tokens domain.TokenSet, now time.Time) (string, bool) {
	return tokens.RefreshToken, tokens.HasRefreshToken()
}

// ResolveAccountID returns the email of the Google account behind the token.
func (a *Adapter) ResolveAccountID(ctx context.Context, accessToken string) (string, error) {
	info, err := a.userInfo(ctx, accessToken)
	if err != nil {
		return "", err
	}
	if info.Email != "" {
		return info.Email, nil
	}
	return info.ID, nil
}

// TestConnection verifies the access token against the userinfo endpoint.
func (a *Adapter) TestConnection(ctx context.Context, accessToken string) error {
	_, err := a.userInfo(ctx, accessToken)
	return err
}

type userInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (a *Adapter) userInfo(ctx context.Context, accessToken string) (*userInfo, error) {
	client := oauth2.NewClient(a.clientContext(ctx), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("get user info failed: status %d: %s", resp.StatusCode, string(body))
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	return &info, nil
}

// clientContext makes x/oauth2 use the adapter's HTTP client.
func (a *Adapter) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

func (a *Adapter) toTokenSet(tok *oauth2.Token) *domain.TokenSet {
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = a.now().Add(defaultTokenLifetime)
	}
	expiry = expiry.UTC()
	return &domain.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    &expiry,
	}
}

// classifyRefreshError maps token endpoint failures onto terminal or
// transient refresh errors.
func classifyRefreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := re.ErrorCode
		if slices.Contains(terminalErrorCodes, code) {
			return domain.NewTerminalRefreshError(domain.PlatformGoogle, code, err)
		}
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if code == "" {
			code = fmt.Sprintf("status %d", status)
		}
		return domain.NewTransientRefreshError(domain.PlatformGoogle, code, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewTransientRefreshError(domain.PlatformGoogle, "timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTransientRefreshError(domain.PlatformGoogle, "timed out", err)
	}
	return domain.NewTransientRefreshError(domain.PlatformGoogle, "", err)
}
