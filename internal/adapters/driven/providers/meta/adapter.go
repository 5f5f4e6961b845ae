package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
)

var (
	_ driven.ProviderAdapter  = (*Adapter)(nil)
	_ driven.AccountResolver  = (*Adapter)(nil)
	_ driven.ConnectionTester = (*Adapter)(nil)
)

const (
	defaultGraphURL  = "https://graph.facebook.com/v23.0"
	defaultDialogURL = "https://www.facebook.com/v23.0/dialog/oauth"

	// Graph API code for an expired, revoked or otherwise invalid token.
	codeInvalidToken = 190
)

// DefaultScopes are requested when the caller does not override them.
var DefaultScopes = []string{"catalog_management", "business_management", "ads_management"}

// Graph API codes for throttling and temporary outages.
var retryableCodes = []int{1, 2, 4, 17, 32, 341, 613}

// Config holds Meta app settings.
type Config struct {
	AppID       string
	AppSecret   string
	RedirectURL string
	Scopes      []string

	// Endpoint overrides. Empty values use the production Graph API.
	GraphURL  string
	DialogURL string

	HTTPClient *http.Client

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Adapter implements Meta's long-lived access token flow. Meta issues no
// refresh token; a still-valid long-lived token is exchanged for a new one.
type Adapter struct {
	appID       string
	appSecret   string
	redirectURL string
	scopes      []string
	graphURL    string
	dialogURL   string
	httpClient  *http.Client
	now         func() time.Time
}

// New creates a Meta adapter.
func New(cfg Config) *Adapter {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	graphURL := cfg.GraphURL
	if graphURL == "" {
		graphURL = defaultGraphURL
	}
	dialogURL := cfg.DialogURL
	if dialogURL == "" {
		dialogURL = defaultDialogURL
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
		appID:       cfg.AppID,
		appSecret:   cfg.AppSecret,
		redirectURL: cfg.RedirectURL,
		scopes:      slices.Clone(scopes),
		graphURL:    strings.TrimSuffix(graphURL, "/"),
		dialogURL:   dialogURL,
		httpClient:  httpClient,
		now:         now,
	}
}

func (a *Adapter) Platform() domain.Platform { return domain.PlatformMeta }

func (a *Adapter) DefaultScopes() []string { return slices.Clone(a.scopes) }

// GenerateAuthURL builds the Facebook login dialog URL. Meta expects
// comma-separated scopes.
func (a *Adapter) GenerateAuthURL(scopes []string, state string) string {
	if len(scopes) == 0 {
		scopes = a.scopes
	}
	params := url.Values{
		"client_id":     {a.appID},
		"redirect_uri":  {a.redirectURL},
		"state":         {state},
		"scope":         {strings.Join(scopes, ",")},
		"response_type": {"code"},
	}
	return a.dialogURL + "?" + params.Encode()
}

// ExchangeCode trades the code for a short-lived token, then upgrades it to
// a long-lived one.
func (a *Adapter) ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error) {
	short, err := a.accessToken(ctx, url.Values{
		"client_id":     {a.appID},
		"client_secret": {a.appSecret},
		"redirect_uri":  {a.redirectURL},
		"code":          {code},
	})
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	long, err := a.exchangeLongLived(ctx, short.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("exchange long-lived token: %w", err)
	}
	return long, nil
}

// Refresh exchanges a still-valid long-lived token for a new one.
func (a *Adapter) Refresh(ctx context.Context, accessToken string) (*domain.TokenSet, error) {
	tokens, err := a.exchangeLongLived(ctx, accessToken)
	if err != nil {
		return nil, classifyRefreshError(err)
	}
	return tokens, nil
}

// RefreshCredential returns the access token while it is still valid. An
// expired token, or one without a known expiry, cannot be exchanged.
func (a *Adapter) RefreshCredential(tokens domain.TokenSet, now time.Time) (string, bool) {
	if tokens.AccessToken == "" || tokens.ExpiresAt == nil || !tokens.ExpiresAt.After(now) {
		return "", false
	}
	return tokens.AccessToken, true
}

// ResolveAccountID returns the first business the token can manage.
func (a *Adapter) ResolveAccountID(ctx context.Context, accessToken string) (string, error) {
	var out struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := a.get(ctx, "/me/businesses", url.Values{
		"access_token": {accessToken},
		"fields":       {"id,name"},
	}, &out); err != nil {
		return "", fmt.Errorf("get business accounts: %w", err)
	}
	if len(out.Data) == 0 {
		return "", nil
	}
	return out.Data[0].ID, nil
}

// TestConnection verifies the token by reading the current user.
func (a *Adapter) TestConnection(ctx context.Context, accessToken string) error {
	var out struct {
		ID string `json:"id"`
	}
	return a.get(ctx, "/me", url.Values{"access_token": {accessToken}, "fields": {"id"}}, &out)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *Adapter) exchangeLongLived(ctx context.Context, token string) (*domain.TokenSet, error) {
	resp, err := a.accessToken(ctx, url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {a.appID},
		"client_secret":     {a.appSecret},
		"fb_exchange_token": {token},
	})
	if err != nil {
		return nil, err
	}
	return &domain.TokenSet{
		AccessToken: resp.AccessToken,
		ExpiresAt:   domain.ExpiresIn(a.now(), resp.ExpiresIn),
	}, nil
}

func (a *Adapter) accessToken(ctx context.Context, params url.Values) (*tokenResponse, error) {
	var out tokenResponse
	if err := a.get(ctx, "/oauth/access_token", params, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, errors.New("no access token in response")
	}
	return &out, nil
}

// get calls a Graph API path and decodes the JSON body into out.
func (a *Adapter) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.graphURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return parseGraphError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GraphError is an error object returned by the Graph API.
type GraphError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode"`
}

func (e *GraphError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("graph api status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("graph api %s %d (status %d): %s", e.Type, e.Code, e.StatusCode, e.Message)
}

func parseGraphError(status int, body []byte) error {
	var envelope struct {
		Error *GraphError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return &GraphError{StatusCode: status, Message: msg}
	}
	envelope.Error.StatusCode = status
	return envelope.Error
}

// classifyRefreshError maps Graph API failures onto terminal or transient
// refresh errors.
func classifyRefreshError(err error) error {
	var ge *GraphError
	if !errors.As(err, &ge) {
		return domain.NewTransientRefreshError(domain.PlatformMeta, "", err)
	}

	reason := ge.Type
	if reason == "" {
		reason = fmt.Sprintf("status %d", ge.StatusCode)
	} else {
		reason = fmt.Sprintf("%s %d", ge.Type, ge.Code)
	}

	switch {
	case ge.Code == codeInvalidToken:
		return domain.NewTerminalRefreshError(domain.PlatformMeta, reason, err)
	case ge.StatusCode >= 500, slices.Contains(retryableCodes, ge.Code):
		return domain.NewTransientRefreshError(domain.PlatformMeta, reason, err)
	case ge.StatusCode == http.StatusBadRequest && ge.Type == "OAuthException":
		return domain.NewTerminalRefreshError(domain.PlatformMeta, reason, err)
	default:
		return domain.NewTransientRefreshError(domain.PlatformMeta, reason, err)
	}
}
