package meta

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
)

var testNow = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		AppID:       "app-id",
		AppSecret:   "app-secret",
		RedirectURL: "https://app.example.com/api/v1/oauth/meta/callback",
		GraphURL:    srv.URL,
		HTTPClient:  srv.Client(),
		Now:         func() time.Time { return testNow },
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func graphError(code int, typ, msg string) map[string]any {
	return map[string]any{"error": map[string]any{"message": msg, "type": typ, "code": code}}
}

func TestAdapter_GenerateAuthURL(t *testing.T) {
	a := New(Config{AppID: "app-id", RedirectURL: "https://app.example.com/cb"})

	raw := a.GenerateAuthURL(nil, "signed-state")
	if !strings.HasPrefix(raw, "https://www.facebook.com/v23.0/dialog/oauth?") {
		t.Errorf("unexpected dialog url %s", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	if q.Get("scope") != "catalog_management,business_management,ads_management" {
		t.Errorf("unexpected scope %q", q.Get("scope"))
	}
	if q.Get("state") != "signed-state" || q.Get("client_id") != "app-id" || q.Get("response_type") != "code" {
		t.Errorf("unexpected query %v", q)
	}
}

func TestAdapter_ExchangeCode(t *testing.T) {
	var calls atomic.Int32
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/access_token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		calls.Add(1)
		switch {
		case q.Get("code") == "auth-code":
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "short", "token_type": "bearer", "expires_in": 3600})
		case q.Get("grant_type") == "fb_exchange_token" && q.Get("fb_exchange_token") == "short":
			if q.Get("client_secret") != "app-secret" {
				t.Errorf("expected app secret on exchange")
			}
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "long", "token_type": "bearer", "expires_in": 5183944})
		default:
			writeJSON(w, http.StatusBadRequest, graphError(100, "OAuthException", "bad request"))
		}
	})

	tokens, err := a.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 graph calls, got %d", calls.Load())
	}
	if tokens.AccessToken != "long" {
		t.Errorf("expected long-lived token, got %s", tokens.AccessToken)
	}
	if tokens.RefreshToken != "" {
		t.Errorf("expected no refresh token, got %s", tokens.RefreshToken)
	}
	want := testNow.Add(5183944 * time.Second)
	if tokens.ExpiresAt == nil || !tokens.ExpiresAt.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, tokens.ExpiresAt)
	}
}

func TestAdapter_ExchangeCode_NoExpiry(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "tok", "token_type": "bearer"})
	})

	tokens, err := a.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens.ExpiresAt != nil {
		t.Errorf("expected nil expiry, got %v", tokens.ExpiresAt)
	}
}

func TestAdapter_ExchangeCode_Error(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, graphError(100, "OAuthException", "This authorization code has been used."))
	})

	_, err := a.ExchangeCode(context.Background(), "used")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "authorization code has been used") {
		t.Errorf("expected graph message in error, got %v", err)
	}
}

func TestAdapter_Refresh(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         any
		wantErr      bool
		wantTerminal bool
	}{
		{
			name:   "renewed",
			status: http.StatusOK,
			body:   map[string]any{"access_token": "renewed", "expires_in": 5184000},
		},
		{
			name:         "invalid token",
			status:       http.StatusBadRequest,
			body:         graphError(190, "OAuthException", "Error validating access token: Session has expired"),
			wantErr:      true,
			wantTerminal: true,
		},
		{
			name:         "other oauth error",
			status:       http.StatusBadRequest,
			body:         graphError(102, "OAuthException", "Session key invalid"),
			wantErr:      true,
			wantTerminal: true,
		},
		{
			name:    "throttled",
			status:  http.StatusBadRequest,
			body:    graphError(4, "OAuthException", "Application request limit reached"),
			wantErr: true,
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    graphError(2, "OAuthException", "Service temporarily unavailable"),
			wantErr: true,
		},
		{
			name:    "gateway html",
			status:  http.StatusBadGateway,
			body:    "<html>bad gateway</html>",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				if q.Get("grant_type") != "fb_exchange_token" || q.Get("fb_exchange_token") != "current" {
					t.Errorf("unexpected refresh query %v", q)
				}
				if s, ok := tt.body.(string); ok {
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(s))
					return
				}
				writeJSON(w, tt.status, tt.body)
			})

			tokens, err := a.Refresh(context.Background(), "current")
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if tokens.AccessToken != "renewed" || tokens.ExpiresAt == nil {
					t.Errorf("unexpected tokens %+v", tokens)
				}
				return
			}

			var re *domain.ProviderRefreshError
			if !errors.As(err, &re) {
				t.Fatalf("expected ProviderRefreshError, got %T %v", err, err)
			}
			if re.IsTerminal() != tt.wantTerminal {
				t.Errorf("terminal = %v, want %v (%v)", re.IsTerminal(), tt.wantTerminal, err)
			}
		})
	}
}

func TestAdapter_RefreshCredential(t *testing.T) {
	a := New(Config{})
	future := testNow.Add(time.Hour)
	past := testNow.Add(-time.Second)

	tests := []struct {
		name   string
		tokens domain.TokenSet
		want   bool
	}{
		{name: "valid long-lived", tokens: domain.TokenSet{AccessToken: "tok", ExpiresAt: &future}, want: true},
		{name: "expired", tokens: domain.TokenSet{AccessToken: "tok", ExpiresAt: &past}, want: false},
		{name: "unknown expiry", tokens: domain.TokenSet{AccessToken: "tok"}, want: false},
		{name: "empty", tokens: domain.TokenSet{ExpiresAt: &future}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := a.RefreshCredential(tt.tokens, testNow)
			if ok != tt.want {
				t.Errorf("ok = %v, want %v", ok, tt.want)
			}
			if ok && got != tt.tokens.AccessToken {
				t.Errorf("expected access token as credential, got %q", got)
			}
		})
	}
}

func TestAdapter_ResolveAccountID(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/me/businesses":
			if r.URL.Query().Get("access_token") != "tok" {
				writeJSON(w, http.StatusBadRequest, graphError(190, "OAuthException", "invalid"))
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]string{
				{"id": "biz-1", "name": "Acme"},
				{"id": "biz-2", "name": "Acme EU"},
			}})
		case "/me":
			writeJSON(w, http.StatusOK, map[string]string{"id": "user-1"})
		default:
			http.NotFound(w, r)
		}
	})

	id, err := a.ResolveAccountID(context.Background(), "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "biz-1" {
		t.Errorf("expected first business, got %s", id)
	}

	if _, err := a.ResolveAccountID(context.Background(), "bad"); err == nil {
		t.Error("expected error for invalid token")
	}

	if err := a.TestConnection(context.Background(), "tok"); err != nil {
		t.Errorf("unexpected connection error: %v", err)
	}
}
