package http

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
)

// Context keys
type contextKey string

const authContextKey contextKey = "auth_context"

// AdminTokenHeader carries the operator token on admin routes.
const AdminTokenHeader = "X-Admin-Token"

// AuthMiddleware handles authentication and authorization
type AuthMiddleware struct {
	auth       driven.AuthAdapter
	adminToken string
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(auth driven.AuthAdapter, adminToken string) *AuthMiddleware {
	return &AuthMiddleware{
		auth:       auth,
		adminToken: adminToken,
	}
}

// Authenticate validates the bearer token and adds the tenant auth context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, ok := m.fromBearer(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(withAuthContext(r.Context(), authCtx)))
	})
}

// RequireOperator admits requests with a matching X-Admin-Token header, or
// a bearer token carrying the operator role.
func (m *AuthMiddleware) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := r.Header.Get(AdminTokenHeader); token != "" {
			if m.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(m.adminToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid admin token")
				return
			}
			authCtx := &domain.AuthContext{Subject: "admin-token", Role: domain.RoleOperator}
			next.ServeHTTP(w, r.WithContext(withAuthContext(r.Context(), authCtx)))
			return
		}

		authCtx, ok := m.fromBearer(w, r)
		if !ok {
			return
		}
		if !authCtx.IsOperator() {
			writeError(w, http.StatusForbidden, "operator access required")
			return
		}
		next.ServeHTTP(w, r.WithContext(withAuthContext(r.Context(), authCtx)))
	})
}

func (m *AuthMiddleware) fromBearer(w http.ResponseWriter, r *http.Request) (*domain.AuthContext, bool) {
	token := extractBearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return nil, false
	}

	claims, err := m.auth.ParseToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return nil, false
	}

	return &domain.AuthContext{
		TenantID: claims.TenantID,
		Subject:  claims.Subject,
		Role:     claims.Role,
	}, true
}

func withAuthContext(ctx context.Context, authCtx *domain.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, authCtx)
}

// GetAuthContext retrieves the auth context from request context
func GetAuthContext(ctx context.Context) *domain.AuthContext {
	if ctx == nil {
		return nil
	}
	authCtx, ok := ctx.Value(authContextKey).(*domain.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// extractBearerToken extracts the Bearer token from Authorization header
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// Logging middleware

// LoggingMiddleware logs HTTP requests and feeds request metrics.
type LoggingMiddleware struct {
	logger  *slog.Logger
	metrics RequestObserver
}

// NewLoggingMiddleware creates a new LoggingMiddleware. metrics may be nil.
func NewLoggingMiddleware(logger *slog.Logger, metrics RequestObserver) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger, metrics: metrics}
}

// Handler wraps an http.Handler with request logging
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)

		// ServeMux fills in the matched pattern on the same request.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		if m.metrics != nil {
			m.metrics.ObserveHTTPRequest(route, r.Method, strconv.Itoa(rw.statusCode), duration)
		}

		level := slog.LevelInfo
		if rw.statusCode >= 500 {
			level = slog.LevelError
		}
		m.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", rw.statusCode,
			"duration", duration,
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Recovery middleware

// RecoveryMiddleware recovers from panics
type RecoveryMiddleware struct {
	logger *slog.Logger
}

// NewRecoveryMiddleware creates a new RecoveryMiddleware
func NewRecoveryMiddleware(logger *slog.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger}
}

// Handler wraps an http.Handler with panic recovery
func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORS middleware

// CORSMiddleware handles CORS
type CORSMiddleware struct {
	allowedOrigins []string
}

// NewCORSMiddleware creates a new CORSMiddleware
func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	return &CORSMiddleware{
		allowedOrigins: allowedOrigins,
	}
}

// Handler wraps an http.Handler with CORS headers
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowed := origin != "" && (slices.Contains(m.allowedOrigins, "*") || slices.Contains(m.allowedOrigins, origin))
		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+AdminTokenHeader)
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
		}

		// Handle preflight
		if r.Method == http.MethodOptions && allowed {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
