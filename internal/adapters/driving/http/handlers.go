package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driving"
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error          string `json:"error" example:"invalid request body"`
	NeedsReconnect bool   `json:"needs_reconnect,omitempty"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// IntegrationResponse is a stored integration plus its computed activity.
// Credential material is never included.
// @Description Tenant integration
type IntegrationResponse struct {
	*domain.Integration
	Active bool `json:"active"`
}

// ConnectBody is the request body of the connect endpoint.
type ConnectBody struct {
	Code string `json:"code" example:"4/0AbCD..."`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings the integration store and the lock backend
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Failure      503  {object}  map[string]string
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true
	if s.store != nil {
		checks["store"] = "ok"
		if err := s.store.Ping(ctx); err != nil {
			checks["store"] = err.Error()
			ready = false
		}
	}
	if s.lock != nil {
		checks["lock"] = "ok"
		if err := s.lock.Ping(ctx); err != nil {
			checks["lock"] = err.Error()
			ready = false
		}
	}

	if !ready {
		checks["status"] = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, checks)
		return
	}
	checks["status"] = "ready"
	writeJSON(w, http.StatusOK, checks)
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// Integration endpoints

// handleListIntegrations godoc
// @Summary      List integrations
// @Description  Returns every integration of the calling tenant
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   IntegrationResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /api/v1/integrations [get]
func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	records, err := s.integrations.ListForTenant(r.Context(), tenantID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := make([]IntegrationResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, s.integrationResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleIntegrationSummary godoc
// @Summary      Integration summary
// @Description  Aggregates the tenant's integrations across all platforms
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  domain.IntegrationSummary
// @Router       /api/v1/integrations/summary [get]
func (s *Server) handleIntegrationSummary(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	summary, err := s.integrations.Summary(r.Context(), tenantID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleGetIntegration godoc
// @Summary      Get integration
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Param        platform  path  string  true  "Platform (google, meta)"
// @Success      200  {object}  IntegrationResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /api/v1/integrations/{platform} [get]
func (s *Server) handleGetIntegration(w http.ResponseWriter, r *http.Request) {
	tenantID, platform, ok := requireTenantPlatform(w, r)
	if !ok {
		return
	}

	rec, err := s.integrations.Get(r.Context(), tenantID, platform)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.integrationResponse(rec))
}

// handleAuthURL godoc
// @Summary      Start OAuth flow
// @Description  Returns the platform consent URL with a signed state
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Param        platform  path  string  true  "Platform (google, meta)"
// @Success      200  {object}  driving.AuthURLResponse
// @Failure      400  {object}  ErrorResponse
// @Router       /api/v1/integrations/{platform}/auth-url [get]
func (s *Server) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	tenantID, platform, ok := requireTenantPlatform(w, r)
	if !ok {
		return
	}

	resp, err := s.integrations.AuthorizationURL(r.Context(), tenantID, platform)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleConnect godoc
// @Summary      Connect with an authorization code
// @Description  Exchanges the code and stores the integration as CONNECTED
// @Tags         Integrations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        platform  path  string       true  "Platform (google, meta)"
// @Param        request   body  ConnectBody  true  "Authorization code"
// @Success      200  {object}  IntegrationResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      502  {object}  ErrorResponse
// @Router       /api/v1/integrations/{platform}/connect [post]
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	tenantID, platform, ok := requireTenantPlatform(w, r)
	if !ok {
		return
	}

	var body ConnectBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	rec, err := s.integrations.Connect(r.Context(), driving.ConnectRequest{
		TenantID: tenantID,
		Platform: platform,
		AuthCode: body.Code,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.integrationResponse(rec))
}

// handleDisconnect godoc
// @Summary      Disconnect integration
// @Tags         Integrations
// @Security     BearerAuth
// @Param        platform  path  string  true  "Platform (google, meta)"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Router       /api/v1/integrations/{platform} [delete]
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	tenantID, platform, ok := requireTenantPlatform(w, r)
	if !ok {
		return
	}

	if err := s.integrations.Disconnect(r.Context(), tenantID, platform); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRefreshNow godoc
// @Summary      Refresh now
// @Description  Refreshes the stored credential immediately
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Param        platform  path  string  true  "Platform (google, meta)"
// @Success      200  {object}  IntegrationResponse
// @Failure      409  {object}  ErrorResponse
// @Failure      502  {object}  ErrorResponse
// @Router       /api/v1/integrations/{platform}/refresh [post]
func (s *Server) handleRefreshNow(w http.ResponseWriter, r *http.Request) {
	tenantID, platform, ok := requireTenantPlatform(w, r)
	if !ok {
		return
	}

	rec, err := s.sweeper.RefreshNow(r.Context(), tenantID, platform)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.integrationResponse(rec))
}

// handleUpdateConfig godoc
// @Summary      Update platform config
// @Description  Merges keys into the integration's platform configuration
// @Tags         Integrations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        platform  path  string             true  "Platform (google, meta)"
// @Param        request   body  map[string]string  true  "Keys to merge"
// @Success      200  {object}  IntegrationResponse
// @Failure      400  {object}  ErrorResponse
// @Router       /api/v1/integrations/{platform}/config [patch]
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, platform, ok := requireTenantPlatform(w, r)
	if !ok {
		return
	}

	var cfg map[string]string
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.integrations.UpdatePlatformConfig(r.Context(), tenantID, platform, cfg)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.integrationResponse(rec))
}

// handleTestConnection godoc
// @Summary      Test connection
// @Description  Checks the stored credential against the platform
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Param        platform  path  string  true  "Platform (google, meta)"
// @Success      200  {object}  driving.TestConnectionResponse
// @Router       /api/v1/integrations/{platform}/test [post]
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	tenantID, platform, ok := requireTenantPlatform(w, r)
	if !ok {
		return
	}

	resp, err := s.integrations.TestConnection(r.Context(), tenantID, platform)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// OAuth endpoints

// handleOAuthCallback godoc
// @Summary      OAuth callback
// @Description  Receives the platform redirect, verifies state and connects the tenant
// @Tags         OAuth
// @Produce      json
// @Param        platform           path   string  true   "Platform (google, meta)"
// @Param        code               query  string  false  "Authorization code"
// @Param        state              query  string  true   "Signed state"
// @Param        error              query  string  false  "Provider error"
// @Param        error_description  query  string  false  "Provider error description"
// @Success      200  {object}  driving.CallbackResponse
// @Failure      400  {object}  driving.CallbackResponse
// @Router       /api/v1/oauth/{platform}/callback [get]
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	platform, err := domain.ParsePlatform(r.PathValue("platform"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	resp := s.integrations.HandleCallback(r.Context(), driving.CallbackRequest{
		Platform:         platform,
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

// Admin endpoints

// handleRefreshSweep godoc
// @Summary      Run refresh sweep
// @Description  Runs one refresh sweep under the distributed lock
// @Tags         Admin
// @Produce      json
// @Param        X-Admin-Token  header  string  false  "Operator token"
// @Success      200  {object}  domain.SweepSummary
// @Failure      409  {object}  ErrorResponse
// @Router       /api/v1/admin/refresh-sweep [post]
func (s *Server) handleRefreshSweep(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh sweeps are not enabled")
		return
	}

	summary, err := s.trigger.TriggerNow(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Helpers

func (s *Server) integrationResponse(rec *domain.Integration) IntegrationResponse {
	return IntegrationResponse{Integration: rec, Active: s.integrations.IsActive(rec)}
}

func requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil || authCtx.TenantID == "" {
		writeError(w, http.StatusUnauthorized, "tenant not authenticated")
		return "", false
	}
	return authCtx.TenantID, true
}

func requireTenantPlatform(w http.ResponseWriter, r *http.Request) (string, domain.Platform, bool) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return "", "", false
	}
	platform, err := domain.ParsePlatform(r.PathValue("platform"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	return tenantID, platform, true
}

// writeServiceError maps domain errors to HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		exchangeErr *domain.ProviderExchangeError
		refreshErr  *domain.ProviderRefreshError
	)

	// ErrNoRefreshPath may wrap an unsupported platform; it must win.
	switch {
	case errors.Is(err, domain.ErrNoRefreshPath):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), NeedsReconnect: true})
	case errors.Is(err, domain.ErrUnsupportedPlatform),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrSweepInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &exchangeErr):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &refreshErr):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error(), NeedsReconnect: refreshErr.IsTerminal()})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
