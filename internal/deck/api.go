// ABOUTME: HTTP JSON API exposing the deck's session commands to the UI shell
// ABOUTME: Maps the error taxonomy onto status codes and tags requests with ids

package deck

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atdeck/atdeck/internal/atproto"
	"github.com/atdeck/atdeck/internal/auth"
	"github.com/atdeck/atdeck/internal/session"
	"github.com/atdeck/atdeck/internal/store"
)

// loginRequest is the JSON request body for POST /api/login.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	ServiceURL string `json:"service_url,omitempty"`
}

// accountResponse is the JSON shape of one account.
type accountResponse struct {
	ID          int64   `json:"id"`
	Handle      string  `json:"handle"`
	DID         string  `json:"did"`
	ServiceURL  string  `json:"service_url"`
	AuthType    string  `json:"auth_type"`
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	IsActive    bool    `json:"is_active"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// loginResponse is the JSON response for POST /api/login.
type loginResponse struct {
	Account      accountResponse `json:"account"`
	SessionToken string          `json:"session_token"`
}

// stateResponse is the JSON response for GET /api/state.
type stateResponse struct {
	ActiveAccounts    []accountResponse `json:"active_accounts"`
	TotalAccounts     int               `json:"total_accounts"`
	AllAccountsActive bool              `json:"all_accounts_active"`
}

// sessionsResponse is the JSON response for GET /api/sessions.
type sessionsResponse struct {
	Sessions []session.Status `json:"sessions"`
}

// handlesResponse is the JSON response for GET /api/handles.
type handlesResponse struct {
	Handles []string `json:"handles"`
}

// verifyResponse is the JSON response for GET /api/verify.
type verifyResponse struct {
	Handle string `json:"handle"`
	Valid  bool   `json:"valid"`
}

// preferencesBody is the JSON shape of preferences for GET and PUT.
type preferencesBody struct {
	Theme                string  `json:"theme"`
	Language             string  `json:"language"`
	NotificationsEnabled bool    `json:"notifications_enabled"`
	AutoRefreshInterval  int     `json:"auto_refresh_interval"`
	PreferencesJSON      *string `json:"preferences_json,omitempty"`
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// API serves the upward command surface over local HTTP.
type API struct {
	service *Service
	logger  *slog.Logger
}

// NewAPI creates the HTTP surface for a deck service.
func NewAPI(service *Service) *API {
	return &API{
		service: service,
		logger:  slog.Default().With("component", "api"),
	}
}

// Router builds the chi router with all deck endpoints mounted.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(a.requestID)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", a.handleLogin)
		r.Post("/logout", a.handleLogout)
		r.Post("/refresh", a.handleRefresh)
		r.Get("/state", a.handleState)
		r.Get("/sessions", a.handleSessions)
		r.Get("/handles", a.handleHandles)
		r.Get("/verify", a.handleVerify)
		r.Get("/accounts/{id}/preferences", a.handleGetPreferences)
		r.Put("/accounts/{id}/preferences", a.handlePutPreferences)
	})

	return r
}

// requestID tags every request with a short id for log correlation.
func (a *API) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-Id", id)

		start := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debug("request handled",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := a.service.Login(r.Context(), &LoginRequest{
		Identifier: req.Identifier,
		Password:   req.Password,
		ServiceURL: req.ServiceURL,
	})
	if err != nil {
		a.writeMappedError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, loginResponse{
		Account:      toAccountResponse(resp.Account),
		SessionToken: resp.SessionToken,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Handle == "" {
		a.writeError(w, http.StatusBadRequest, "handle is required")
		return
	}

	if err := a.service.Logout(r.Context(), req.Handle); err != nil {
		a.writeMappedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Handle == "" {
		a.writeError(w, http.StatusBadRequest, "handle is required")
		return
	}

	if err := a.service.Refresh(r.Context(), req.Handle); err != nil {
		a.writeMappedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := a.service.State(r.Context())
	if err != nil {
		a.writeMappedError(w, err)
		return
	}

	accounts := make([]accountResponse, len(state.ActiveAccounts))
	for i, account := range state.ActiveAccounts {
		accounts[i] = toAccountResponse(account)
	}

	a.writeJSON(w, http.StatusOK, stateResponse{
		ActiveAccounts:    accounts,
		TotalAccounts:     state.TotalAccounts,
		AllAccountsActive: state.AllAccountsActive,
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	statuses := a.service.SessionStatuses()
	if statuses == nil {
		statuses = []session.Status{}
	}
	a.writeJSON(w, http.StatusOK, sessionsResponse{Sessions: statuses})
}

func (a *API) handleHandles(w http.ResponseWriter, r *http.Request) {
	handles := a.service.ActiveHandles()
	if handles == nil {
		handles = []string{}
	}
	a.writeJSON(w, http.StatusOK, handlesResponse{Handles: handles})
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("handle")
	if handle == "" {
		a.writeError(w, http.StatusBadRequest, "handle query parameter is required")
		return
	}

	a.writeJSON(w, http.StatusOK, verifyResponse{
		Handle: handle,
		Valid:  a.service.VerifyToken(r.Context(), handle),
	})
}

func (a *API) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	prefs, err := a.service.Preferences(r.Context(), accountID)
	if err != nil {
		a.writeMappedError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, preferencesBody{
		Theme:                string(prefs.Theme),
		Language:             string(prefs.Language),
		NotificationsEnabled: prefs.NotificationsEnabled,
		AutoRefreshInterval:  prefs.AutoRefreshInterval,
		PreferencesJSON:      prefs.PreferencesJSON,
	})
}

func (a *API) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var body preferencesBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	theme, err := store.ParseTheme(body.Theme)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	language, err := store.ParseLanguage(body.Language)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.service.SavePreferences(r.Context(), &store.UserPreferences{
		AccountID:            accountID,
		Theme:                theme,
		Language:             language,
		NotificationsEnabled: body.NotificationsEnabled,
		AutoRefreshInterval:  body.AutoRefreshInterval,
		PreferencesJSON:      body.PreferencesJSON,
	}); err != nil {
		a.writeMappedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeMappedError translates the error taxonomy into a status code, never
// exposing internals for unexpected failures.
func (a *API) writeMappedError(w http.ResponseWriter, err error) {
	var protoErr *atproto.ProtocolError
	var parseErr *store.ParseError

	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		a.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, atproto.ErrInvalidCredentials), errors.Is(err, atproto.ErrExpiredToken):
		a.writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrNoRefreshToken):
		a.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		a.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, atproto.ErrServiceUnreachable),
		errors.Is(err, context.DeadlineExceeded):
		a.writeError(w, http.StatusBadGateway, "service unreachable")
	case errors.As(err, &protoErr):
		a.writeError(w, http.StatusBadGateway, protoErr.Code)
	case errors.As(err, &parseErr):
		a.writeError(w, http.StatusInternalServerError, parseErr.Error())
	default:
		a.logger.Error("request failed", "error", err)
		a.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, errorResponse{Error: msg})
}

func toAccountResponse(account *store.Account) accountResponse {
	return accountResponse{
		ID:          account.ID,
		Handle:      account.Handle,
		DID:         account.DID,
		ServiceURL:  account.ServiceURL,
		AuthType:    string(account.AuthType),
		DisplayName: account.DisplayName,
		AvatarURL:   account.AvatarURL,
		IsActive:    account.IsActive,
		CreatedAt:   account.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   account.UpdatedAt.Format(time.RFC3339),
	}
}
