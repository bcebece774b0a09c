package server

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/teemow/calendarmcp/internal/auth"
	"github.com/teemow/calendarmcp/internal/logging"
)

//go:embed templates/result.html
var templateFS embed.FS

var resultTemplate = template.Must(template.ParseFS(templateFS, "templates/result.html"))

// Auth route paths.
const (
	PathAuthStart    = "/auth/start"
	PathAuthCallback = "/auth/callback"
	PathAuthResult   = "/auth/result"
	PathAuthStatus   = "/auth/status"
	PathAuthRevoke   = "/auth/revoke"
	PathAuthEvents   = "/auth/events"
)

const (
	resultSuccess = "success"
	resultError   = "error"

	genericFailureReason = "Authorization could not be completed."
)

// ErrorResponse is the JSON body of every failed auth request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	AuthURL string `json:"auth_url,omitempty"`
}

// StartResponse is returned by /auth/start.
type StartResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	SessionID        string `json:"session_id"`
}

// StatusResponse is returned by /auth/status.
type StatusResponse struct {
	SessionID     string            `json:"session_id"`
	Authenticated bool              `json:"authenticated"`
	State         auth.SessionState `json:"state"`
	Scopes        []string          `json:"scopes"`
	CreatedAt     time.Time         `json:"created_at"`
	LastError     string            `json:"last_error,omitempty"`
}

// AuthHandlerConfig configures the auth routes.
type AuthHandlerConfig struct {
	// RateLimit and RateBurst bound /auth/start per client IP.
	RateLimit  float64
	RateBurst  int
	TrustProxy bool
	// KeepAlive is the interval of comment frames on the event stream.
	KeepAlive time.Duration
}

// AuthHandler serves the browser-facing authorization routes and the event stream.
type AuthHandler struct {
	sc        *ServerContext
	limiter   *IPRateLimiter
	keepAlive time.Duration
	logger    *slog.Logger
}

// NewAuthHandler creates the auth routes for sc. Close releases the rate limiter.
func NewAuthHandler(sc *ServerContext, cfg AuthHandlerConfig) *AuthHandler {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultEventKeepAlive
	}
	return &AuthHandler{
		sc:        sc,
		limiter:   NewIPRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.TrustProxy),
		keepAlive: cfg.KeepAlive,
		logger:    sc.Logger(),
	}
}

// Register adds the auth routes to mux.
func (h *AuthHandler) Register(mux *http.ServeMux) {
	mux.Handle("GET "+PathAuthStart, h.limiter.Middleware(http.HandlerFunc(h.handleStart)))
	mux.HandleFunc("GET "+PathAuthCallback, h.handleCallback)
	mux.HandleFunc("GET "+PathAuthResult, h.handleResult)
	mux.HandleFunc("GET "+PathAuthStatus, h.handleStatus)
	mux.HandleFunc("POST "+PathAuthRevoke, h.handleRevoke)
	mux.HandleFunc("GET "+PathAuthEvents, h.handleEvents)
}

// Close stops background work owned by the handler.
func (h *AuthHandler) Close() {
	h.limiter.Close()
}

func (h *AuthHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.URL.Query().Get("session_id")

	result, err := h.sc.Flow().Start(ctx, sessionID)
	if auth.IsKind(err, auth.KindAuthentication) {
		// The id belongs to an expired session; hand out a fresh one.
		fresh, startErr := h.sc.Flow().Start(ctx, "")
		if startErr != nil {
			h.writeError(w, r, startErr, "")
			return
		}
		h.writeError(w, r, err, fresh.AuthorizationURL)
		return
	}
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	writeJSON(w, http.StatusOK, StartResponse{
		AuthorizationURL: result.AuthorizationURL,
		SessionID:        result.SessionID,
	})
}

func (h *AuthHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.sc.Flow().Callback(r.Context(), auth.CallbackParams{
		State:            q.Get("state"),
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})

	target := url.Values{}
	if err != nil {
		attrs := []any{logging.Err(err), logging.ErrorKind(string(auth.KindOf(err)))}
		if result != nil {
			attrs = append(attrs, logging.Session(result.SessionID))
		}
		h.logger.Warn("Authorization callback failed", attrs...)
		target.Set("status", resultError)
		target.Set("reason", callbackReason(err))
	} else {
		h.logger.Info("Authorization completed", logging.Session(result.SessionID))
		target.Set("status", resultSuccess)
	}

	setSecurityHeaders(w)
	http.Redirect(w, r, PathAuthResult+"?"+target.Encode(), http.StatusFound)
}

// callbackReason returns the message shown on the result page. Only typed
// errors carry messages meant for users.
func callbackReason(err error) string {
	var e *auth.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return genericFailureReason
}

func (h *AuthHandler) handleResult(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := struct {
		Success bool
		Reason  string
	}{
		Success: q.Get("status") == resultSuccess,
		Reason:  q.Get("reason"),
	}
	if !data.Success && data.Reason == "" {
		data.Reason = genericFailureReason
	}

	setSecurityHeaders(w)
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	status := http.StatusOK
	if !data.Success {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	if err := resultTemplate.Execute(w, data); err != nil {
		h.logger.Error("Failed to render result page", logging.Err(err))
	}
}

func (h *AuthHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		h.writeError(w, r, auth.ErrValidation("session_id", "session_id is required"), "")
		return
	}

	status, err := h.sc.Registry().Status(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	scopes := status.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		SessionID:     status.SessionID,
		Authenticated: status.Authenticated,
		State:         status.State,
		Scopes:        scopes,
		CreatedAt:     status.CreatedAt,
		LastError:     status.LastError,
	})
}

func (h *AuthHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		h.writeError(w, r, auth.ErrValidation("session_id", "session_id is required"), "")
		return
	}

	if err := h.sc.Registry().Revoke(r.Context(), sessionID); err != nil {
		h.writeError(w, r, err, "")
		return
	}

	h.logger.Info("Session revoked", logging.Session(sessionID))
	setSecurityHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps err onto the error taxonomy and writes it as JSON.
func (h *AuthHandler) writeError(w http.ResponseWriter, r *http.Request, err error, authURL string) {
	kind := auth.KindOf(err)
	status := auth.HTTPStatus(err)
	message := genericFailureReason

	var e *auth.Error
	if errors.As(err, &e) {
		message = e.Message
	} else {
		kind = "internal"
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "Auth request failed",
		"path", r.URL.Path,
		logging.Session(r.URL.Query().Get("session_id")),
		logging.ErrorKind(string(kind)),
		logging.Err(err))

	writeJSONError(w, status, string(kind), message, authURL)
}

func writeJSONError(w http.ResponseWriter, status int, code, message, authURL string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message, AuthURL: authURL})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// setSecurityHeaders sets the headers every auth response carries.
func setSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")
}
