package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teemow/calendarmcp/internal/events"
	"github.com/teemow/calendarmcp/internal/instrumentation"
	"github.com/teemow/calendarmcp/internal/logging"
)

// FlowConfig tunes the authorization-code flow. Zero values use the defaults.
type FlowConfig struct {
	// StateTTL bounds the time between Start and Callback.
	StateTTL time.Duration
	// Scopes are requested by every flow.
	Scopes       []string
	RetryBackoff time.Duration

	Logger  *slog.Logger
	Metrics MetricsRecorder
	Events  EventPublisher
	Now     func() time.Time
}

func (c *FlowConfig) applyDefaults() {
	if c.StateTTL <= 0 {
		c.StateTTL = DefaultStateTTL
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = noopMetrics{}
	}
	if c.Events == nil {
		c.Events = noopPublisher{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Flow drives the OAuth2 authorization-code flow for sessions.
type Flow struct {
	registry *Registry
	pending  PendingStore
	gateway  Gateway
	cfg      FlowConfig
	logger   *slog.Logger
}

// NewFlow creates a flow controller.
func NewFlow(registry *Registry, pending PendingStore, gateway Gateway, cfg FlowConfig) *Flow {
	cfg.applyDefaults()
	return &Flow{
		registry: registry,
		pending:  pending,
		gateway:  gateway,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "oauth_flow"),
	}
}

// Registry returns the session registry the flow binds credentials to.
func (f *Flow) Registry() *Registry {
	return f.registry
}

type startOptions struct {
	scopes         []string
	redirectTarget string
}

// StartOption customizes a single authorization attempt.
type StartOption func(*startOptions)

// WithScopes requests scopes in addition to the configured ones.
func WithScopes(scopes ...string) StartOption {
	return func(o *startOptions) { o.scopes = append(o.scopes, scopes...) }
}

// WithRedirectTarget records where the client wants to land after the callback.
func WithRedirectTarget(target string) StartOption {
	return func(o *startOptions) { o.redirectTarget = target }
}

// StartResult is returned by Start.
type StartResult struct {
	SessionID        string    `json:"session_id"`
	AuthorizationURL string    `json:"authorization_url"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Start begins an authorization attempt for sessionID, creating the session when it
// does not exist (or a new one when sessionID is empty). It persists a pending
// request under a fresh state token and returns the provider's consent URL.
func (f *Flow) Start(ctx context.Context, sessionID string, opts ...StartOption) (*StartResult, error) {
	var o startOptions
	for _, opt := range opts {
		opt(&o)
	}

	session, err := f.registry.EnsureSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	state, err := generateSecureToken(StateTokenLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	now := f.cfg.Now()
	scopes := mergeScopes(f.cfg.Scopes, o.scopes)
	req := &PendingRequest{
		State:          state,
		SessionID:      session.ID,
		Scopes:         scopes,
		RedirectTarget: o.redirectTarget,
		CreatedAt:      now,
		ExpiresAt:      now.Add(f.cfg.StateTTL),
	}
	if err := f.pending.SavePending(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to save authorization request: %w", err)
	}

	f.logger.Debug("Started authorization",
		logging.Session(session.ID),
		"scopes", len(scopes),
		"expires_at", req.ExpiresAt)

	return &StartResult{
		SessionID:        session.ID,
		AuthorizationURL: f.gateway.AuthCodeURL(state, scopes),
		ExpiresAt:        req.ExpiresAt,
	}, nil
}

// CallbackParams are the query parameters of the provider redirect.
type CallbackParams struct {
	State string
	Code  string
	// Error and ErrorDescription are set when the provider reports a failure instead of a code.
	Error            string
	ErrorDescription string
}

// CallbackResult describes a completed authorization.
type CallbackResult struct {
	SessionID      string   `json:"session_id"`
	UserIdentity   string   `json:"user_identity,omitempty"`
	Scopes         []string `json:"scopes"`
	RedirectTarget string   `json:"redirect_target,omitempty"`
}

// Callback completes the authorization attempt identified by p.State.
//
// The pending request is consumed before anything else, so a state token is
// accepted at most once whatever happens next. Unknown, replayed and expired
// state tokens fail with KindAuthorization without touching any session.
// Once a pending request was consumed, a failed callback still returns a
// result carrying the owning SessionID next to the error.
func (f *Flow) Callback(ctx context.Context, p CallbackParams) (*CallbackResult, error) {
	ctx, span := instrumentation.StartSpan(ctx, "auth.callback")
	defer span.End()

	if p.State == "" {
		return nil, ErrAuthorization("unknown or expired state", nil)
	}

	req, err := f.pending.ConsumePending(ctx, p.State)
	if IsKind(err, KindNotFound) {
		f.logger.Warn("Callback with unknown state", "state", logging.SanitizeToken(p.State))
		return nil, ErrAuthorization("unknown or expired state", nil)
	}
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}
	owner := &CallbackResult{SessionID: req.SessionID}
	if f.cfg.Now().After(req.ExpiresAt) {
		f.logger.Warn("Callback with expired state", logging.Session(req.SessionID))
		return owner, ErrAuthorization("unknown or expired state", nil)
	}

	logger := logging.WithSession(f.logger, req.SessionID)

	if p.Error != "" {
		reason := "authorization denied: " + p.Error
		if p.ErrorDescription != "" {
			reason += " (" + p.ErrorDescription + ")"
		}
		f.fail(ctx, req, reason)
		return owner, ErrAuthorization(reason, nil)
	}
	if p.Code == "" {
		f.fail(ctx, req, "missing authorization code")
		return owner, ErrAuthorization("missing authorization code", nil)
	}

	exchangeCtx, exchangeSpan := instrumentation.StartSpan(ctx, "auth.exchange")
	cred, err := retryOnce(exchangeCtx, f.cfg.RetryBackoff, func(ctx context.Context) (*Credential, error) {
		return f.gateway.Exchange(ctx, p.Code)
	})
	instrumentation.SetSpanError(exchangeSpan, err)
	exchangeSpan.End()
	if err != nil {
		logger.Warn("Code exchange failed", logging.Err(err), logging.ErrorKind(string(KindOf(err))))
		f.fail(ctx, req, userFacingReason(err))
		instrumentation.SetSpanError(span, err)
		return owner, err
	}
	if len(cred.Scopes) == 0 {
		cred.Scopes = normalizeScopes(req.Scopes)
	}

	identity, err := f.gateway.UserIdentity(ctx, cred)
	if err != nil {
		logger.Warn("Failed to fetch user identity", logging.Err(err))
	}

	if err := f.registry.BindIdentity(ctx, req.SessionID, identity, cred); err != nil {
		logger.Warn("Failed to bind identity", logging.Err(err))
		f.fail(ctx, req, userFacingReason(err))
		instrumentation.SetSpanError(span, err)
		return owner, err
	}

	f.cfg.Metrics.RecordOAuthAuth(ctx, resultSuccess)
	f.cfg.Events.Publish(ctx, events.Event{
		Type:      events.TypeAuthCompleted,
		SessionID: req.SessionID,
		Timestamp: f.cfg.Now(),
	})
	instrumentation.SetSpanSuccess(span)

	result := &CallbackResult{
		SessionID:      req.SessionID,
		UserIdentity:   identity,
		Scopes:         cred.Scopes,
		RedirectTarget: req.RedirectTarget,
	}
	if status, err := f.registry.Status(ctx, req.SessionID); err == nil {
		result.Scopes = status.Scopes
	}
	return result, nil
}

func (f *Flow) fail(ctx context.Context, req *PendingRequest, reason string) {
	if err := f.registry.RecordFailure(ctx, req.SessionID, reason); err != nil {
		f.logger.Warn("Failed to record flow failure", logging.Session(req.SessionID), logging.Err(err))
	}
	f.cfg.Metrics.RecordOAuthAuth(ctx, resultFailure)
	f.cfg.Events.Publish(ctx, events.Event{
		Type:      events.TypeAuthFailed,
		SessionID: req.SessionID,
		Error:     reason,
		Timestamp: f.cfg.Now(),
	})
}

// HasScope reports whether the session is authenticated with scope granted.
func (f *Flow) HasScope(ctx context.Context, sessionID, scope string) bool {
	return f.registry.HasScope(ctx, sessionID, scope)
}

func userFacingReason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "authorization failed"
}
