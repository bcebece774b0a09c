package auth

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/teemow/calendarmcp/internal/instrumentation"
	"github.com/teemow/calendarmcp/internal/logging"
)

// RegistryConfig tunes session expiry and refresh behavior. Zero values use the defaults;
// a negative RefreshSkew disables the skew.
type RegistryConfig struct {
	SessionExpiry time.Duration
	RefreshSkew   time.Duration
	// SweepInterval enables the background idle sweep when positive.
	SweepInterval time.Duration
	TombstoneTTL  time.Duration
	RetryBackoff  time.Duration

	Logger  *slog.Logger
	Metrics MetricsRecorder
	// Now is the clock; tests inject a fake one.
	Now func() time.Time
}

func (c *RegistryConfig) applyDefaults() {
	if c.SessionExpiry <= 0 {
		c.SessionExpiry = DefaultSessionExpiry
	}
	switch {
	case c.RefreshSkew == 0:
		c.RefreshSkew = DefaultRefreshSkew
	case c.RefreshSkew < 0:
		c.RefreshSkew = 0
	}
	if c.TombstoneTTL <= 0 {
		c.TombstoneTTL = DefaultTombstoneTTL
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
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Registry maps session ids to identities and credentials and owns session expiry.
//
// Mutations of one session are serialized by a striped lock held only around
// store reads and writes. Refreshes run outside the lock, at most one per session
// at a time, and are committed only if the credential version did not move.
type Registry struct {
	store   Store
	gateway Gateway
	cfg     RegistryConfig
	logger  *slog.Logger

	locks   stripedLock
	flights singleflight.Group

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewRegistry creates a registry over store. A positive cfg.SweepInterval starts
// a background sweep that runs until Close.
func NewRegistry(store Store, gateway Gateway, cfg RegistryConfig) *Registry {
	cfg.applyDefaults()

	r := &Registry{
		store:   store,
		gateway: gateway,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "session_registry"),
		stop:    make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		r.wg.Add(1)
		go r.sweepLoop(cfg.SweepInterval)
	}

	return r
}

// Close stops the background sweep. It does not close the store.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

func (r *Registry) now() time.Time {
	return r.cfg.Now()
}

func (r *Registry) idle(s *Session, now time.Time) bool {
	return now.Sub(s.LastUsedAt) > r.cfg.SessionExpiry
}

// CreateSession creates a pending session with a random id.
func (r *Registry) CreateSession(ctx context.Context) (string, error) {
	id := newSessionID()

	unlock := r.locks.lock(id)
	defer unlock()

	if _, err := r.newPendingLocked(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

func (r *Registry) newPendingLocked(ctx context.Context, id string) (*Session, error) {
	now := r.now()
	session := &Session{
		ID:         id,
		State:      SessionPending,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if err := r.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	r.logger.Debug("Created session", logging.Session(id))
	return session, nil
}

// EnsureSession returns the session with id, creating a pending one when it does
// not exist. An empty id creates a session with a random id. Expired sessions are
// never revived: they fail with KindAuthentication and a new session is required.
func (r *Registry) EnsureSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		newID, err := r.CreateSession(ctx)
		if err != nil {
			return nil, err
		}
		return r.store.GetSession(ctx, newID)
	}
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}

	unlock := r.locks.lock(id)
	defer unlock()

	session, err := r.store.GetSession(ctx, id)
	switch {
	case IsKind(err, KindNotFound):
		return r.newPendingLocked(ctx, id)
	case err != nil:
		return nil, err
	}

	if session.State != SessionExpired && r.idle(session, r.now()) {
		if err := r.expireLocked(ctx, session, "session idle"); err != nil {
			return nil, err
		}
	}
	if session.State == SessionExpired {
		return nil, ErrAuthentication("session expired, start a new session", nil)
	}
	return session, nil
}

// BindIdentity installs cred for the session and marks it authenticated.
// Scopes granted earlier are kept and so is the previous refresh token when the
// provider did not issue a new one.
func (r *Registry) BindIdentity(ctx context.Context, id, identity string, cred *Credential) error {
	if cred == nil {
		return ErrValidation("credential", "must not be nil")
	}

	unlock := r.locks.lock(id)
	defer unlock()

	session, err := r.store.GetSession(ctx, id)
	if IsKind(err, KindNotFound) || (err == nil && session.State == SessionExpired) {
		return ErrNotFound(fmt.Sprintf("session %q is unknown or expired", id))
	}
	if err != nil {
		return err
	}

	next := cred.Clone()
	next.Version = 1

	prev, err := r.store.Get(ctx, id)
	switch {
	case err == nil:
		next.Scopes = mergeScopes(prev.Scopes, next.Scopes)
		if next.RefreshToken == "" {
			next.RefreshToken = prev.RefreshToken
		}
		next.Version = prev.Version + 1
	case !IsKind(err, KindNotFound):
		return err
	}

	if err := r.store.Put(ctx, id, next); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	wasAuthenticated := session.State == SessionAuthenticated
	now := r.now()
	session.State = SessionAuthenticated
	if identity != "" {
		session.UserIdentity = identity
	}
	session.LastUsedAt = now
	session.LastAuthorizedAt = now
	session.LastError = ""
	if err := r.store.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	if !wasAuthenticated {
		r.cfg.Metrics.IncrementActiveSessions(ctx)
	}
	r.logger.Info("Session authenticated",
		logging.Session(id),
		logging.UserHash(session.UserIdentity),
		"credential_version", next.Version,
		"scopes", len(next.Scopes))
	return nil
}

// RecordFailure stores a user-facing reason for the last failed flow of a session.
// Unknown sessions are ignored.
func (r *Registry) RecordFailure(ctx context.Context, id, reason string) error {
	unlock := r.locks.lock(id)
	defer unlock()

	session, err := r.store.GetSession(ctx, id)
	if IsKind(err, KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	session.LastError = reason
	return r.store.SaveSession(ctx, session)
}

// Resolve returns the authenticated session with a usable credential attached.
//
// Idle and expired sessions fail with KindAuthentication. A credential that is
// expired, or within the refresh skew of expiring, is refreshed first; concurrent
// callers for the same session share one refresh. When the provider rejects the
// refresh the session expires and KindAuthentication is returned. Transport
// failures return KindServiceUnavailable and leave the session intact.
func (r *Registry) Resolve(ctx context.Context, id string) (*Session, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}

	unlock := r.locks.lock(id)

	session, err := r.store.GetSession(ctx, id)
	if err != nil {
		unlock()
		if IsKind(err, KindNotFound) {
			return nil, ErrAuthentication("unknown session", nil)
		}
		return nil, err
	}

	now := r.now()
	switch {
	case session.State == SessionExpired:
		unlock()
		return nil, ErrAuthentication("session expired, start a new session", nil)
	case r.idle(session, now):
		err := r.expireLocked(ctx, session, "session idle")
		unlock()
		if err != nil {
			return nil, err
		}
		return nil, ErrAuthentication("session expired after inactivity", nil)
	case session.State == SessionPending:
		unlock()
		return nil, ErrAuthentication("session is not authenticated", nil)
	}

	cred, err := r.store.Get(ctx, id)
	if IsKind(err, KindNotFound) {
		err = r.expireLocked(ctx, session, "credential missing")
		unlock()
		if err != nil {
			return nil, err
		}
		return nil, ErrAuthentication("session has no credential", nil)
	}
	if err != nil {
		unlock()
		return nil, err
	}

	session.LastUsedAt = now
	if err := r.store.SaveSession(ctx, session); err != nil {
		unlock()
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	if !cred.Expired(now, r.cfg.RefreshSkew) {
		unlock()
		session.Credential = cred
		return session, nil
	}

	if !cred.Refreshable() {
		err := r.expireLocked(ctx, session, "credential expired")
		unlock()
		r.cfg.Metrics.RecordOAuthTokenRefresh(ctx, resultExpired)
		if err != nil {
			return nil, err
		}
		return nil, ErrAuthentication("credential expired and cannot be refreshed", nil)
	}
	unlock()

	cred, err = r.Refresh(ctx, id)
	if err != nil {
		return nil, err
	}
	session.Credential = cred
	return session, nil
}

// Refresh renews the session's credential using its refresh token. Concurrent calls
// for the same session share one provider round trip. A credential that is no longer
// expired when the refresh starts is returned unchanged.
func (r *Registry) Refresh(ctx context.Context, id string) (*Credential, error) {
	ch := r.flights.DoChan(id, func() (any, error) {
		return r.doRefresh(context.WithoutCancel(ctx), id)
	})

	select {
	case <-ctx.Done():
		return nil, ErrServiceUnavailable("refresh aborted", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Credential).Clone(), nil
	}
}

func (r *Registry) doRefresh(ctx context.Context, id string) (*Credential, error) {
	ctx, span := instrumentation.StartSpan(ctx, "auth.refresh")
	defer span.End()

	logger := logging.WithSession(r.logger, id)

	unlock := r.locks.lock(id)
	session, err := r.store.GetSession(ctx, id)
	if err != nil {
		unlock()
		if IsKind(err, KindNotFound) {
			return nil, ErrAuthentication("unknown session", nil)
		}
		return nil, err
	}
	if session.State != SessionAuthenticated {
		unlock()
		return nil, ErrAuthentication("session is not authenticated", nil)
	}
	cred, err := r.store.Get(ctx, id)
	if err != nil {
		unlock()
		if IsKind(err, KindNotFound) {
			return nil, ErrAuthentication("session has no credential", nil)
		}
		return nil, err
	}
	unlock()

	if !cred.Expired(r.now(), r.cfg.RefreshSkew) {
		return cred, nil
	}
	if !cred.Refreshable() {
		return nil, ErrAuthentication("credential expired and cannot be refreshed", nil)
	}

	baseVersion := cred.Version
	fresh, err := retryOnce(ctx, r.cfg.RetryBackoff, func(ctx context.Context) (*Credential, error) {
		return r.gateway.Refresh(ctx, cred)
	})

	unlock = r.locks.lock(id)
	defer unlock()

	current, getErr := r.store.Get(ctx, id)
	if getErr != nil && !IsKind(getErr, KindNotFound) {
		return nil, getErr
	}
	if getErr == nil && current.Version != baseVersion {
		// A newer credential was installed while the refresh was in flight.
		r.cfg.Metrics.RecordOAuthTokenRefresh(ctx, resultStale)
		logger.Debug("Discarded stale refresh result",
			"base_version", baseVersion,
			"current_version", current.Version)
		return current, nil
	}

	if err != nil {
		instrumentation.SetSpanError(span, err)
		if IsKind(err, KindServiceUnavailable) {
			r.cfg.Metrics.RecordOAuthTokenRefresh(ctx, resultFailure)
			logger.Warn("Token refresh failed, provider unavailable", logging.Err(err))
			return nil, err
		}

		r.cfg.Metrics.RecordOAuthTokenRefresh(ctx, resultExpired)
		logger.Warn("Refresh token rejected, expiring session", logging.Err(err))
		if session, sErr := r.store.GetSession(ctx, id); sErr == nil {
			if expErr := r.expireLocked(ctx, session, "refresh token rejected"); expErr != nil {
				logger.Error("Failed to expire session", logging.Err(expErr))
			}
		}
		return nil, ErrAuthentication("credential could not be refreshed, re-authorization required", err)
	}

	if getErr != nil {
		// Revoked or expired while the refresh was in flight.
		r.cfg.Metrics.RecordOAuthTokenRefresh(ctx, resultStale)
		return nil, ErrAuthentication("session credential was removed", nil)
	}

	fresh.Version = current.Version + 1
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = current.RefreshToken
	}
	if len(fresh.Scopes) == 0 {
		fresh.Scopes = current.Scopes
	}
	if fresh.TokenType == "" {
		fresh.TokenType = current.TokenType
	}

	if err := r.store.Put(ctx, id, fresh); err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to store refreshed credential: %w", err)
	}

	r.cfg.Metrics.RecordOAuthTokenRefresh(ctx, resultSuccess)
	instrumentation.SetSpanSuccess(span)
	logger.Debug("Credential refreshed",
		"credential_version", fresh.Version,
		"expires_at", fresh.ExpiresAt)
	return fresh, nil
}

// expireLocked transitions session to expired and releases its credential.
// The caller holds the session lock.
func (r *Registry) expireLocked(ctx context.Context, session *Session, reason string) error {
	wasAuthenticated := session.State == SessionAuthenticated

	session.State = SessionExpired
	session.LastError = reason
	session.Credential = nil

	if err := r.store.Invalidate(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to invalidate credential: %w", err)
	}
	if err := r.store.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	if wasAuthenticated {
		r.cfg.Metrics.DecrementActiveSessions(ctx)
	}
	r.logger.Info("Session expired", logging.Session(session.ID), "reason", reason)
	return nil
}

// ExpireIdleSessions expires every session idle longer than the session expiry at now
// and deletes expired sessions whose tombstone is older than the tombstone TTL.
// It returns the number of sessions expired.
func (r *Registry) ExpireIdleSessions(ctx context.Context, now time.Time) (int, error) {
	sessions, err := r.store.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, s := range sessions {
		n, err := r.sweepSession(ctx, s.ID, now)
		if err != nil {
			return expired, err
		}
		expired += n
	}

	if expired > 0 {
		r.logger.Info("Expired idle sessions", "count", expired)
	}
	return expired, nil
}

func (r *Registry) sweepSession(ctx context.Context, id string, now time.Time) (int, error) {
	unlock := r.locks.lock(id)
	defer unlock()

	session, err := r.store.GetSession(ctx, id)
	if IsKind(err, KindNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if session.State == SessionExpired {
		if now.Sub(session.LastUsedAt) > r.cfg.TombstoneTTL {
			return 0, r.store.DeleteSession(ctx, id)
		}
		return 0, nil
	}

	if now.Sub(session.LastUsedAt) <= r.cfg.SessionExpiry {
		return 0, nil
	}
	if err := r.expireLocked(ctx, session, "session idle"); err != nil {
		return 0, err
	}
	return 1, nil
}

func (r *Registry) sweepLoop(interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.ExpireIdleSessions(context.Background(), r.now()); err != nil {
				r.logger.Warn("Session sweep failed", logging.Err(err))
			}
		case <-r.stop:
			return
		}
	}
}

// Status returns a read-only view of the session. It does not touch last-used
// time; an idle session is reported as expired even before the sweep runs.
func (r *Registry) Status(ctx context.Context, id string) (*SessionStatus, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}

	session, err := r.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	now := r.now()
	state := session.State
	if state != SessionExpired && r.idle(session, now) {
		state = SessionExpired
	}

	status := &SessionStatus{
		SessionID:    session.ID,
		State:        state,
		UserIdentity: session.UserIdentity,
		CreatedAt:    session.CreatedAt,
		LastUsedAt:   session.LastUsedAt,
		LastError:    session.LastError,
	}

	if state != SessionAuthenticated {
		return status, nil
	}

	cred, err := r.store.Get(ctx, id)
	switch {
	case IsKind(err, KindNotFound):
		return status, nil
	case err != nil:
		return nil, err
	}

	status.Scopes = cred.Scopes
	status.Authenticated = !cred.Expired(now, 0) || cred.Refreshable()
	return status, nil
}

// HasScope reports whether the session is authenticated with scope granted.
func (r *Registry) HasScope(ctx context.Context, id, scope string) bool {
	status, err := r.Status(ctx, id)
	if err != nil || !status.Authenticated {
		return false
	}
	return slices.Contains(status.Scopes, scope)
}

// Revoke logs the session out: the credential is revoked at the provider on a
// best-effort basis and the session expires.
func (r *Registry) Revoke(ctx context.Context, id string) error {
	if err := ValidateSessionID(id); err != nil {
		return err
	}

	unlock := r.locks.lock(id)
	if _, err := r.store.GetSession(ctx, id); err != nil {
		unlock()
		return err
	}
	cred, err := r.store.Get(ctx, id)
	unlock()
	if err != nil && !IsKind(err, KindNotFound) {
		return err
	}

	if cred != nil && r.gateway != nil {
		if err := r.gateway.Revoke(ctx, cred); err != nil {
			r.logger.Warn("Failed to revoke credential at provider",
				logging.Session(id),
				logging.Err(err))
		}
	}

	unlock = r.locks.lock(id)
	defer unlock()

	session, err := r.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if session.State == SessionExpired {
		return r.store.Invalidate(ctx, id)
	}
	return r.expireLocked(ctx, session, "revoked")
}

// List returns every known session, oldest first.
func (r *Registry) List(ctx context.Context) ([]*Session, error) {
	return r.store.ListSessions(ctx)
}

// RegistryStats counts sessions by state.
type RegistryStats struct {
	Total         int `json:"total"`
	Pending       int `json:"pending"`
	Authenticated int `json:"authenticated"`
	Expired       int `json:"expired"`
}

// Stats counts the sessions in the store.
func (r *Registry) Stats(ctx context.Context) (RegistryStats, error) {
	sessions, err := r.store.ListSessions(ctx)
	if err != nil {
		return RegistryStats{}, err
	}

	var stats RegistryStats
	for _, s := range sessions {
		stats.Total++
		switch s.State {
		case SessionPending:
			stats.Pending++
		case SessionAuthenticated:
			stats.Authenticated++
		case SessionExpired:
			stats.Expired++
		}
	}
	return stats, nil
}

// Ping reports whether the backing store is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}
