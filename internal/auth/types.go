package auth

import (
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Credential is an OAuth2 access/refresh token pair owned by exactly one session.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes"`

	// Version increases with every installed credential for a session.
	// A refresh result is only committed if the version it started from is still current.
	Version uint64 `json:"version"`
}

// Expired reports whether the credential is expired at now, counting skew as expired.
func (c *Credential) Expired(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(c.ExpiresAt)
}

// Refreshable reports whether the credential can be renewed without user interaction.
func (c *Credential) Refreshable() bool {
	return c.RefreshToken != ""
}

// HasScope reports whether the credential was granted scope.
func (c *Credential) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// Clone returns a deep copy.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	out.Scopes = slices.Clone(c.Scopes)
	return &out
}

// Token converts the credential for use with oauth2 HTTP clients.
func (c *Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.ExpiresAt,
	}
}

// CredentialFromToken builds a credential from an oauth2 token.
// Granted scopes are read from the token's "scope" extra; fallback is used when absent.
func CredentialFromToken(tok *oauth2.Token, fallback []string) *Credential {
	scopes := fallback
	if raw, ok := tok.Extra("scope").(string); ok && raw != "" {
		scopes = strings.Fields(raw)
	}
	return &Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
		Scopes:       normalizeScopes(scopes),
	}
}

// mergeScopes returns the sorted union of both scope sets.
func mergeScopes(a, b []string) []string {
	return normalizeScopes(append(slices.Clone(a), b...))
}

func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	SessionPending       SessionState = "pending"
	SessionAuthenticated SessionState = "authenticated"
	SessionExpired       SessionState = "expired"
)

// Session is a client's interaction context, identified by an opaque id.
type Session struct {
	ID           string       `json:"session_id"`
	UserIdentity string       `json:"user_identity,omitempty"`
	State        SessionState `json:"state"`
	CreatedAt    time.Time    `json:"created_at"`
	LastUsedAt   time.Time    `json:"last_used_at"`
	// LastAuthorizedAt is the time of the most recent successful callback.
	LastAuthorizedAt time.Time `json:"last_authorized_at,omitzero"`
	// LastError is the user-facing reason of the most recent failed flow.
	LastError string `json:"last_error,omitempty"`

	// Credential is filled in by Registry.Resolve and is never persisted with the session.
	Credential *Credential `json:"-"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Credential = s.Credential.Clone()
	return &out
}

// PendingRequest correlates an external OAuth redirect back to its session.
// It exists only between Flow.Start and the matching Flow.Callback.
type PendingRequest struct {
	State          string    `json:"state"`
	SessionID      string    `json:"session_id"`
	Scopes         []string  `json:"scopes"`
	RedirectTarget string    `json:"redirect_target,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// SessionStatus is a read-only view of a session used by status endpoints.
type SessionStatus struct {
	SessionID     string       `json:"session_id"`
	Authenticated bool         `json:"authenticated"`
	State         SessionState `json:"state"`
	UserIdentity  string       `json:"user_identity,omitempty"`
	Scopes        []string     `json:"scopes,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	LastUsedAt    time.Time    `json:"last_used_at"`
	LastError     string       `json:"last_error,omitempty"`
}
