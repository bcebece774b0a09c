package auth

import "time"

const (
	// DefaultSessionExpiry is the inactivity window after which a session expires.
	DefaultSessionExpiry = 1 * time.Hour

	// DefaultStateTTL is how long a pending authorization request stays valid.
	DefaultStateTTL = 10 * time.Minute

	// DefaultRefreshSkew treats credentials this close to expiry as expired.
	DefaultRefreshSkew = 1 * time.Minute

	// DefaultSweepInterval is how often idle sessions and stale pending requests are swept.
	DefaultSweepInterval = 1 * time.Minute

	// DefaultTombstoneTTL is how long expired sessions are kept so their ids are not reused.
	DefaultTombstoneTTL = 24 * time.Hour

	// DefaultNetworkTimeout bounds every code exchange, refresh and userinfo call.
	DefaultNetworkTimeout = 15 * time.Second

	// DefaultRetryBackoff is the wait before retrying a ServiceUnavailable failure.
	DefaultRetryBackoff = 500 * time.Millisecond

	// StateTokenLength is the number of random bytes in a state token.
	StateTokenLength = 32

	// MaxSessionIDLength bounds caller-supplied session identifiers.
	MaxSessionIDLength = 128
)

// Metric result labels.
const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultExpired = "expired"
	resultStale   = "stale"
)
