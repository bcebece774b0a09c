package google

import "slices"

// OAuth scopes used by the service.
const (
	ScopeOpenID          = "openid"
	ScopeUserinfoEmail   = "https://www.googleapis.com/auth/userinfo.email"
	ScopeCalendar        = "https://www.googleapis.com/auth/calendar"
	ScopeGmailReadonly   = "https://www.googleapis.com/auth/gmail.readonly"
	ScopeGmailSend       = "https://www.googleapis.com/auth/gmail.send"
	ScopeGmailFullAccess = "https://mail.google.com/"
)

// Service names used for scope checks and metrics.
const (
	ServiceCalendar = "calendar"
	ServiceGmail    = "gmail"
)

// DefaultOAuthScopes are requested by every authorization flow.
//
// The scopes provide access to:
//   - user info: the email used as the session's identity
//   - Google Calendar: full access
//   - Gmail: read and send
var DefaultOAuthScopes = []string{
	ScopeOpenID,
	ScopeUserinfoEmail,
	ScopeCalendar,
	ScopeGmailReadonly,
	ScopeGmailSend,
}

// serviceScopes lists, per service, scopes of which any one is sufficient.
var serviceScopes = map[string][]string{
	ServiceCalendar: {ScopeCalendar},
	ServiceGmail:    {ScopeGmailReadonly, ScopeGmailFullAccess},
}

// ScopesForService returns the scope to request when a session lacks access to service.
func ScopesForService(service string) []string {
	scopes, ok := serviceScopes[service]
	if !ok {
		return nil
	}
	return scopes[:1]
}

// HasServiceAccess reports whether granted covers service.
// Unknown services are never accessible.
func HasServiceAccess(granted []string, service string) bool {
	for _, s := range serviceScopes[service] {
		if slices.Contains(granted, s) {
			return true
		}
	}
	return false
}
