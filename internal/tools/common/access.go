package common

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/calendarmcp/internal/auth"
	"github.com/teemow/calendarmcp/internal/google"
	"github.com/teemow/calendarmcp/internal/logging"
	"github.com/teemow/calendarmcp/internal/server"
)

var serviceTitles = map[string]string{
	google.ServiceCalendar: "Google Calendar",
	google.ServiceGmail:    "Gmail",
}

// ResolveSession resolves the session of request and checks it was granted
// access to service. Pass an empty service to skip the scope check.
//
// When the caller has to authorize first, the session is nil and the result
// carries an authorization URL for the caller to open. Any other failure is
// returned as an error result.
func ResolveSession(ctx context.Context, sc *server.ServerContext, request mcp.CallToolRequest, service string) (*auth.Session, *mcp.CallToolResult) {
	sessionID := SessionIDFromRequest(ctx, request)
	if sessionID == "" {
		return nil, StartAuthorization(ctx, sc, "", service, "no session")
	}

	session, err := sc.Registry().Resolve(ctx, sessionID)
	if err != nil {
		if auth.IsKind(err, auth.KindAuthentication) {
			return nil, StartAuthorization(ctx, sc, sessionID, service, err.Error())
		}
		sc.Logger().Warn("Failed to resolve session",
			logging.Session(sessionID),
			logging.Err(err),
			logging.ErrorKind(string(auth.KindOf(err))))
		noteError(ctx, err)
		return nil, ErrorResult(err)
	}
	noteSession(ctx, session)

	if service != "" && !google.HasServiceAccess(session.Credential.Scopes, service) {
		return nil, startScopeGrant(ctx, sc, sessionID, service)
	}
	return session, nil
}

// StartAuthorization starts a new authorization attempt for sessionID and
// returns a result pointing the caller at the consent page. An expired
// session cannot be reused, so a new one is created in its place.
func StartAuthorization(ctx context.Context, sc *server.ServerContext, sessionID, service, reason string) *mcp.CallToolResult {
	opts := scopeOptions(service)

	start, err := sc.Flow().Start(ctx, sessionID, opts...)
	if auth.IsKind(err, auth.KindAuthentication) || auth.IsKind(err, auth.KindValidation) {
		start, err = sc.Flow().Start(ctx, "", opts...)
	}
	if err != nil {
		sc.Logger().Error("Failed to start authorization", logging.Session(sessionID), logging.Err(err))
		return ErrorResult(err)
	}

	sc.Logger().Debug("Tool call requires authorization",
		logging.Session(start.SessionID),
		"reason", reason)

	var b strings.Builder
	b.WriteString("Status: Unauthenticated\n")
	fmt.Fprintf(&b, "Session ID: %s\n", start.SessionID)
	fmt.Fprintf(&b, "Please authenticate here: %s", start.AuthorizationURL)
	return mcp.NewToolResultStructured(map[string]any{
		"status":     "unauthenticated",
		"error":      string(auth.KindAuthentication),
		"message":    reason,
		"session_id": start.SessionID,
		"auth_url":   start.AuthorizationURL,
	}, b.String())
}

func startScopeGrant(ctx context.Context, sc *server.ServerContext, sessionID, service string) *mcp.CallToolResult {
	start, err := sc.Flow().Start(ctx, sessionID, scopeOptions(service)...)
	if err != nil {
		return ErrorResult(err)
	}

	title := serviceTitles[service]
	if title == "" {
		title = service
	}

	var b strings.Builder
	b.WriteString("Status: Missing permission\n")
	fmt.Fprintf(&b, "Session ID: %s\n", start.SessionID)
	fmt.Fprintf(&b, "This session has not granted access to %s.\n", title)
	fmt.Fprintf(&b, "Please authorize here: %s", start.AuthorizationURL)
	return mcp.NewToolResultStructured(map[string]any{
		"status":     "missing_permission",
		"error":      string(auth.KindAuthorization),
		"message":    fmt.Sprintf("session has not granted access to %s", title),
		"service":    service,
		"session_id": start.SessionID,
		"auth_url":   start.AuthorizationURL,
	}, b.String())
}

func scopeOptions(service string) []auth.StartOption {
	if scopes := google.ScopesForService(service); len(scopes) > 0 {
		return []auth.StartOption{auth.WithScopes(scopes...)}
	}
	return nil
}

// APIErrorResult turns a failed Google API call into a tool result. A credential
// Google no longer accepts sends the caller back through authorization.
func APIErrorResult(ctx context.Context, sc *server.ServerContext, session *auth.Session, service string, err error) *mcp.CallToolResult {
	err = ClassifyAPIError(err)
	noteError(ctx, err)

	if auth.IsKind(err, auth.KindAuthentication) {
		return StartAuthorization(ctx, sc, session.ID, service, err.Error())
	}

	sc.Logger().Warn("Google API call failed",
		logging.Session(session.ID),
		logging.Service(service),
		logging.Err(err),
		logging.ErrorKind(string(auth.KindOf(err))))
	return ErrorResult(err)
}
