package auth_tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calendarmcp/internal/google"
	"github.com/teemow/calendarmcp/internal/instrumentation"
	"github.com/teemow/calendarmcp/internal/logging"
	"github.com/teemow/calendarmcp/internal/server"
	"github.com/teemow/calendarmcp/internal/tools/common"
)

// RegisterAuthTools registers the session status and logout tools.
func RegisterAuthTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	statusTool := mcp.NewTool("get_auth_status",
		mcp.WithDescription("Check whether the session is authorized for Google and get an authorization URL if it is not. Call this first."),
		common.SessionIDParam(),
		mcp.WithString("service",
			mcp.Description("Service to check access for: 'calendar' or 'gmail'. Defaults to any."),
			mcp.Enum(google.ServiceCalendar, google.ServiceGmail),
		),
	)
	s.AddTool(statusTool, common.InstrumentedToolHandler("get_auth_status", "", instrumentation.OperationStatus, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetAuthStatus(ctx, request, sc)
		}))

	revokeTool := mcp.NewTool("revoke_auth",
		mcp.WithDescription("Log the session out: revoke its Google credential and expire the session."),
		common.SessionIDParam(),
	)
	s.AddTool(revokeTool, common.InstrumentedToolHandler("revoke_auth", "", instrumentation.OperationRevoke, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleRevokeAuth(ctx, request, sc)
		}))

	return nil
}

func handleGetAuthStatus(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	service := common.StringArg(request.GetArguments(), "service")
	if service != "" && service != google.ServiceCalendar && service != google.ServiceGmail {
		return mcp.NewToolResultError(fmt.Sprintf("unknown service %q, expected 'calendar' or 'gmail'", service)), nil
	}

	session, result := common.ResolveSession(ctx, sc, request, service)
	if result != nil {
		return result, nil
	}

	var b strings.Builder
	b.WriteString("Status: Authenticated\n")
	fmt.Fprintf(&b, "Session ID: %s\n", session.ID)
	if session.UserIdentity != "" {
		fmt.Fprintf(&b, "User: %s\n", session.UserIdentity)
	}
	var services []string
	for _, svc := range []string{google.ServiceCalendar, google.ServiceGmail} {
		if google.HasServiceAccess(session.Credential.Scopes, svc) {
			services = append(services, svc)
		}
	}
	fmt.Fprintf(&b, "Services: %s\n", strings.Join(services, ", "))
	fmt.Fprintf(&b, "Expires: %s", session.Credential.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"))
	return mcp.NewToolResultText(b.String()), nil
}

func handleRevokeAuth(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	sessionID := common.SessionIDFromRequest(ctx, request)
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	if err := sc.Registry().Revoke(ctx, sessionID); err != nil {
		sc.Logger().Warn("Failed to revoke session", logging.Session(sessionID), logging.Err(err))
		return common.ErrorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Session %s revoked", sessionID)), nil
}
