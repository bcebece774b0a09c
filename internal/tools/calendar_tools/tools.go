package calendar_tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calendarmcp/internal/auth"
	"github.com/teemow/calendarmcp/internal/calendar"
	"github.com/teemow/calendarmcp/internal/google"
	"github.com/teemow/calendarmcp/internal/server"
	"github.com/teemow/calendarmcp/internal/tools/common"
)

// RegisterCalendarTools registers all Calendar-related tools with the MCP server
func RegisterCalendarTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if err := RegisterEventTools(s, sc); err != nil {
		return fmt.Errorf("failed to register event tools: %w", err)
	}
	if !sc.ReadOnly() {
		if err := RegisterEventWriteTools(s, sc); err != nil {
			return fmt.Errorf("failed to register event write tools: %w", err)
		}
	}
	return nil
}

type eventHandler func(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, session *auth.Session, client *calendar.Client) (*mcp.CallToolResult, error)

// calendarHandler resolves the session and builds a client before calling fn.
func calendarHandler(sc *server.ServerContext, fn eventHandler) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		session, result := common.ResolveSession(ctx, sc, request, google.ServiceCalendar)
		if result != nil {
			return result, nil
		}
		client, err := sc.CalendarClient(ctx, session)
		if err != nil {
			return common.ErrorResult(err), nil
		}
		return fn(ctx, request, sc, session, client)
	}
}

// rangeStart converts a YYYY-MM-DD date to the start of that day in UTC.
// RFC3339 timestamps are passed through. Empty means now.
func rangeStart(value string, now time.Time) (string, error) {
	if value == "" {
		return now.UTC().Format(time.RFC3339), nil
	}
	return rangeBound(value, "T00:00:00Z")
}

// rangeEnd converts a YYYY-MM-DD date to the last second of that day in UTC.
// Empty means unbounded.
func rangeEnd(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	return rangeBound(value, "T23:59:59Z")
}

func rangeBound(value, timeOfDay string) (string, error) {
	if _, err := time.Parse(time.DateOnly, value); err == nil {
		return value + timeOfDay, nil
	}
	if _, err := time.Parse(time.RFC3339, value); err == nil {
		return value, nil
	}
	return "", fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC3339", value)
}
