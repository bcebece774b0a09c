package common

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// SessionIDArg is the argument every tool accepts to name its session.
const SessionIDArg = "session_id"

// SessionIDParam adds the session_id argument to a tool definition.
func SessionIDParam() mcp.ToolOption {
	return mcp.WithString(SessionIDArg,
		mcp.Description("Session ID returned by the authorization flow. Defaults to the MCP session."),
	)
}

// SessionIDFromRequest returns the session_id argument, falling back to the
// id of the MCP client session the request arrived on.
func SessionIDFromRequest(ctx context.Context, request mcp.CallToolRequest) string {
	if id := StringArg(request.GetArguments(), SessionIDArg); id != "" {
		return id
	}
	if cs := mcpserver.ClientSessionFromContext(ctx); cs != nil {
		return cs.SessionID()
	}
	return ""
}

// StringArg returns the trimmed string argument key, or "".
func StringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

// IntArg returns the numeric argument key, or def when it is absent or not a number.
// JSON numbers arrive as float64.
func IntArg(args map[string]any, key string, def int64) int64 {
	switch v := args[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	}
	return def
}

// BoolArg returns the boolean argument key, or def.
func BoolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

// StringListArg accepts either a JSON array of strings or a comma separated string.
func StringListArg(args map[string]any, key string) []string {
	var out []string
	switch v := args[key].(type) {
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out
}
