// Package auth_tools provides MCP tools to inspect and end a session's Google authorization.
package auth_tools
