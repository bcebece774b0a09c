// Package common provides helpers shared by the MCP tool packages.
//
// It resolves the session a tool call belongs to, turns missing or expired
// authorization into a result carrying a fresh authorization URL, translates
// Google API failures into the auth error taxonomy and wraps tool handlers
// with tracing, metrics and audit logging.
package common
