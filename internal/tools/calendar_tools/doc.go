// Package calendar_tools provides MCP tools for Google Calendar.
//
// Read tools (listing, searching, colors) are always registered. Tools that
// create, update or delete events are only registered when the server is not
// read-only.
//
// Every tool takes a session_id. Sessions that are not authorized for the
// calendar scope get an authorization URL instead of a result.
package calendar_tools
