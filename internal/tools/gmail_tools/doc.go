// Package gmail_tools provides MCP tools for reading and sending Gmail messages.
//
// Read tools:
//   - list_emails: List recent messages, optionally filtered by a Gmail query
//   - search_emails: Search messages with Gmail search syntax
//   - get_email: Fetch a message with its text body and attachment list
//   - get_labels: List system and user labels
//   - get_attachment: Download an attachment as base64
//
// Write tools, registered only when the server is not read-only:
//   - send_email: Send a plain text message
//
// Every tool takes an optional session_id. When the session is missing or not
// yet authorized the result carries an authorization URL instead of data.
package gmail_tools
