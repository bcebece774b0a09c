// Package events is a session-scoped publish/subscribe broker.
//
// The OAuth flow publishes one event per finished authorization attempt and
// transports (the SSE stream, MCP notifications) subscribe to the session they
// serve. Delivery is best effort: a subscriber that does not keep up loses
// events, and clients are expected to poll /auth/status as a fallback.
package events
