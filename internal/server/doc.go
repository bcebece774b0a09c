// Package server wires the calendarmcp runtime together.
//
// ServerContext is the explicit dependency holder handed to every tool
// handler: the session registry, the OAuth flow controller, the event broker,
// metrics and the audit logger. It builds Calendar and Gmail clients from a
// resolved session.
//
// HTTPServer exposes:
//   - /auth/start, /auth/callback, /auth/result, /auth/status, /auth/revoke:
//     the browser side of the Google authorization-code flow
//   - /auth/events: a Server-Sent Events stream of a session's auth events
//   - /sse + /message or /mcp: the MCP transport
//   - /healthz, /readyz, /healthz/detailed: probes
//
// MCPNotifier pushes the same auth events to connected MCP clients, and
// MetricsServer serves Prometheus metrics on a separate port.
package server
