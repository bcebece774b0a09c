// Package auth owns the Google OAuth2 credential lifecycle for MCP sessions.
//
// It is made of three cooperating parts:
//
//   - Store: persists sessions and their credentials (memory, JSON file or Valkey).
//   - Registry: creates sessions, binds identities, resolves sessions for tool calls
//     and refreshes expired credentials with at most one refresh in flight per session.
//   - Flow: drives the authorization-code flow from the start URL to the callback and
//     publishes the outcome on the event broker.
//
// All outbound calls to Google go through the Gateway interface so the flow can be
// exercised without network access.
package auth
