// Package instrumentation wires OpenTelemetry metrics and tracing into the
// calendarmcp server.
//
// Metrics:
//   - http_requests_total, http_request_duration_seconds
//   - active_sessions
//   - google_api_operations_total, google_api_operation_duration_seconds
//   - oauth_auth_total, oauth_token_refresh_total
//   - auth_events_total (event_type, delivery)
//   - mcp_tool_invocations_total, mcp_tool_duration_seconds
//
// Spans are started for OAuth callbacks and refreshes ("auth.*"), tool
// calls ("tool.<name>") and Google API calls ("google.<service>.<operation>").
//
// Settings come from the environment (see Config); the Prometheus exporter
// is the default and is served on the dedicated metrics listener.
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//	provider.Metrics().RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)
package instrumentation
