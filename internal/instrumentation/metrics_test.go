package instrumentation

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newManualMetrics(t *testing.T, detailed bool) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"), detailed)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	return m, reader
}

// counterPoints returns the data points of the named int64 sum.
func counterPoints(t *testing.T, reader *sdkmetric.ManualReader, name string) []metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T, not an int64 sum", name, m.Data)
			}
			return sum.DataPoints
		}
	}
	return nil
}

func attrValue(dp metricdata.DataPoint[int64], key string) string {
	for _, kv := range dp.Attributes.ToSlice() {
		if string(kv.Key) == key {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestMetrics_RecordAuthEvent(t *testing.T) {
	m, reader := newManualMetrics(t, false)
	ctx := context.Background()

	m.RecordAuthEvent(ctx, "auth_completed", true)
	m.RecordAuthEvent(ctx, "auth_completed", true)
	m.RecordAuthEvent(ctx, "auth_failed", false)

	points := counterPoints(t, reader, "auth_events_total")
	if len(points) != 2 {
		t.Fatalf("expected 2 series, got %d", len(points))
	}
	for _, dp := range points {
		switch attrValue(dp, attrEventType) {
		case "auth_completed":
			if dp.Value != 2 || attrValue(dp, attrDelivery) != "delivered" {
				t.Errorf("auth_completed = %d (%s)", dp.Value, attrValue(dp, attrDelivery))
			}
		case "auth_failed":
			if dp.Value != 1 || attrValue(dp, attrDelivery) != "dropped" {
				t.Errorf("auth_failed = %d (%s)", dp.Value, attrValue(dp, attrDelivery))
			}
		default:
			t.Errorf("unexpected series %v", dp.Attributes)
		}
	}
}

func TestMetrics_RecordOAuthResults(t *testing.T) {
	m, reader := newManualMetrics(t, false)
	ctx := context.Background()

	m.RecordOAuthAuth(ctx, OAuthResultSuccess)
	m.RecordOAuthTokenRefresh(ctx, OAuthResultStale)
	m.RecordOAuthTokenRefresh(ctx, OAuthResultStale)

	auth := counterPoints(t, reader, "oauth_auth_total")
	if len(auth) != 1 || auth[0].Value != 1 || attrValue(auth[0], attrResult) != OAuthResultSuccess {
		t.Errorf("unexpected oauth_auth_total: %+v", auth)
	}
	refresh := counterPoints(t, reader, "oauth_token_refresh_total")
	if len(refresh) != 1 || refresh[0].Value != 2 || attrValue(refresh[0], attrResult) != OAuthResultStale {
		t.Errorf("unexpected oauth_token_refresh_total: %+v", refresh)
	}
}

func TestMetrics_ToolInvocationUserDomain(t *testing.T) {
	tests := []struct {
		name     string
		detailed bool
		want     string
	}{
		{"detailed labels", true, "example.com"},
		{"default labels", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reader := newManualMetrics(t, tt.detailed)
			m.RecordToolInvocation(context.Background(), "calendar_list_events", StatusSuccess, "jane@example.com", time.Second)

			points := counterPoints(t, reader, "mcp_tool_invocations_total")
			if len(points) != 1 {
				t.Fatalf("expected one series, got %d", len(points))
			}
			if got := attrValue(points[0], attrUserDomain); got != tt.want {
				t.Errorf("user_domain = %q, want %q", got, tt.want)
			}
			if got := attrValue(points[0], attrTool); got != "calendar_list_events" {
				t.Errorf("tool = %q", got)
			}
		})
	}
}

func TestMetrics_ActiveSessions(t *testing.T) {
	m, reader := newManualMetrics(t, false)
	ctx := context.Background()

	m.IncrementActiveSessions(ctx)
	m.IncrementActiveSessions(ctx)
	m.DecrementActiveSessions(ctx)

	points := counterPoints(t, reader, "active_sessions")
	if len(points) != 1 || points[0].Value != 1 {
		t.Errorf("active_sessions = %+v, want 1", points)
	}
}

func TestMetrics_ZeroValueIsNoOp(t *testing.T) {
	ctx := context.Background()
	m := &Metrics{}

	m.RecordHTTPRequest(ctx, "GET", "/auth/status", 200, time.Millisecond)
	m.RecordGoogleAPIOperation(ctx, ServiceGmail, OperationList, StatusSuccess, time.Millisecond)
	m.RecordOAuthAuth(ctx, OAuthResultFailure)
	m.RecordOAuthTokenRefresh(ctx, OAuthResultExpired)
	m.RecordAuthEvent(ctx, "auth_failed", false)
	m.RecordToolInvocation(ctx, "gmail_send_email", StatusError, "", time.Millisecond)
	m.IncrementActiveSessions(ctx)
	m.DecrementActiveSessions(ctx)
}
