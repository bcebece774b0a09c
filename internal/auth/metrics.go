package auth

import (
	"context"

	"github.com/teemow/calendarmcp/internal/events"
)

// MetricsRecorder receives auth lifecycle metrics. *instrumentation.Metrics satisfies it.
type MetricsRecorder interface {
	RecordOAuthAuth(ctx context.Context, result string)
	RecordOAuthTokenRefresh(ctx context.Context, result string)
	IncrementActiveSessions(ctx context.Context)
	DecrementActiveSessions(ctx context.Context)
}

// EventPublisher receives flow outcomes. *events.Broker satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.Event)
}

type noopMetrics struct{}

func (noopMetrics) RecordOAuthAuth(context.Context, string)         {}
func (noopMetrics) RecordOAuthTokenRefresh(context.Context, string) {}
func (noopMetrics) IncrementActiveSessions(context.Context)         {}
func (noopMetrics) DecrementActiveSessions(context.Context)         {}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, events.Event) {}
