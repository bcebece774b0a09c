package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans installs an in-memory tracer provider for the duration of the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestSpanAttributeBuilder(t *testing.T) {
	attrs := NewSpanAttributeBuilder().
		WithTool("gmail_get_message").
		WithService(ServiceGmail).
		WithOperation(OperationGet).
		WithSession("session:abc").
		WithResourceID("18c2f").
		WithReadOnly(true).
		Build()

	if len(attrs) != 6 {
		t.Fatalf("expected 6 attributes, got %d", len(attrs))
	}

	empty := NewSpanAttributeBuilder().WithTool("t").WithSession("").WithResourceID("").Build()
	if len(empty) != 1 {
		t.Errorf("empty values should be skipped, got %d attributes", len(empty))
	}
}

func TestStartGoogleAPISpan(t *testing.T) {
	recorder := recordSpans(t)

	ctx, span := StartGoogleAPISpan(context.Background(), ServiceCalendar, OperationList)
	if GetTraceID(ctx) == "" || GetSpanID(ctx) == "" {
		t.Error("expected trace context in returned ctx")
	}
	SetSpanSuccess(span)
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected one span, got %d", len(ended))
	}
	if ended[0].Name() != "google.calendar.list" {
		t.Errorf("span name = %q", ended[0].Name())
	}
	if ended[0].Status().Code != codes.Ok {
		t.Errorf("status = %v", ended[0].Status())
	}
}

func TestStartToolSpan_Error(t *testing.T) {
	recorder := recordSpans(t)

	_, span := StartToolSpan(context.Background(), "calendar_delete_event")
	SetSpanError(span, errors.New("forbidden"))
	SetSpanError(span, nil)
	AddSpanEvent(span, "retry")
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected one span, got %d", len(ended))
	}
	s := ended[0]
	if s.Name() != "tool.calendar_delete_event" {
		t.Errorf("span name = %q", s.Name())
	}
	if s.Status().Code != codes.Error || s.Status().Description != "forbidden" {
		t.Errorf("status = %+v", s.Status())
	}
	if len(s.Events()) != 2 {
		t.Errorf("expected exception and retry events, got %d", len(s.Events()))
	}
}

func TestTraceIDs_NoSpan(t *testing.T) {
	if GetTraceID(context.Background()) != "" || GetSpanID(context.Background()) != "" {
		t.Error("expected empty ids without a span")
	}
}
