package common

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calendarmcp/internal/auth"
	"github.com/teemow/calendarmcp/internal/instrumentation"
	"github.com/teemow/calendarmcp/internal/logging"
	"github.com/teemow/calendarmcp/internal/server"
)

type callInfoKey struct{}

// callInfo is filled in by the handler while the wrapper measures it.
type callInfo struct {
	sessionID string
	user      string
	err       error
}

func noteSession(ctx context.Context, session *auth.Session) {
	if info, ok := ctx.Value(callInfoKey{}).(*callInfo); ok {
		info.sessionID = session.ID
		info.user = session.UserIdentity
	}
}

func noteError(ctx context.Context, err error) {
	if info, ok := ctx.Value(callInfoKey{}).(*callInfo); ok {
		info.err = err
	}
}

// InstrumentedToolHandler wraps a tool handler with a span, metrics and an
// audit log entry. serviceName and operation may be empty for tools that do
// not call a Google API.
//
// Usage:
//
//	s.AddTool(tool, common.InstrumentedToolHandler("list_emails", "gmail", "list", sc, handler))
func InstrumentedToolHandler(
	toolName string,
	serviceName string,
	operation string,
	sc *server.ServerContext,
	handler mcpserver.ToolHandlerFunc,
) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		spanAttrs := instrumentation.NewSpanAttributeBuilder().
			WithService(serviceName).
			WithOperation(operation).
			Build()
		ctx, span := instrumentation.StartToolSpan(ctx, toolName, spanAttrs...)

		info := &callInfo{}
		ctx = context.WithValue(ctx, callInfoKey{}, info)

		invocation := instrumentation.NewToolInvocation(toolName).
			WithSpanContext(ctx).
			WithService(serviceName, operation)

		result, err := handler(ctx, request)
		duration := time.Since(invocation.StartTime)

		invocation.WithSession(info.sessionID).WithUser(info.user)
		if info.sessionID != "" {
			span.SetAttributes(instrumentation.NewSpanAttributeBuilder().
				WithSession(logging.HashSessionID(info.sessionID)).
				Build()...)
		}

		failure := err
		if failure == nil && result != nil && result.IsError {
			failure = info.err
			if failure == nil {
				failure = errors.New("tool returned an error result")
			}
		}
		if failure != nil {
			invocation.Complete(false, string(auth.KindOf(failure)), failure)
		} else {
			invocation.CompleteSuccess()
		}
		instrumentation.EndSpan(span, failure)

		status := invocation.Status()
		if metrics := sc.Metrics(); metrics != nil {
			metrics.RecordToolInvocation(ctx, toolName, status, info.user, duration)
			if serviceName != "" {
				metrics.RecordGoogleAPIOperation(ctx, serviceName, operation, status, duration)
			}
		}
		sc.AuditLogger().LogToolInvocation(ctx, invocation)

		return result, err
	}
}
