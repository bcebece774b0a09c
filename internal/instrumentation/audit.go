package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"github.com/teemow/calendarmcp/internal/logging"
)

// ToolInvocation is the audit record of one MCP tool call.
//
// UserEmail is PII. LogAttrs reduces it to a hash and a domain; only
// LogAuditAttrs writes it verbatim.
type ToolInvocation struct {
	Tool string

	// SessionID is the raw session id. It is hashed before it is logged.
	SessionID string
	UserEmail string

	ServiceName string
	Operation   string

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	ErrorKind string
	Error     string

	TraceID string
	SpanID  string
}

// NewToolInvocation starts timing a tool call.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{Tool: tool, StartTime: time.Now()}
}

// WithSession records the session the call was made for.
func (ti *ToolInvocation) WithSession(sessionID string) *ToolInvocation {
	ti.SessionID = sessionID
	return ti
}

// WithUser records the Google identity bound to the session.
func (ti *ToolInvocation) WithUser(email string) *ToolInvocation {
	ti.UserEmail = email
	return ti
}

// WithService records the Google service and operation.
func (ti *ToolInvocation) WithService(serviceName, operation string) *ToolInvocation {
	ti.ServiceName = serviceName
	ti.Operation = operation
	return ti
}

// WithSpanContext copies the trace and span ids from ctx.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	ti.TraceID = GetTraceID(ctx)
	ti.SpanID = GetSpanID(ctx)
	return ti
}

// Complete stops the timer. errorKind is the classified failure kind, if any.
func (ti *ToolInvocation) Complete(success bool, errorKind string, err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = success
	ti.ErrorKind = errorKind
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

// CompleteSuccess marks the invocation as successful.
func (ti *ToolInvocation) CompleteSuccess() *ToolInvocation {
	return ti.Complete(true, "", nil)
}

// Status returns StatusSuccess or StatusError.
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

// UserDomain returns the domain part of UserEmail.
func (ti *ToolInvocation) UserDomain() string {
	return ExtractUserDomain(ti.UserEmail)
}

// LogAttrs returns the operational log attributes. No PII is included.
func (ti *ToolInvocation) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		logging.Tool(ti.Tool),
		slog.String("user_domain", ti.UserDomain()),
		slog.Duration(logging.KeyDuration, ti.Duration),
		slog.Bool("success", ti.Success),
	}
	if ti.SessionID != "" {
		attrs = append(attrs, logging.Session(ti.SessionID))
	}
	if ti.UserEmail != "" {
		attrs = append(attrs, logging.UserHash(ti.UserEmail))
	}
	return append(attrs, ti.optionalAttrs()...)
}

// LogAuditAttrs returns the audit attributes including the full email.
func (ti *ToolInvocation) LogAuditAttrs() []slog.Attr {
	attrs := []slog.Attr{
		logging.Tool(ti.Tool),
		slog.String("user", ti.UserEmail),
		slog.Duration(logging.KeyDuration, ti.Duration),
		slog.Bool("success", ti.Success),
	}
	if ti.SessionID != "" {
		attrs = append(attrs, logging.Session(ti.SessionID))
	}
	if ti.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", ti.SpanID))
	}
	return append(attrs, ti.optionalAttrs()...)
}

func (ti *ToolInvocation) optionalAttrs() []slog.Attr {
	var attrs []slog.Attr
	if ti.ServiceName != "" {
		attrs = append(attrs, logging.Service(ti.ServiceName))
	}
	if ti.Operation != "" {
		attrs = append(attrs, logging.Operation(ti.Operation))
	}
	if ti.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ti.TraceID))
	}
	if ti.ErrorKind != "" {
		attrs = append(attrs, logging.ErrorKind(ti.ErrorKind))
	}
	if ti.Error != "" {
		attrs = append(attrs, slog.String(logging.KeyError, ti.Error))
	}
	return attrs
}

// AuditLogger writes one record per tool invocation.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates an enabled AuditLogger that anonymizes users.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig creates an AuditLogger from config.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogToolInvocation logs ti at Info on success and Warn on failure.
func (al *AuditLogger) LogToolInvocation(ctx context.Context, ti *ToolInvocation) {
	if al == nil || !al.enabled {
		return
	}

	attrs := ti.LogAttrs()
	if al.includePII {
		attrs = ti.LogAuditAttrs()
	}

	level, msg := slog.LevelInfo, "tool_executed"
	if !ti.Success {
		level, msg = slog.LevelWarn, "tool_failed"
	}
	al.logger.LogAttrs(ctx, level, msg, attrs...)
}
