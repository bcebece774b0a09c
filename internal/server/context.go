package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teemow/calendarmcp/internal/auth"
	"github.com/teemow/calendarmcp/internal/calendar"
	"github.com/teemow/calendarmcp/internal/events"
	"github.com/teemow/calendarmcp/internal/gmail"
	"github.com/teemow/calendarmcp/internal/google"
	"github.com/teemow/calendarmcp/internal/instrumentation"
)

// Config holds the dependencies of a ServerContext.
type Config struct {
	Registry *auth.Registry
	Flow     *auth.Flow
	Events   *events.Broker

	// Metrics and AuditLogger may be nil when instrumentation is disabled.
	Metrics     *instrumentation.Metrics
	AuditLogger *instrumentation.AuditLogger
	Logger      *slog.Logger

	// DefaultTimeZone applies to calendar events created without a zone.
	DefaultTimeZone string
	// ReadOnly hides tools that modify calendars or send mail.
	ReadOnly bool

	// CalendarOptions and GmailOptions are appended to every API client, e.g. to
	// point them at a test endpoint.
	CalendarOptions []calendar.Option
	GmailOptions    []gmail.Option
}

// ServerContext holds the dependencies shared by the MCP tools and HTTP handlers.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a new server context
func NewServerContext(ctx context.Context, cfg Config) (*ServerContext, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if cfg.Flow == nil {
		return nil, fmt.Errorf("oauth flow is required")
	}
	if cfg.Events == nil {
		cfg.Events = events.NewBroker()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultTimeZone == "" {
		cfg.DefaultTimeZone = "UTC"
	}

	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:    shutdownCtx,
		cancel: cancel,
		cfg:    cfg,
	}, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

func (sc *ServerContext) Registry() *auth.Registry { return sc.cfg.Registry }

func (sc *ServerContext) Flow() *auth.Flow { return sc.cfg.Flow }

func (sc *ServerContext) Events() *events.Broker { return sc.cfg.Events }

// Metrics returns the metrics recorder, or nil when instrumentation is disabled.
func (sc *ServerContext) Metrics() *instrumentation.Metrics { return sc.cfg.Metrics }

// AuditLogger returns the audit logger, or nil when audit logging is disabled.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger { return sc.cfg.AuditLogger }

func (sc *ServerContext) Logger() *slog.Logger { return sc.cfg.Logger }

func (sc *ServerContext) DefaultTimeZone() string { return sc.cfg.DefaultTimeZone }

func (sc *ServerContext) ReadOnly() bool { return sc.cfg.ReadOnly }

// CalendarClient builds a Calendar client for a resolved session.
func (sc *ServerContext) CalendarClient(ctx context.Context, session *auth.Session) (*calendar.Client, error) {
	if session == nil || session.Credential == nil {
		return nil, auth.ErrAuthentication("session has no credential", nil)
	}
	httpClient := google.NewAuthorizedClient(ctx, session.Credential.Token())
	opts := append([]calendar.Option{calendar.WithDefaultTimeZone(sc.cfg.DefaultTimeZone)}, sc.cfg.CalendarOptions...)
	return calendar.NewClient(ctx, httpClient, opts...)
}

// GmailClient builds a Gmail client for a resolved session.
func (sc *ServerContext) GmailClient(ctx context.Context, session *auth.Session) (*gmail.Client, error) {
	if session == nil || session.Credential == nil {
		return nil, auth.ErrAuthentication("session has no credential", nil)
	}
	httpClient := google.NewAuthorizedClient(ctx, session.Credential.Token())
	return gmail.NewClient(ctx, httpClient, sc.cfg.GmailOptions...)
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the server context. It is safe to call more than once.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}
