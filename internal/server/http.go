package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Transports the MCP server can be exposed on.
const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
)

// MCP endpoint paths.
const (
	PathSSE     = "/sse"
	PathMessage = "/message"
	PathMCP     = "/mcp"
)

const (
	// DefaultHTTPAddr is the default listen address of the HTTP server.
	DefaultHTTPAddr = ":8000"

	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 120 * time.Second
)

// HTTPServerConfig configures the HTTP server.
type HTTPServerConfig struct {
	Addr string
	// Transport selects the MCP endpoint. With TransportStdio the server
	// carries only the auth and health routes.
	Transport string
	Auth      AuthHandlerConfig
}

// HTTPServer serves the auth routes, health checks and at most one MCP transport.
type HTTPServer struct {
	addr       string
	handler    http.Handler
	auth       *AuthHandler
	health     *HealthChecker
	httpServer *http.Server
	logger     *slog.Logger
}

// NewHTTPServer builds the HTTP surface for mcpSrv.
func NewHTTPServer(mcpSrv *mcpserver.MCPServer, sc *ServerContext, cfg HTTPServerConfig) (*HTTPServer, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultHTTPAddr
	}

	mux := http.NewServeMux()

	switch cfg.Transport {
	case TransportStdio:
	case TransportSSE:
		sse := mcpserver.NewSSEServer(mcpSrv,
			mcpserver.WithSSEEndpoint(PathSSE),
			mcpserver.WithMessageEndpoint(PathMessage),
		)
		mux.Handle(PathSSE, sse)
		mux.Handle(PathMessage, sse)
	case TransportStreamableHTTP:
		mux.Handle(PathMCP, mcpserver.NewStreamableHTTPServer(mcpSrv,
			mcpserver.WithEndpointPath(PathMCP),
		))
	default:
		return nil, fmt.Errorf("unsupported HTTP transport: %q", cfg.Transport)
	}

	authHandler := NewAuthHandler(sc, cfg.Auth)
	authHandler.Register(mux)

	health := NewHealthChecker(sc)
	health.RegisterHealthEndpoints(mux)

	handler := otelhttp.NewHandler(recordRequests(sc, mux), "calendarmcp",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// Probes would dominate the traces.
			return r.URL.Path != "/healthz" && r.URL.Path != "/readyz"
		}),
	)

	return &HTTPServer{
		addr:    cfg.Addr,
		handler: handler,
		auth:    authHandler,
		health:  health,
		logger:  sc.Logger(),
		// No WriteTimeout: SSE and streamable responses are long-lived.
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: defaultReadHeaderTimeout,
			IdleTimeout:       defaultIdleTimeout,
		},
	}, nil
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Health returns the health checker backing /healthz and /readyz.
func (s *HTTPServer) Health() *HealthChecker {
	return s.health
}

// Addr returns the configured listen address.
func (s *HTTPServer) Addr() string {
	return s.addr
}

// Start listens and serves until Shutdown. It returns http.ErrServerClosed after a clean shutdown.
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown marks the server not ready and drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	s.auth.Close()
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		if r.status == 0 {
			r.status = http.StatusOK
		}
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// recordRequests records request metrics labelled with the matched route pattern.
func recordRequests(sc *ServerContext, next *http.ServeMux) http.Handler {
	metrics := sc.Metrics()
	if metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(r.Context(), r.Method, pattern, status, time.Since(start))
	})
}
