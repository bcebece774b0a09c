package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/calendarmcp/internal/auth"
	"github.com/teemow/calendarmcp/internal/events"
	"github.com/teemow/calendarmcp/internal/google"
	"github.com/teemow/calendarmcp/internal/instrumentation"
	"github.com/teemow/calendarmcp/internal/server"
	"github.com/teemow/calendarmcp/internal/tools/auth_tools"
	"github.com/teemow/calendarmcp/internal/tools/calendar_tools"
	"github.com/teemow/calendarmcp/internal/tools/gmail_tools"
)

const shutdownTimeout = 30 * time.Second

// storeSettings selects the session and token backend. Shared by serve and sessions.
type storeSettings struct {
	TokenStoreType string `env:"TOKEN_STORE_TYPE" envDefault:"memory"`
	TokenStoreFile string `env:"TOKEN_STORE_FILE"`

	ValkeyURL       string `env:"VALKEY_URL"`
	ValkeyPassword  string `env:"VALKEY_PASSWORD"`
	ValkeyDB        int    `env:"VALKEY_DB" envDefault:"0"`
	ValkeyKeyPrefix string `env:"VALKEY_KEY_PREFIX" envDefault:"calendarmcp:"`
	ValkeyTLS       bool   `env:"VALKEY_TLS_ENABLED" envDefault:"false"`
}

func (s storeSettings) open(ctx context.Context, logger *slog.Logger) (auth.Store, auth.PendingStore, error) {
	storeType, err := auth.ParseStoreType(s.TokenStoreType)
	if err != nil {
		return nil, nil, err
	}
	store, pending, err := auth.NewStores(ctx, auth.StoreConfig{
		Type:     storeType,
		FilePath: s.TokenStoreFile,
		Valkey: auth.ValkeyConfig{
			URL:        s.ValkeyURL,
			Password:   s.ValkeyPassword,
			DB:         s.ValkeyDB,
			KeyPrefix:  s.ValkeyKeyPrefix,
			TLSEnabled: s.ValkeyTLS,
		},
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create token store: %w", err)
	}
	return store, pending, nil
}

// serveConfig holds the serve settings. Environment variables fill it first,
// flags set on the command line override them.
type serveConfig struct {
	Transport string `env:"MCP_TRANSPORT" envDefault:"stdio"`
	HTTPAddr  string `env:"MCP_HTTP_ADDR" envDefault:":8000"`
	BaseURL   string `env:"MCP_BASE_URL"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI  string `env:"GOOGLE_REDIRECT_URI"`

	SessionExpiry time.Duration `env:"SESSION_EXPIRY" envDefault:"1h"`
	StateTTL      time.Duration `env:"AUTH_STATE_TTL" envDefault:"10m"`

	Store storeSettings

	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	MetricsAddr    string `env:"METRICS_ADDR" envDefault:":9090"`

	AuthRateLimit float64 `env:"AUTH_RATE_LIMIT" envDefault:"1"`
	AuthRateBurst int     `env:"AUTH_RATE_BURST" envDefault:"10"`
	TrustProxy    bool    `env:"TRUST_PROXY" envDefault:"false"`

	DefaultTimeZone string `env:"DEFAULT_TIMEZONE" envDefault:"UTC"`
	Yolo            bool   `env:"MCP_YOLO" envDefault:"false"`
}

func newServeCmd() *cobra.Command {
	var flags serveConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol (MCP) server providing Google Calendar and
Gmail tools for AI assistants.

Supports multiple transport types:
  - stdio: Standard input/output (default)
  - sse: Server-Sent Events on /sse and /message
  - streamable-http: Streamable HTTP on /mcp

The auth routes (/auth/start, /auth/callback, /auth/status, /auth/events)
are served on --http-addr for every transport, so the browser can complete
the Google consent flow.

Safety Mode:
  By default, the server operates in read-only mode, providing only safe operations.
  Use --yolo to enable write operations (creating events, sending email, etc.)

OAuth Configuration:
  --google-client-id and --google-client-secret flags
  OR GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars (required).
  The redirect URI defaults to <base-url>/auth/callback and must be registered
  with the Google OAuth client.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(cmd.Flags().Changed, flags)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.Transport, "transport", server.TransportStdio, "Transport type: stdio, sse or streamable-http. Can also use MCP_TRANSPORT env var.")
	f.StringVar(&flags.HTTPAddr, "http-addr", server.DefaultHTTPAddr, "HTTP server address for the auth routes and HTTP transports. Can also use MCP_HTTP_ADDR env var.")
	f.StringVar(&flags.BaseURL, "base-url", "", "Public base URL of the HTTP server. Required for deployed instances. Can also use MCP_BASE_URL env var. Example: https://mcp.example.com")
	f.StringVar(&flags.GoogleClientID, "google-client-id", "", "Google OAuth Client ID. Can also use GOOGLE_CLIENT_ID env var.")
	f.StringVar(&flags.GoogleClientSecret, "google-client-secret", "", "Google OAuth Client Secret. Can also use GOOGLE_CLIENT_SECRET env var.")
	f.StringVar(&flags.GoogleRedirectURI, "google-redirect-uri", "", "OAuth redirect URI (default: <base-url>/auth/callback). Can also use GOOGLE_REDIRECT_URI env var.")
	f.DurationVar(&flags.SessionExpiry, "session-expiry", auth.DefaultSessionExpiry, "Idle time after which a session expires. Can also use SESSION_EXPIRY env var.")
	f.DurationVar(&flags.StateTTL, "auth-state-ttl", auth.DefaultStateTTL, "Lifetime of a pending authorization. Can also use AUTH_STATE_TTL env var.")
	f.StringVar(&flags.Store.TokenStoreType, "token-store-type", string(auth.StoreMemory), "Token storage type: memory, file or valkey. Can also use TOKEN_STORE_TYPE env var.")
	f.StringVar(&flags.Store.TokenStoreFile, "token-store-file", "", "Path of the file token store. Can also use TOKEN_STORE_FILE env var.")
	f.StringVar(&flags.Store.ValkeyURL, "valkey-url", "", "Valkey server address (e.g., valkey.namespace.svc:6379). Can also use VALKEY_URL env var.")
	f.StringVar(&flags.Store.ValkeyPassword, "valkey-password", "", "Valkey authentication password. Can also use VALKEY_PASSWORD env var.")
	f.IntVar(&flags.Store.ValkeyDB, "valkey-db", 0, "Valkey database number. Can also use VALKEY_DB env var.")
	f.StringVar(&flags.Store.ValkeyKeyPrefix, "valkey-key-prefix", auth.DefaultValkeyKeyPrefix, "Prefix for all Valkey keys. Can also use VALKEY_KEY_PREFIX env var.")
	f.BoolVar(&flags.Store.ValkeyTLS, "valkey-tls", false, "Enable TLS for Valkey connections. Can also use VALKEY_TLS_ENABLED env var.")
	f.BoolVar(&flags.MetricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	f.StringVar(&flags.MetricsAddr, "metrics-addr", ":9090", "Metrics server address. Can also use METRICS_ADDR env var.")
	f.Float64Var(&flags.AuthRateLimit, "auth-rate-limit", server.DefaultAuthRateLimit, "Sustained /auth/start requests per second per client IP. Can also use AUTH_RATE_LIMIT env var.")
	f.IntVar(&flags.AuthRateBurst, "auth-rate-burst", server.DefaultAuthRateBurst, "Burst of /auth/start requests per client IP. Can also use AUTH_RATE_BURST env var.")
	f.BoolVar(&flags.TrustProxy, "trust-proxy", false, "Take the client IP from X-Forwarded-For. Only enable behind a reverse proxy. Can also use TRUST_PROXY env var.")
	f.StringVar(&flags.DefaultTimeZone, "default-timezone", "UTC", "IANA time zone for events created without one. Can also use DEFAULT_TIMEZONE env var.")
	f.BoolVar(&flags.Yolo, "yolo", false, "Enable write operations (creating events, sending email, etc.). Default is read-only mode.")

	return cmd
}

// loadServeConfig parses the environment and applies the flags that were set explicitly.
func loadServeConfig(changed func(name string) bool, flags serveConfig) (serveConfig, error) {
	cfg, err := env.ParseAs[serveConfig]()
	if err != nil {
		return serveConfig{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	override(changed, "transport", &cfg.Transport, flags.Transport)
	override(changed, "http-addr", &cfg.HTTPAddr, flags.HTTPAddr)
	override(changed, "base-url", &cfg.BaseURL, flags.BaseURL)
	override(changed, "google-client-id", &cfg.GoogleClientID, flags.GoogleClientID)
	override(changed, "google-client-secret", &cfg.GoogleClientSecret, flags.GoogleClientSecret)
	override(changed, "google-redirect-uri", &cfg.GoogleRedirectURI, flags.GoogleRedirectURI)
	override(changed, "session-expiry", &cfg.SessionExpiry, flags.SessionExpiry)
	override(changed, "auth-state-ttl", &cfg.StateTTL, flags.StateTTL)
	override(changed, "token-store-type", &cfg.Store.TokenStoreType, flags.Store.TokenStoreType)
	override(changed, "token-store-file", &cfg.Store.TokenStoreFile, flags.Store.TokenStoreFile)
	override(changed, "valkey-url", &cfg.Store.ValkeyURL, flags.Store.ValkeyURL)
	override(changed, "valkey-password", &cfg.Store.ValkeyPassword, flags.Store.ValkeyPassword)
	override(changed, "valkey-db", &cfg.Store.ValkeyDB, flags.Store.ValkeyDB)
	override(changed, "valkey-key-prefix", &cfg.Store.ValkeyKeyPrefix, flags.Store.ValkeyKeyPrefix)
	override(changed, "valkey-tls", &cfg.Store.ValkeyTLS, flags.Store.ValkeyTLS)
	override(changed, "metrics-enabled", &cfg.MetricsEnabled, flags.MetricsEnabled)
	override(changed, "metrics-addr", &cfg.MetricsAddr, flags.MetricsAddr)
	override(changed, "auth-rate-limit", &cfg.AuthRateLimit, flags.AuthRateLimit)
	override(changed, "auth-rate-burst", &cfg.AuthRateBurst, flags.AuthRateBurst)
	override(changed, "trust-proxy", &cfg.TrustProxy, flags.TrustProxy)
	override(changed, "default-timezone", &cfg.DefaultTimeZone, flags.DefaultTimeZone)
	override(changed, "yolo", &cfg.Yolo, flags.Yolo)

	if err := cfg.validate(); err != nil {
		return serveConfig{}, err
	}
	return cfg, nil
}

func override[T any](changed func(string) bool, name string, dst *T, value T) {
	if changed(name) {
		*dst = value
	}
}

func (c serveConfig) validate() error {
	var errs []error
	switch c.Transport {
	case server.TransportStdio, server.TransportSSE, server.TransportStreamableHTTP:
	default:
		errs = append(errs, fmt.Errorf("unsupported transport type: %s (supported: stdio, sse, streamable-http)", c.Transport))
	}
	if _, err := auth.ParseStoreType(c.Store.TokenStoreType); err != nil {
		errs = append(errs, err)
	}
	if _, err := time.LoadLocation(c.DefaultTimeZone); err != nil {
		errs = append(errs, fmt.Errorf("invalid default timezone %q: %w", c.DefaultTimeZone, err))
	}
	if c.SessionExpiry <= 0 {
		errs = append(errs, errors.New("session expiry must be positive"))
	}
	if c.StateTTL <= 0 {
		errs = append(errs, errors.New("auth state TTL must be positive"))
	}
	return errors.Join(errs...)
}

// publicBaseURL returns the configured base URL, or one derived from the listen address.
func (c serveConfig) publicBaseURL() string {
	if c.BaseURL != "" {
		return strings.TrimSuffix(c.BaseURL, "/")
	}
	if strings.HasPrefix(c.HTTPAddr, ":") {
		return "http://localhost" + c.HTTPAddr
	}
	return "http://" + c.HTTPAddr
}

// redirectURI returns the OAuth callback URL registered with Google.
func (c serveConfig) redirectURI() (string, error) {
	if c.GoogleRedirectURI != "" {
		return c.GoogleRedirectURI, nil
	}
	return url.JoinPath(c.publicBaseURL(), server.PathAuthCallback)
}

func runServe(ctx context.Context, cfg serveConfig) error {
	logger := slog.Default()

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during instrumentation shutdown", "error", err)
		}
	}()

	var metrics *instrumentation.Metrics
	if provider.Enabled() {
		metrics = provider.Metrics()
	}

	store, pending, err := cfg.Store.open(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pending.Close(); err != nil {
			logger.Warn("Error closing pending store", "error", err)
		}
		if err := store.Close(); err != nil {
			logger.Warn("Error closing token store", "error", err)
		}
	}()

	redirectURI, err := cfg.redirectURI()
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	oauthConfig, err := google.NewOAuth2Config(google.OAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  redirectURI,
	})
	if err != nil {
		return fmt.Errorf("invalid Google OAuth configuration: %w", err)
	}
	gateway := auth.NewGoogleGateway(oauthConfig)

	brokerOpts := []events.Option{events.WithLogger(logger)}
	registryConfig := auth.RegistryConfig{
		SessionExpiry: cfg.SessionExpiry,
		SweepInterval: auth.DefaultSweepInterval,
		Logger:        logger,
	}
	flowConfig := auth.FlowConfig{
		StateTTL: cfg.StateTTL,
		Scopes:   google.DefaultOAuthScopes,
		Logger:   logger,
	}
	if metrics != nil {
		brokerOpts = append(brokerOpts, events.WithRecorder(metrics))
		registryConfig.Metrics = metrics
		flowConfig.Metrics = metrics
	}

	broker := events.NewBroker(brokerOpts...)
	defer broker.Close()
	flowConfig.Events = broker

	registry := auth.NewRegistry(store, gateway, registryConfig)
	defer registry.Close()
	flow := auth.NewFlow(registry, pending, gateway, flowConfig)

	serverConfig := server.Config{
		Registry:        registry,
		Flow:            flow,
		Events:          broker,
		Logger:          logger,
		DefaultTimeZone: cfg.DefaultTimeZone,
		ReadOnly:        !cfg.Yolo,
	}
	if metrics != nil {
		serverConfig.Metrics = metrics
		serverConfig.AuditLogger = instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging)
	}
	serverContext, err := server.NewServerContext(ctx, serverConfig)
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Warn("Error during server context shutdown", "error", err)
		}
	}()

	mcpSrv := mcpserver.NewMCPServer("calendarmcp", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
	)
	if err := registerAllTools(mcpSrv, serverContext); err != nil {
		return err
	}

	if serverContext.ReadOnly() {
		logger.Info("Starting server in READ-ONLY mode (use --yolo to enable write operations)")
	} else {
		logger.Info("Starting server with WRITE operations enabled (--yolo flag is set)")
	}

	go server.NewMCPNotifier(broker, mcpSrv, logger).Run(ctx)

	var metricsServer *server.MetricsServer
	if cfg.MetricsEnabled && provider.PrometheusHandler() != nil {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.MetricsAddr,
			Enabled:                 true,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	httpServer, err := server.NewHTTPServer(mcpSrv, serverContext, server.HTTPServerConfig{
		Addr:      cfg.HTTPAddr,
		Transport: cfg.Transport,
		Auth: server.AuthHandlerConfig{
			RateLimit:  cfg.AuthRateLimit,
			RateBurst:  cfg.AuthRateBurst,
			TrustProxy: cfg.TrustProxy,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	logger.Info("Serving",
		"transport", cfg.Transport,
		"http_addr", cfg.HTTPAddr,
		"base_url", cfg.publicBaseURL(),
		"redirect_uri", redirectURI,
		"token_store", cfg.Store.TokenStoreType)

	return serve(ctx, cfg.Transport, mcpSrv, httpServer, metricsServer, logger)
}

// serve runs the servers until ctx is done or one of them fails, then shuts all of them down.
func serve(ctx context.Context, transport string, mcpSrv *mcpserver.MCPServer, httpServer *server.HTTPServer, metricsServer *server.MetricsServer, logger *slog.Logger) error {
	errCh := make(chan error, 3)

	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}()
	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server stopped with error: %w", err)
			}
		}()
	}
	stdioDone := make(chan struct{})
	if transport == server.TransportStdio {
		go func() {
			defer close(stdioDone)
			if err := mcpserver.ServeStdio(mcpSrv); err != nil {
				errCh <- fmt.Errorf("stdio server stopped with error: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case <-stdioDone:
		logger.Info("stdio transport closed")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error during HTTP server shutdown", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during metrics server shutdown", "error", err)
		}
	}
	return runErr
}

// registerAllTools registers every tool group on mcpSrv.
func registerAllTools(mcpSrv *mcpserver.MCPServer, sc *server.ServerContext) error {
	registrations := []struct {
		name     string
		register func(*mcpserver.MCPServer, *server.ServerContext) error
	}{
		{name: "Auth", register: auth_tools.RegisterAuthTools},
		{name: "Calendar", register: calendar_tools.RegisterCalendarTools},
		{name: "Gmail", register: gmail_tools.RegisterGmailTools},
	}

	for _, reg := range registrations {
		if err := reg.register(mcpSrv, sc); err != nil {
			return fmt.Errorf("failed to register %s tools: %w", reg.name, err)
		}
	}
	return nil
}
