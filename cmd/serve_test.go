package cmd

import (
	"testing"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/calendarmcp/internal/server"
	"github.com/teemow/calendarmcp/internal/tools/toolstest"
)

func noFlagsChanged(string) bool { return false }

func changedFlags(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func TestLoadServeConfig_Defaults(t *testing.T) {
	t.Setenv("MCP_TRANSPORT", "")
	t.Setenv("TOKEN_STORE_TYPE", "")
	t.Setenv("DEFAULT_TIMEZONE", "")

	cfg, err := loadServeConfig(noFlagsChanged, serveConfig{})
	require.NoError(t, err)

	assert.Equal(t, server.TransportStdio, cfg.Transport)
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, time.Hour, cfg.SessionExpiry)
	assert.Equal(t, 10*time.Minute, cfg.StateTTL)
	assert.Equal(t, "memory", cfg.Store.TokenStoreType)
	assert.Equal(t, "calendarmcp:", cfg.Store.ValkeyKeyPrefix)
	assert.Equal(t, "UTC", cfg.DefaultTimeZone)
	assert.True(t, cfg.MetricsEnabled)
	assert.False(t, cfg.Yolo)
}

func TestLoadServeConfig_Environment(t *testing.T) {
	t.Setenv("MCP_TRANSPORT", "streamable-http")
	t.Setenv("TOKEN_STORE_TYPE", "file")
	t.Setenv("TOKEN_STORE_FILE", "/var/lib/calendarmcp/sessions.json")
	t.Setenv("SESSION_EXPIRY", "30m")
	t.Setenv("DEFAULT_TIMEZONE", "Europe/Berlin")
	t.Setenv("MCP_YOLO", "true")

	cfg, err := loadServeConfig(noFlagsChanged, serveConfig{})
	require.NoError(t, err)

	assert.Equal(t, server.TransportStreamableHTTP, cfg.Transport)
	assert.Equal(t, "file", cfg.Store.TokenStoreType)
	assert.Equal(t, "/var/lib/calendarmcp/sessions.json", cfg.Store.TokenStoreFile)
	assert.Equal(t, 30*time.Minute, cfg.SessionExpiry)
	assert.Equal(t, "Europe/Berlin", cfg.DefaultTimeZone)
	assert.True(t, cfg.Yolo)
}

func TestLoadServeConfig_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("MCP_TRANSPORT", "sse")
	t.Setenv("MCP_HTTP_ADDR", ":9999")
	t.Setenv("TOKEN_STORE_TYPE", "")
	t.Setenv("DEFAULT_TIMEZONE", "")

	flags := serveConfig{
		Transport: server.TransportStreamableHTTP,
		HTTPAddr:  ":7000",
	}
	// Only transport was passed on the command line.
	cfg, err := loadServeConfig(changedFlags("transport"), flags)
	require.NoError(t, err)

	assert.Equal(t, server.TransportStreamableHTTP, cfg.Transport)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
}

func TestLoadServeConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown transport",
			env:     map[string]string{"MCP_TRANSPORT": "websocket"},
			wantErr: "unsupported transport type: websocket",
		},
		{
			name:    "unknown store",
			env:     map[string]string{"TOKEN_STORE_TYPE": "postgres"},
			wantErr: "postgres",
		},
		{
			name:    "unknown timezone",
			env:     map[string]string{"DEFAULT_TIMEZONE": "Mars/Olympus"},
			wantErr: "invalid default timezone",
		},
		{
			name:    "non-positive session expiry",
			env:     map[string]string{"SESSION_EXPIRY": "0s"},
			wantErr: "session expiry must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MCP_TRANSPORT", "")
			t.Setenv("TOKEN_STORE_TYPE", "")
			t.Setenv("DEFAULT_TIMEZONE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := loadServeConfig(noFlagsChanged, serveConfig{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServeConfig_PublicBaseURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  serveConfig
		want string
	}{
		{name: "port only", cfg: serveConfig{HTTPAddr: ":8000"}, want: "http://localhost:8000"},
		{name: "host and port", cfg: serveConfig{HTTPAddr: "127.0.0.1:8080"}, want: "http://127.0.0.1:8080"},
		{name: "explicit base", cfg: serveConfig{HTTPAddr: ":8000", BaseURL: "https://cal.example.com/"}, want: "https://cal.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.publicBaseURL())
		})
	}
}

func TestServeConfig_RedirectURI(t *testing.T) {
	cfg := serveConfig{BaseURL: "https://cal.example.com"}
	uri, err := cfg.redirectURI()
	require.NoError(t, err)
	assert.Equal(t, "https://cal.example.com"+server.PathAuthCallback, uri)

	cfg.GoogleRedirectURI = "https://other.example.com/cb"
	uri, err = cfg.redirectURI()
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com/cb", uri)
}

func toolNames(s *mcpserver.MCPServer) map[string]bool {
	names := make(map[string]bool)
	for name := range s.ListTools() {
		names[name] = true
	}
	return names
}

func TestRegisterAllTools_ReadOnly(t *testing.T) {
	env := toolstest.New(t, toolstest.Options{ReadOnly: true})
	s := mcpserver.NewMCPServer("test", "dev", mcpserver.WithToolCapabilities(true))

	require.NoError(t, registerAllTools(s, env.SC))
	names := toolNames(s)

	for _, name := range []string{"get_auth_status", "revoke_auth", "list_calendar_events", "search_calendar_events", "list_emails", "get_email", "get_labels"} {
		assert.True(t, names[name], "missing %s", name)
	}
	for _, name := range []string{"create_calendar_event", "update_calendar_event", "delete_calendar_event", "send_email"} {
		assert.False(t, names[name], "%s must not be registered in read-only mode", name)
	}
}

func TestRegisterAllTools_Yolo(t *testing.T) {
	env := toolstest.New(t, toolstest.Options{})
	s := mcpserver.NewMCPServer("test", "dev", mcpserver.WithToolCapabilities(true))

	require.NoError(t, registerAllTools(s, env.SC))
	names := toolNames(s)

	for _, name := range []string{"create_calendar_event", "update_calendar_event", "delete_calendar_event", "send_email"} {
		assert.True(t, names[name], "missing %s", name)
	}
}
