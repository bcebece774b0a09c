package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/teemow/calendarmcp/internal/auth"
	"github.com/teemow/calendarmcp/internal/logging"
)

type sessionsConfig struct {
	Store         storeSettings
	SessionExpiry time.Duration `env:"SESSION_EXPIRY" envDefault:"1h"`
}

func newSessionsCmd() *cobra.Command {
	var flags sessionsConfig

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
		Long: `Inspect and manage the sessions kept in the configured token store.

The store is selected like for serve: TOKEN_STORE_TYPE, TOKEN_STORE_FILE and
the VALKEY_* environment variables, or the flags below. The in-memory store
only lives inside a running server and cannot be inspected from here.`,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.Store.TokenStoreType, "token-store-type", "", "Token storage type: file or valkey. Can also use TOKEN_STORE_TYPE env var.")
	pf.StringVar(&flags.Store.TokenStoreFile, "token-store-file", "", "Path of the file token store. Can also use TOKEN_STORE_FILE env var.")
	pf.DurationVar(&flags.SessionExpiry, "session-expiry", auth.DefaultSessionExpiry, "Idle time after which a session expires. Can also use SESSION_EXPIRY env var.")

	open := func(cmd *cobra.Command) (*auth.Registry, func(), error) {
		cfg, err := loadSessionsConfig(cmd.Flags().Changed, flags)
		if err != nil {
			return nil, nil, err
		}
		return openRegistry(cmd.Context(), cfg, slog.Default())
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, closeFn, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			sessions, err := registry.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			if asJSON {
				return writeSessionsJSON(cmd.OutOrStdout(), sessions)
			}
			return writeSessionsTable(cmd.OutOrStdout(), sessions)
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "Print sessions as JSON")

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Expire idle sessions and delete old tombstones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, closeFn, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := registry.ExpireIdleSessions(cmd.Context(), time.Now())
			if err != nil {
				return fmt.Errorf("failed to purge sessions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d idle session(s)\n", n)
			return nil
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke SESSION_ID",
		Short: "Revoke a session's Google credential and expire it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, closeFn, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := registry.Revoke(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to revoke session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s revoked\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, purge, revoke)
	return cmd
}

func loadSessionsConfig(changed func(string) bool, flags sessionsConfig) (sessionsConfig, error) {
	cfg, err := env.ParseAs[sessionsConfig]()
	if err != nil {
		return sessionsConfig{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	override(changed, "token-store-type", &cfg.Store.TokenStoreType, flags.Store.TokenStoreType)
	override(changed, "token-store-file", &cfg.Store.TokenStoreFile, flags.Store.TokenStoreFile)
	override(changed, "session-expiry", &cfg.SessionExpiry, flags.SessionExpiry)

	storeType, err := auth.ParseStoreType(cfg.Store.TokenStoreType)
	if err != nil {
		return sessionsConfig{}, err
	}
	if storeType == auth.StoreMemory {
		return sessionsConfig{}, fmt.Errorf("the memory store cannot be managed offline, use --token-store-type file or valkey")
	}
	return cfg, nil
}

// openRegistry opens the configured store without a background sweep.
// The returned func closes everything it opened.
func openRegistry(ctx context.Context, cfg sessionsConfig, logger *slog.Logger) (*auth.Registry, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	store, pending, err := cfg.Store.open(ctx, logger)
	if err != nil {
		return nil, nil, err
	}

	// Only revocation reaches Google, and it needs no client registration.
	gateway := auth.NewGoogleGateway(&oauth2.Config{})
	registry := auth.NewRegistry(store, gateway, auth.RegistryConfig{
		SessionExpiry: cfg.SessionExpiry,
		Logger:        logger,
	})

	return registry, func() {
		registry.Close()
		_ = pending.Close()
		_ = store.Close()
	}, nil
}

type sessionView struct {
	ID           string            `json:"session_id"`
	State        auth.SessionState `json:"state"`
	UserIdentity string            `json:"user_identity,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastUsedAt   time.Time         `json:"last_used_at"`
	LastError    string            `json:"last_error,omitempty"`
}

func toSessionView(s *auth.Session) sessionView {
	return sessionView{
		ID:           s.ID,
		State:        s.State,
		UserIdentity: logging.AnonymizeEmail(s.UserIdentity),
		CreatedAt:    s.CreatedAt,
		LastUsedAt:   s.LastUsedAt,
		LastError:    s.LastError,
	}
}

func writeSessionsJSON(w io.Writer, sessions []*auth.Session) error {
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, toSessionView(s))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}

func writeSessionsTable(w io.Writer, sessions []*auth.Session) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions found.")
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Session", "State", "User", "Created", "Last Used"})
	for _, s := range sessions {
		v := toSessionView(s)
		user := v.UserIdentity
		if user == "" {
			user = "-"
		}
		t.AppendRow(table.Row{
			v.ID,
			v.State,
			user,
			v.CreatedAt.UTC().Format(time.RFC3339),
			v.LastUsedAt.UTC().Format(time.RFC3339),
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
	return nil
}
