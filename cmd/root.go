package cmd

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teemow/calendarmcp/internal/logging"
)

var (
	debugMode bool
	logFormat string
)

// rootCmd represents the base command for the calendarmcp application
var rootCmd = &cobra.Command{
	Use:   "calendarmcp",
	Short: "MCP server for Google Calendar and Gmail",
	Long: `calendarmcp exposes Google Calendar and Gmail to AI assistants over the
Model Context Protocol.

Every assistant session authorizes with its own Google account through a
browser-based OAuth flow. Tokens are refreshed transparently and kept per
session in memory, a local file or Valkey.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is fine; a malformed one is not.
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		// Logs go to stderr: stdout carries the stdio transport.
		slog.SetDefault(logging.NewLogger(os.Stderr, logFormat, debugMode))
		return nil
	},
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "calendarmcp version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatText, "Log format: text or json")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
	rootCmd.AddCommand(newVersionCmd())
}
