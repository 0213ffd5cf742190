// ABOUTME: Root command for the devcapture CLI
// ABOUTME: Sets up global flags, config loading and subcommands

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/devcapture/internal/client"
	"github.com/hikmaai-io/devcapture/internal/config"
	"github.com/hikmaai-io/devcapture/internal/observability"
)

// Global flags.
var (
	cfgFile   string
	serverURL string
	logLevel  string
	logFormat string
	noColor   bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devcapture",
		Short: "devcapture - runtime error capture for component development",
		Long: `devcapture collects runtime errors reported by components running in a
local dev server. Errors are parsed, deduplicated by signature and kept in
a bounded in-memory store that the CLI can list, summarize, export and clear.

Run "devcapture serve" to start a capture server, then point the browser-side
reporter at POST /_dev/errors.`,
		SilenceUsage: true,
	}

	// Global flags.
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: $XDG_CONFIG_HOME/devcapture/config.yaml)")
	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "capture server URL (default: from config host and port)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text, auto)")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")

	// Add subcommands.
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newSnapshotCmd())
	cmd.AddCommand(newTailCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "devcapture version %s\n", version)
			fmt.Fprintf(out, "  Git SHA:    %s\n", gitSHA)
			fmt.Fprintf(out, "  Build Time: %s\n", buildTime)
		},
	}
}

// loadConfig reads the config file and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

// newLogger builds the process logger on stderr.
func newLogger(cfg *config.Config) *slog.Logger {
	return observability.NewLogger(observability.LoggingConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "devcapture",
		Version:     version,
	}, os.Stderr)
}

// newAPIClient returns a client for --server or the configured server.
func newAPIClient(cfg *config.Config) *client.Client {
	base := serverURL
	if base == "" {
		base = cfg.Server.BaseURL()
	}
	return client.New(client.Config{BaseURL: base})
}

// colorize reports whether output to w should carry ANSI colors.
func colorize(w io.Writer) bool {
	return !noColor && observability.IsTerminal(w)
}
