// ABOUTME: Commands that query and manage errors on a running capture server
// ABOUTME: list, stats, clear and report talk to the server over HTTP

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hikmaai-io/devcapture/internal/client"
	"github.com/hikmaai-io/devcapture/internal/format"
	"github.com/hikmaai-io/devcapture/internal/types"
)

func newListCmd() *cobra.Command {
	var (
		component string
		severity  string
		limit     int
		asJSON    bool
		full      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List captured errors",
		Long: `List errors captured by a running server, most recent first.

Examples:
  devcapture list
  devcapture list --component UserCard --severity warning
  devcapture list --full --limit 5
  devcapture list --json > errors.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if severity != "" {
				if _, ok := types.ParseSeverity(severity); !ok {
					return fmt.Errorf("invalid severity %q (use error, warning or fatal)", severity)
				}
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			errs, err := newAPIClient(cfg).List(cmd.Context(), client.Query{
				Component: component,
				Severity:  severity,
				Limit:     limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSONOut(out, errs)
			}
			renderList(out, errs, full, colorize(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&component, "component", "", "only errors from this component")
	cmd.Flags().StringVar(&severity, "severity", "", "only errors with this severity (error, warning, fatal)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum errors to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON payloads")
	cmd.Flags().BoolVar(&full, "full", false, "print full error blocks with stack traces")

	return cmd
}

// renderList prints errs either as full blocks or one line each.
func renderList(w io.Writer, errs []*types.ErrorPayload, full, color bool) {
	if len(errs) == 0 {
		fmt.Fprintln(w, "No errors captured")
		return
	}
	for _, p := range errs {
		if full {
			fmt.Fprintln(w, format.FormatErrorForCLI(p, format.Options{Colorize: color}))
			continue
		}
		fmt.Fprintln(w, format.FormatErrorCompact(p, color))
	}
}

func newStatsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show error statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			stats, err := newAPIClient(cfg).Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSONOut(out, stats)
			}
			fmt.Fprint(out, format.FormatErrorStatistics(stats, colorize(out)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print statistics as JSON")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all captured errors from the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			n, err := newAPIClient(cfg).Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d errors\n", n)
			return nil
		},
	}
}

// reportOptions holds the flags of the report command.
type reportOptions struct {
	message   string
	name      string
	component string
	severity  string
	stackFile string
	file      string
	line      int
	column    int
}

func newReportCmd() *cobra.Command {
	var opts reportOptions

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Send an error report to the server",
		Long: `Build an error payload and post it to a running server. Useful for
reporting errors from scripts and for checking a server end to end.

The server parses --stack-file and fills the source location and component
from it when they are not given.

Examples:
  devcapture report --message "x is undefined" --component UserCard
  node app.js 2>&1 | devcapture report --message "crash" --stack-file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := buildReport(opts, cmd.InOrStdin(), time.Now())
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			id, err := newAPIClient(cfg).Capture(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Captured %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "error message (required)")
	cmd.Flags().StringVar(&opts.name, "name", "Error", "error type name")
	cmd.Flags().StringVar(&opts.component, "component", "", "component name")
	cmd.Flags().StringVar(&opts.severity, "severity", "error", "severity (error, warning, fatal)")
	cmd.Flags().StringVar(&opts.stackFile, "stack-file", "", `file holding a raw stack trace ("-" for stdin)`)
	cmd.Flags().StringVar(&opts.file, "file", "", "source file name")
	cmd.Flags().IntVar(&opts.line, "line", 0, "source line number")
	cmd.Flags().IntVar(&opts.column, "column", 0, "source column number")
	_ = cmd.MarkFlagRequired("message")

	return cmd
}

// buildReport assembles a payload from report flags.
func buildReport(opts reportOptions, stdin io.Reader, now time.Time) (*types.ErrorPayload, error) {
	if strings.TrimSpace(opts.message) == "" {
		return nil, fmt.Errorf("--message must not be empty")
	}
	sev, ok := types.ParseSeverity(opts.severity)
	if !ok {
		return nil, fmt.Errorf("invalid severity %q (use error, warning or fatal)", opts.severity)
	}

	var stack string
	switch opts.stackFile {
	case "":
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stack from stdin: %w", err)
		}
		stack = string(data)
	default:
		data, err := os.ReadFile(opts.stackFile)
		if err != nil {
			return nil, fmt.Errorf("reading stack file: %w", err)
		}
		stack = string(data)
	}

	name := opts.name
	if name == "" {
		name = "Error"
	}

	return &types.ErrorPayload{
		ErrorID:   uuid.NewString(),
		Timestamp: now.UTC().Format(time.RFC3339),
		Error: types.ErrorInfo{
			Message:        opts.message,
			Name:           name,
			Stack:          stack,
			SanitizedStack: []types.StackFrame{},
		},
		Component: types.ComponentInfo{Name: opts.component},
		Source: types.SourceLocation{
			FileName:     opts.file,
			LineNumber:   opts.line,
			ColumnNumber: opts.column,
		},
		Metadata: types.Metadata{Severity: sev},
	}, nil
}

// writeJSONOut prints v as indented JSON.
func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
