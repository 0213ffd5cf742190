// ABOUTME: Export, import and offline show commands for captured errors
// ABOUTME: Moves JSON exports between servers, files, the archive and GCS

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/devcapture/internal/archive"
	"github.com/hikmaai-io/devcapture/internal/config"
	"github.com/hikmaai-io/devcapture/internal/format"
	"github.com/hikmaai-io/devcapture/internal/gcs"
	"github.com/hikmaai-io/devcapture/internal/observability"
	"github.com/hikmaai-io/devcapture/internal/store"
	"github.com/hikmaai-io/devcapture/internal/types"
)

// defaultShowLimit is how many recent errors show prints without filters.
const defaultShowLimit = 50

func newExportCmd() *cobra.Command {
	var (
		outFile   string
		toGCS     bool
		toArchive bool
		label     string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export captured errors as JSON",
		Long: `Export every error held by a running server as a JSON array.

Without --out, --gcs or --archive the export is written to stdout.

Examples:
  devcapture export > errors.json
  devcapture export --out errors.json
  devcapture export --gcs
  devcapture export --archive --label "nightly"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			ctx := cmd.Context()
			audit := observability.NewAuditLogger(newLogger(cfg))

			data, err := newAPIClient(cfg).Export(ctx)
			if err != nil {
				return err
			}
			count := countEntries(data)
			out := cmd.OutOrStdout()

			if outFile == "" && !toGCS && !toArchive {
				_, err := out.Write(append(data, '\n'))
				return err
			}

			if outFile != "" {
				if err := os.WriteFile(outFile, data, 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", outFile, err)
				}
				audit.LogExport(ctx, outFile, count)
				fmt.Fprintf(out, "Exported %d errors to %s\n", count, outFile)
			}

			if toGCS {
				obj, err := uploadExport(ctx, cfg, data, time.Now())
				if err != nil {
					return err
				}
				audit.LogExport(ctx, obj.URI, count)
				fmt.Fprintf(out, "Exported %d errors to %s\n", count, obj.URI)
			}

			if toArchive {
				a, err := archive.Open(archive.Config{Path: cfg.Archive.Dir})
				if err != nil {
					return fmt.Errorf("opening archive: %w", err)
				}
				defer a.Close()

				snap, err := a.Save(ctx, label, data)
				if err != nil {
					return err
				}
				audit.LogExport(ctx, "archive:"+snap.ID, count)
				fmt.Fprintf(out, "Exported %d errors to snapshot %s\n", count, snap.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the export to this file")
	cmd.Flags().BoolVar(&toGCS, "gcs", false, "upload the export to the configured GCS bucket")
	cmd.Flags().BoolVar(&toArchive, "archive", false, "save the export as a snapshot in the local archive")
	cmd.Flags().StringVar(&label, "label", "", "snapshot label with --archive")

	return cmd
}

// uploadExport stores data in the configured bucket under a timestamped name.
func uploadExport(ctx context.Context, cfg *config.Config, data []byte, at time.Time) (*gcs.Object, error) {
	gc, err := newGCSClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer gc.Close()

	return gc.Upload(ctx, gcs.ExportObjectName(at), data)
}

func newGCSClient(ctx context.Context, cfg *config.Config) (*gcs.Client, error) {
	return gcs.NewClient(ctx, gcs.Config{
		Bucket:          cfg.GCS.Bucket,
		Prefix:          cfg.GCS.Prefix,
		CredentialsFile: cfg.GCS.CredentialsFile,
		EmulatorHost:    cfg.GCS.EmulatorHost,
	})
}

// source selects where import and show read an export from.
type source struct {
	file     string
	gcs      string
	snapshot string
}

func (s source) describe() string {
	switch {
	case s.gcs != "":
		return "gcs:" + s.gcs
	case s.snapshot != "":
		return "archive:" + s.snapshot
	default:
		return s.file
	}
}

// readSource loads export bytes from a file, stdin, GCS or the archive.
func readSource(ctx context.Context, cfg *config.Config, src source, stdin io.Reader) ([]byte, error) {
	set := 0
	for _, v := range []string{src.file, src.gcs, src.snapshot} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("give exactly one of FILE, --gcs or --snapshot")
	}

	switch {
	case src.gcs != "":
		gc, err := newGCSClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		defer gc.Close()

		obj, err := gc.Download(ctx, src.gcs)
		if err != nil {
			return nil, err
		}
		return obj.Data, nil

	case src.snapshot != "":
		a, err := archive.Open(archive.Config{Path: cfg.Archive.Dir})
		if err != nil {
			return nil, fmt.Errorf("opening archive: %w", err)
		}
		defer a.Close()

		_, data, err := a.Load(ctx, src.snapshot)
		return data, err

	case src.file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil

	default:
		data, err := os.ReadFile(src.file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", src.file, err)
		}
		return data, nil
	}
}

func newImportCmd() *cobra.Command {
	var src source

	cmd := &cobra.Command{
		Use:   "import [FILE]",
		Short: "Send an exported JSON array to a running server",
		Long: `Post every entry of an export to a running server. Entries that are
null or that the server rejects are skipped. Occurrence counts restart
at one on the receiving server.

Examples:
  devcapture import errors.json
  devcapture import --snapshot latest
  devcapture import --gcs gs://bucket/devcapture/errors-20261018T100000Z.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				src.file = args[0]
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			ctx := cmd.Context()
			audit := observability.NewAuditLogger(newLogger(cfg))

			data, err := readSource(ctx, cfg, src, cmd.InOrStdin())
			if err != nil {
				audit.LogImport(ctx, src.describe(), 0, err)
				return err
			}

			res, err := newAPIClient(cfg).Import(ctx, data)
			audit.LogImport(ctx, src.describe(), res.Sent+res.Skipped, err)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d errors (%d skipped)\n", res.Sent, res.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&src.gcs, "gcs", "", "read the export from this GCS object or gs:// URI")
	cmd.Flags().StringVar(&src.snapshot, "snapshot", "", `read the export from this archive snapshot ("latest" for the newest)`)

	return cmd
}

// showOptions holds the filters of the show command.
type showOptions struct {
	id        string
	component string
	severity  string
	limit     int
	fullStack bool
}

func newShowCmd() *cobra.Command {
	var (
		src  source
		opts showOptions
	)

	cmd := &cobra.Command{
		Use:   "show [FILE]",
		Short: "Inspect an export without a running server",
		Long: `Load an export into a local store and print it. Without filters show
prints a summary grouped by component followed by statistics.

Examples:
  devcapture show errors.json
  devcapture show --snapshot latest --component UserCard
  devcapture show errors.json --id 5f1c...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				src.file = args[0]
			}
			if opts.severity != "" {
				if _, ok := types.ParseSeverity(opts.severity); !ok {
					return fmt.Errorf("invalid severity %q (use error, warning or fatal)", opts.severity)
				}
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			data, err := readSource(cmd.Context(), cfg, src, cmd.InOrStdin())
			if err != nil {
				return err
			}

			st := store.New(store.Config{MaxSize: cfg.Store.MaxSize})
			if st.ImportFromJSON(data) == 0 && countEntries(data) < 0 {
				return fmt.Errorf("%s is not a JSON array of errors", src.describe())
			}

			out := cmd.OutOrStdout()
			return renderShow(out, st, opts, colorize(out))
		},
	}

	cmd.Flags().StringVar(&src.gcs, "gcs", "", "read the export from this GCS object or gs:// URI")
	cmd.Flags().StringVar(&src.snapshot, "snapshot", "", `read the export from this archive snapshot ("latest" for the newest)`)
	cmd.Flags().StringVar(&opts.id, "id", "", "print one error in full")
	cmd.Flags().StringVar(&opts.component, "component", "", "only errors from this component")
	cmd.Flags().StringVar(&opts.severity, "severity", "", "only errors with this severity")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", defaultShowLimit, "maximum errors in the summary")
	cmd.Flags().BoolVar(&opts.fullStack, "full-stack", false, "include library frames with --id")

	return cmd
}

// renderShow prints the contents of st according to opts.
func renderShow(w io.Writer, st *store.Store, opts showOptions, color bool) error {
	switch {
	case opts.id != "":
		p, ok := st.GetError(opts.id)
		if !ok {
			return fmt.Errorf("no error with id %q", opts.id)
		}
		fmt.Fprintln(w, format.FormatErrorForCLI(p, format.Options{
			ShowFullStack: opts.fullStack,
			Colorize:      color,
		}))

	case opts.component != "" || opts.severity != "":
		var errs []*types.ErrorPayload
		if opts.component != "" {
			errs = st.GetErrorsByComponent(opts.component)
		} else {
			sev, _ := types.ParseSeverity(opts.severity)
			errs = st.GetErrorsBySeverity(sev)
		}
		if opts.component != "" && opts.severity != "" {
			sev, _ := types.ParseSeverity(opts.severity)
			errs = filterSeverity(errs, sev)
		}
		renderList(w, errs, false, color)

	default:
		fmt.Fprint(w, format.FormatErrorSummary(st.GetRecentErrors(opts.limit), color))
		fmt.Fprintln(w)
		fmt.Fprint(w, format.FormatErrorStatistics(st.GetStatistics(), color))
	}
	return nil
}

func filterSeverity(errs []*types.ErrorPayload, sev types.Severity) []*types.ErrorPayload {
	out := errs[:0]
	for _, p := range errs {
		if p.Metadata.Severity == sev {
			out = append(out, p)
		}
	}
	return out
}

// countEntries returns the number of elements of a JSON array, or -1.
func countEntries(data []byte) int {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return -1
	}
	return len(entries)
}
