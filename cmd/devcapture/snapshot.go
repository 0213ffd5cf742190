// ABOUTME: Snapshot commands for the local BadgerDB export archive
// ABOUTME: save, list, restore and prune snapshots of a server's errors

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/devcapture/internal/archive"
	"github.com/hikmaai-io/devcapture/internal/config"
	"github.com/hikmaai-io/devcapture/internal/observability"
)

func newSnapshotCmd() *cobra.Command {
	var archiveDir string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage local snapshots of captured errors",
		Long: `Snapshots are exports of a running server kept in a local archive so an
error set can be restored after the server restarts.

Examples:
  devcapture snapshot save --label "before refactor"
  devcapture snapshot list
  devcapture snapshot restore latest
  devcapture snapshot prune --keep 10`,
	}

	cmd.PersistentFlags().StringVar(&archiveDir, "archive-dir", "", "archive directory (default: from config)")

	openArchive := func(cfg *config.Config) (*archive.Archive, error) {
		dir := cfg.Archive.Dir
		if archiveDir != "" {
			dir = archiveDir
		}
		a, err := archive.Open(archive.Config{Path: dir})
		if err != nil {
			return nil, fmt.Errorf("opening archive %s: %w", dir, err)
		}
		return a, nil
	}

	cmd.AddCommand(newSnapshotSaveCmd(openArchive))
	cmd.AddCommand(newSnapshotListCmd(openArchive))
	cmd.AddCommand(newSnapshotRestoreCmd(openArchive))
	cmd.AddCommand(newSnapshotPruneCmd(openArchive))

	return cmd
}

type archiveOpener func(cfg *config.Config) (*archive.Archive, error)

func newSnapshotSaveCmd(open archiveOpener) *cobra.Command {
	var label string

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save the server's current errors as a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			ctx := cmd.Context()

			data, err := newAPIClient(cfg).Export(ctx)
			if err != nil {
				return err
			}

			a, err := open(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.Save(ctx, label, data)
			if err != nil {
				return err
			}
			observability.NewAuditLogger(newLogger(cfg)).LogExport(ctx, "archive:"+snap.ID, snap.ErrorCount)
			fmt.Fprintf(cmd.OutOrStdout(), "Saved snapshot %s (%d errors)\n", snap.ID, snap.ErrorCount)
			return nil
		},
	}

	cmd.Flags().StringVarP(&label, "label", "l", "", "label for the snapshot")
	return cmd
}

func newSnapshotListCmd(open archiveOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			a, err := open(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			snaps, err := a.List(cmd.Context())
			if err != nil {
				return err
			}
			return renderSnapshots(cmd.OutOrStdout(), snaps)
		},
	}
}

// renderSnapshots prints snaps as an aligned table.
func renderSnapshots(w io.Writer, snaps []archive.Snapshot) error {
	if len(snaps) == 0 {
		_, err := fmt.Fprintln(w, "No snapshots")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tERRORS\tLABEL")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.CreatedAt.Local().Format(time.DateTime), s.ErrorCount, s.Label)
	}
	return tw.Flush()
}

func newSnapshotRestoreCmd(open archiveOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "restore ID",
		Short: `Send a snapshot to the server ("latest" for the newest)`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			ctx := cmd.Context()

			a, err := open(cfg)
			if err != nil {
				return err
			}
			snap, data, err := a.Load(ctx, args[0])
			_ = a.Close()
			if err != nil {
				return err
			}

			res, err := newAPIClient(cfg).Import(ctx, data)
			observability.NewAuditLogger(newLogger(cfg)).LogImport(ctx, "archive:"+snap.ID, res.Sent+res.Skipped, err)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d errors from %s (%d skipped)\n", res.Sent, snap.ID, res.Skipped)
			return nil
		},
	}
}

func newSnapshotPruneCmd(open archiveOpener) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			a, err := open(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Prune(cmd.Context(), keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d snapshots\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 10, "number of snapshots to keep")
	return cmd
}
