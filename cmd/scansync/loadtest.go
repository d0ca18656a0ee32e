package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Noob4Eternity/chokidar/internal/loadtest"
	"github.com/Noob4Eternity/chokidar/internal/store"
)

func newLoadtestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "loadtest",
		GroupID: "maintenance",
		Short:   "Measure sync latency against a scratch SQLite store",
		Long: `Run a daemon against a synthetic scanner that appends rows at a fixed
interval, and report how many rows were synced and the latency from append
to confirmed insert.

Everything happens in a scratch directory with its own SQLite store; the
configured store and scanner file are never touched. Rows appended faster
than a sync pass completes are coalesced and reported as missed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, _ := cmd.Flags().GetInt("rows")
			interval, _ := cmd.Flags().GetDuration("interval")
			poll, _ := cmd.Flags().GetDuration("poll")
			seed, _ := cmd.Flags().GetInt64("seed")
			keep, _ := cmd.Flags().GetBool("keep")
			asJSON, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, closer, err := commandLogger(cmd, cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			dir, err := os.MkdirTemp("", "scansync-loadtest-")
			if err != nil {
				return fmt.Errorf("failed to create scratch directory: %w", err)
			}
			if !keep {
				defer os.RemoveAll(dir)
			}

			ctx := cmd.Context()
			st, err := store.Open(ctx, store.Options{
				Driver: store.DriverSQLite,
				DSN:    filepath.Join(dir, "loadtest.db"),
			})
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.EnsureSchema(ctx); err != nil {
				return err
			}

			report, err := loadtest.Run(ctx, loadtest.Config{
				Dir:          dir,
				Rows:         rows,
				Interval:     interval,
				PollInterval: poll,
				Seed:         seed,
				Store:        st,
				Logger:       logger,
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			p := printer(cmd)
			p.Title("Load test")
			p.Field("Appended", fmt.Sprintf("%d rows every %s", report.Appended, interval))
			p.Field("Inserted", report.Inserted)
			p.Field("Duplicates", report.Duplicates)
			p.Field("Failed", report.Failed)
			p.Field("Missed", report.Missed)
			p.Field("Elapsed", report.Elapsed.Round(time.Millisecond))
			p.Blank()
			if report.Latency.Samples > 0 {
				lat := report.Latency
				p.Field("Latency p50", lat.P50.Round(time.Microsecond))
				p.Field("Latency p95", lat.P95.Round(time.Microsecond))
				p.Field("Latency p99", lat.P99.Round(time.Microsecond))
				p.Field("Latency max", lat.Max.Round(time.Microsecond))
			}
			if keep {
				p.Muted("scratch directory kept at %s", dir)
			}

			if report.Missed > 0 || report.Failed > 0 {
				p.Warn("%d of %d rows were not synced", report.Missed+report.Failed, report.Appended)
			} else {
				p.OK("all rows synced")
			}
			return nil
		},
	}

	cmd.Flags().Int("rows", 50, "rows to append")
	cmd.Flags().Duration("interval", 200*time.Millisecond, "time between appends")
	cmd.Flags().Duration("poll", 50*time.Millisecond, "daemon poll interval")
	cmd.Flags().Int64("seed", 1, "generator seed")
	cmd.Flags().Bool("keep", false, "keep the scratch directory")
	cmd.Flags().Bool("json", false, "print the report as JSON")
	return cmd
}
