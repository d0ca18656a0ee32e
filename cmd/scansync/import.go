package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Noob4Eternity/chokidar/internal/extract"
	"github.com/Noob4Eternity/chokidar/internal/metrics"
	"github.com/Noob4Eternity/chokidar/internal/schema"
	"github.com/Noob4Eternity/chokidar/internal/syncer"
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "import <file>",
		GroupID: "sync",
		Short:   "Sync every row of a file to the store",
		Long: `Import all records from a file, skipping those already in the store.

Each record is looked up first, by license number and then by phone plus
first and last name. Only records with no match are inserted. A record that
keeps failing after the configured retries stops the import.

The sync state file is neither read nor written, so import can be used to
backfill rows the daemon ignored.

With --metrics-file the scansync_batch_records_total counters are written
in Prometheus text format when the import ends, for node_exporter's
textfile collector. The lookup and the insert are not atomic:
do not import while another writer, including a running daemon, is
inserting into the same table.

Formats:
  csv    scanner CSV (default)
  jsonl  one canonical customer record per line, as printed by
         "scansync check-format --format jsonl"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			metricsFile, _ := cmd.Flags().GetString("metrics-file")

			cfg, err := loadValidConfig(cmd)
			if err != nil {
				return err
			}
			logger, closer, err := commandLogger(cmd, cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			var customers []*schema.Customer
			skipped := 0
			switch format {
			case "csv":
				transformer, err := newTransformer(cfg)
				if err != nil {
					return err
				}
				customers, skipped, err = extract.New(args[0], transformer).ReadAll()
				if err != nil {
					return err
				}
			case "jsonl":
				customers, err = extract.FromJSONL(args[0], time.Now)
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format %q (want csv or jsonl)", format)
			}

			p := printer(cmd)
			p.Muted("%d records read from %s (%d empty rows skipped)", len(customers), args[0], skipped)
			if dryRun {
				p.OK("dry run, nothing written")
				return nil
			}

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			reg := prometheus.NewRegistry()
			batch := syncer.NewBatch(st, syncer.BatchConfig{
				Attempts: cfg.Retry.Attempts,
				Delay:    cfg.RetryDelay(),
				Size:     cfg.Batch.Size,
				Logger:   logger,
				Metrics:  metrics.New(reg),
			})

			report, err := batch.SyncAll(cmd.Context(), customers)
			p.Field("Processed", fmt.Sprintf("%d of %d", report.Processed, report.Total))
			p.Field("Inserted", report.Inserted)
			p.Field("Skipped", report.Skipped)

			if metricsFile != "" {
				if werr := prometheus.WriteToTextfile(metricsFile, reg); werr != nil {
					p.Warn("failed to write metrics to %s: %v", metricsFile, werr)
				} else {
					p.Muted("metrics written to %s", metricsFile)
				}
			}

			if err != nil {
				p.Fail("import stopped: %v", err)
				return errors.New("import incomplete")
			}
			p.OK("import complete")
			return nil
		},
	}

	cmd.Flags().String("format", "csv", "input format: csv or jsonl")
	cmd.Flags().Bool("dry-run", false, "parse the file but do not write to the store")
	cmd.Flags().String("metrics-file", "", "write batch metrics in Prometheus text format (textfile collector)")
	return cmd
}

func newCheckFormatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "check-format <file>",
		GroupID: "maintenance",
		Short:   "Show how each row of a scanner CSV would be synced",
		Long: `Parse a scanner CSV and print the record each row turns into, with its
fingerprint. The store is never contacted.

With --format jsonl the records are printed as JSON Lines, which
"scansync import --format jsonl" accepts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			if format != "text" && format != "jsonl" {
				return fmt.Errorf("unknown format %q (want text or jsonl)", format)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			transformer, err := newTransformer(cfg)
			if err != nil {
				return err
			}

			rows, err := extract.ReadRows(args[0])
			if err != nil {
				return err
			}

			if format == "jsonl" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, row := range rows {
					c, err := transformer.Transform(row)
					if errors.Is(err, schema.ErrEmptyRow) {
						continue
					}
					if err != nil {
						return err
					}
					if err := enc.Encode(c); err != nil {
						return err
					}
				}
				return nil
			}

			p := printer(cmd)
			p.Title(fmt.Sprintf("%s: %d data rows", args[0], len(rows)))
			for i, row := range rows {
				c, err := transformer.Transform(row)
				if errors.Is(err, schema.ErrEmptyRow) {
					p.Warn("row %d: empty, would be skipped", i+1)
					continue
				}
				if err != nil {
					p.Fail("row %d: %v", i+1, err)
					continue
				}

				license := c.License()
				if license == "" {
					license = "(none)"
				} else if c.LicenseGenerated {
					license += " (generated)"
				}
				p.OK("row %d: %s", i+1, c.DisplayName())
				p.Bullet("license %s", license)
				p.Bullet("scanned %s", c.ScannerCreatedAt.Format(time.RFC3339))
				p.Bullet("fingerprint %s", schema.FingerprintOf(c).Short())
			}
			return nil
		},
	}

	cmd.Flags().String("format", "text", "output format: text or jsonl")
	return cmd
}
