package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Noob4Eternity/chokidar/internal/config"
	"github.com/Noob4Eternity/chokidar/internal/extract"
	"github.com/Noob4Eternity/chokidar/internal/ledger"
)

// statusReport is the output of the status command.
type statusReport struct {
	SourcePath     string     `json:"source_path" yaml:"source_path"`
	SourceExists   bool       `json:"source_exists" yaml:"source_exists"`
	SourceRows     int        `json:"source_rows" yaml:"source_rows"`
	StatePath      string     `json:"state_path" yaml:"state_path"`
	ProcessedCount int        `json:"processed_count" yaml:"processed_count"`
	LastUpdated    *time.Time `json:"last_updated,omitempty" yaml:"last_updated,omitempty"`
	StoreDriver    string     `json:"store_driver" yaml:"store_driver"`
	Store          string     `json:"store,omitempty" yaml:"store,omitempty"`
	StoreConnected bool       `json:"store_connected" yaml:"store_connected"`
	StoreError     string     `json:"store_error,omitempty" yaml:"store_error,omitempty"`
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status",
		GroupID: "sync",
		Short:   "Show sync state and store connectivity",
		Long: `Display the current sync status.

Shows:
  - Scanner file location and number of data rows
  - Number of processed rows in the state file and when it was last written
  - Whether the store answers a ping`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			switch format {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, closer, err := commandLogger(cmd, cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			report := collectStatus(cmd.Context(), cfg, ledger.LoadOrEmpty(cfg.State.Path, logger))

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(report); err != nil {
					return err
				}
				return enc.Close()
			}

			p := printer(cmd)
			p.Title("scansync status")
			p.Blank()
			if report.SourceExists {
				p.Field("Scanner file", fmt.Sprintf("%s (%d rows)", report.SourcePath, report.SourceRows))
			} else {
				p.Field("Scanner file", report.SourcePath+" (not created yet)")
			}
			p.Field("State file", report.StatePath)
			p.Field("Processed rows", report.ProcessedCount)
			if report.LastUpdated != nil {
				age := time.Since(*report.LastUpdated).Round(time.Second)
				p.Field("Last updated", fmt.Sprintf("%s (%s ago)", report.LastUpdated.Local().Format(time.DateTime), age))
			} else {
				p.Field("Last updated", "never")
			}
			p.Field("Store", fmt.Sprintf("%s %s", report.StoreDriver, report.Store))
			p.Blank()
			if report.StoreConnected {
				p.OK("store reachable")
			} else {
				p.Fail("store unreachable: %s", report.StoreError)
			}
			return nil
		},
	}

	cmd.Flags().String("format", "text", "output format: text, json or yaml")
	return cmd
}

func collectStatus(ctx context.Context, cfg *config.Config, l *ledger.Ledger) statusReport {
	report := statusReport{
		SourcePath:     cfg.Source.Path,
		StatePath:      cfg.State.Path,
		ProcessedCount: l.Len(),
		StoreDriver:    cfg.Store.Driver,
		Store:          cfg.RedactedDSN(),
	}

	if _, err := os.Stat(cfg.Source.Path); err == nil {
		report.SourceExists = true
		if rows, err := extract.ReadRows(cfg.Source.Path); err == nil {
			report.SourceRows = len(rows)
		}
	}

	if t := l.LastUpdated(); !t.IsZero() {
		report.LastUpdated = &t
	}

	if cfg.Store.DSN == "" {
		report.StoreError = "no connection string configured"
		return report
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		report.StoreError = err.Error()
		return report
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		report.StoreError = err.Error()
		return report
	}
	report.StoreConnected = true
	return report
}
