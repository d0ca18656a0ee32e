package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Noob4Eternity/chokidar/internal/config"
	"github.com/Noob4Eternity/chokidar/internal/extract"
	"github.com/Noob4Eternity/chokidar/internal/store"
)

// schemaProbe is a license number no real scan produces.
const schemaProbe = "__scansync_schema_probe__"

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "validate",
		GroupID: "maintenance",
		Short:   "Check configuration, scanner file and store",
		Long: `Validate the configuration and the environment it points at.

Checks:
  - Configuration values (errors and warnings)
  - Scanner file directory and, if present, that the file parses
  - Store connectivity
  - That the customers table exists and has the expected columns

Exits non-zero when any check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := printer(cmd)
			failed := false

			cfg, err := loadConfig(cmd)
			if err != nil {
				p.Fail("configuration: %v", err)
				return errors.New("validation failed")
			}

			p.Title("Configuration")
			report := cfg.Validate()
			for _, e := range report.Errors {
				p.Fail("%s", e)
			}
			for _, w := range report.Warnings {
				p.Warn("%s", w)
			}
			if report.OK() {
				p.OK("configuration is valid")
			} else {
				failed = true
			}

			p.Blank()
			p.Title("Scanner file")
			if info, err := os.Stat(cfg.SourceDir()); err != nil || !info.IsDir() {
				p.Warn("directory %s does not exist, it will be created on start", cfg.SourceDir())
			} else {
				p.OK("directory %s exists", cfg.SourceDir())
			}
			if _, err := os.Stat(cfg.Source.Path); err != nil {
				p.Warn("%s does not exist, it will be created with the scanner header on start", cfg.Source.Path)
			} else if rows, err := extract.ReadRows(cfg.Source.Path); err != nil {
				p.Fail("%s cannot be parsed: %v", cfg.Source.Path, err)
				failed = true
			} else {
				p.OK("%s parses (%d data rows)", cfg.Source.Path, len(rows))
			}

			p.Blank()
			p.Title("Store")
			if !report.OK() {
				p.Warn("skipped, fix the configuration first")
			} else if err := checkStore(cmd.Context(), cfg); err != nil {
				p.Fail("%v", err)
				failed = true
			} else {
				p.OK("%s store reachable, table %q ready", cfg.Store.Driver, cfg.Store.Table)
			}

			if failed {
				return errors.New("validation failed")
			}
			return nil
		},
	}
}

func checkStore(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("%s store unreachable: %w", cfg.Store.Driver, err)
	}

	// A lookup on a license nobody has proves the table and column exist.
	_, err = st.FindOne(ctx, store.Eq("drivers_license_no", schemaProbe))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("table %q is missing or has an unexpected shape (run init-schema): %w", cfg.Store.Table, err)
	}
	return nil
}
