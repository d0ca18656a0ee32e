package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Noob4Eternity/chokidar/internal/ledger"
	"github.com/Noob4Eternity/chokidar/internal/ui"
)

func newResetStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reset-state",
		GroupID: "maintenance",
		Short:   "Delete the sync state file",
		Long: `Delete the sync state file so every row becomes eligible for sync again.

Rows that are already in the store are not inserted twice: the store's
unique license number constraint turns them into duplicates. Rows the
scanner wrote without a license number may be inserted again, including rows
that were given a GENERATED_ placeholder: a new placeholder is drawn on every
read, so the store has nothing to match. While the state file is intact such
rows are synced once, because the fingerprint ignores the placeholder.

Do not run this while the daemon is running; it rewrites the file on exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				if !ui.IsTerminal(cmd.InOrStdin()) || !ui.IsTerminal(cmd.OutOrStdout()) {
					return fmt.Errorf("this forgets every synced row in %s; re-run with --yes to confirm", cfg.State.Path)
				}
				ok, err := ui.Confirm("Reset sync state?", "Every row in the scanner file becomes eligible for sync again.")
				if err != nil {
					return err
				}
				if !ok {
					printer(cmd).Muted("reset cancelled")
					return nil
				}
			}

			if err := ledger.Reset(cfg.State.Path); err != nil {
				return err
			}
			printer(cmd).OK("sync state reset (%s)", cfg.State.Path)
			return nil
		},
	}

	cmd.Flags().BoolP("yes", "y", false, "reset without prompting")
	return cmd
}

func newInitSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "init-schema",
		GroupID: "maintenance",
		Short:   "Create the customers table in the store",
		Long: `Create the customers table and its indexes if they do not exist.

The table has a unique constraint on drivers_license_no, which is what lets
the sync treat a re-sent row as a duplicate instead of an error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
			printer(cmd).OK("table %q ready on %s store", cfg.Store.Table, cfg.Store.Driver)
			return nil
		},
	}
}
