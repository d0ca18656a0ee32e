// Command scansync watches an ID-scanner CSV file and syncs each newly
// appended row to the customers table of a remote store.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Noob4Eternity/chokidar/internal/config"
	"github.com/Noob4Eternity/chokidar/internal/logging"
	"github.com/Noob4Eternity/chokidar/internal/schema"
	"github.com/Noob4Eternity/chokidar/internal/store"
	"github.com/Noob4Eternity/chokidar/internal/ui"
)

// flagKeys maps flag names to the config keys they override.
var flagKeys = map[string]string{
	"csv":        "source.path",
	"state":      "state.path",
	"log-level":  "log.level",
	"driver":     "store.driver",
	"table":      "store.table",
	"watch-mode": "watch.mode",
	"dashboard":  "dashboard.addr",
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scansync",
		Short: "Sync ID-scanner CSV rows to a remote customers table",
		Long: `scansync watches the CSV file written by an ID scanner and inserts each
newly appended row into a customers table.

Every synced row is fingerprinted and recorded in a local state file, so a
row is synced at most once even across restarts. Rows already in the file
when the watcher starts are ignored until a later change makes one of them
the last row.

Configuration comes from flags, environment variables (CSV_FILE_PATH,
DATABASE_URL, RETRY_ATTEMPTS, ...), an optional --config file and a .env
file in the working directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "maintenance", Title: "Maintenance Commands:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (YAML, TOML or JSON)")
	pf.Bool("no-color", false, "disable coloured output")
	pf.String("csv", "", "scanner CSV file (CSV_FILE_PATH)")
	pf.String("state", "", "sync state file (STATE_FILE_PATH)")
	pf.String("log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	pf.String("driver", "", "store driver: postgres or sqlite (STORE_DRIVER)")
	pf.String("table", "", "customers table name (STORE_TABLE)")

	rootCmd.AddCommand(
		newRunCmd(),
		newImportCmd(),
		newStatusCmd(),
		newValidateCmd(),
		newCheckFormatCmd(),
		newResetStateCmd(),
		newInitSchemaCmd(),
		newLoadtestCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration, letting any flag the user set win.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := make(map[string]*pflag.Flag)
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			flags[key] = f
		}
	}
	configFile, _ := cmd.Flags().GetString("config")
	return config.Load(config.Options{ConfigFile: configFile, Flags: flags})
}

// loadValidConfig is loadConfig followed by Validate. Warnings go to stderr.
func loadValidConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	report := cfg.Validate()
	p := errPrinter(cmd)
	for _, w := range report.Warnings {
		p.Warn("%s", w)
	}
	if err := report.Err(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func printer(cmd *cobra.Command) *ui.Printer {
	noColor, _ := cmd.Flags().GetBool("no-color")
	return ui.New(cmd.OutOrStdout(), !noColor)
}

func errPrinter(cmd *cobra.Command) *ui.Printer {
	noColor, _ := cmd.Flags().GetBool("no-color")
	return ui.New(cmd.ErrOrStderr(), !noColor)
}

// commandLogger logs to stderr only. The rotating file is for the daemon.
func commandLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, io.Closer, error) {
	return logging.New(logging.Options{Level: cfg.Log.Level, Stderr: cmd.ErrOrStderr()})
}

func newTransformer(cfg *config.Config) (*schema.Transformer, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return schema.NewTransformer(schema.TransformOptions{
		DefaultCountry: cfg.Record.DefaultCountry,
		RequireLicense: cfg.Record.RequireLicense,
		Location:       loc,
	}), nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, store.Options{
		Driver:         cfg.Store.Driver,
		DSN:            cfg.Store.DSN,
		Table:          cfg.Store.Table,
		SimpleProtocol: cfg.Store.SimpleProtocol,
		MaxConns:       cfg.Store.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	return st, nil
}
