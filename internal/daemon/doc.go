// Package daemon provides the watch loop that keeps the remote store in step
// with the scanner's CSV file.
//
// The daemon:
//  1. Creates the source file with the scanner header if it is missing
//  2. Loads the fingerprint ledger
//  3. Watches the file (polling by default, fsnotify on request)
//  4. On each change, syncs the newest row unless its fingerprint is ledgered
//  5. Persists the ledger after every confirmed insert and at shutdown
//
// Only the last row is considered per change. If the scanner appends two
// rows before a pass reads the file, the earlier one is not synced.
//
// Example:
//
//	d, err := daemon.New(daemon.Config{
//	    SourcePath:  "scanner_data.csv",
//	    StatePath:   ".csv-sync-state.json",
//	    Transformer: schema.NewTransformer(schema.TransformOptions{}),
//	    Inserter:    syncer.NewExecutor(st, syncer.Config{Attempts: 3, Delay: time.Second}),
//	})
//	if err != nil {
//	    return err
//	}
//	return d.Start(ctx) // blocks until ctx is cancelled
package daemon
