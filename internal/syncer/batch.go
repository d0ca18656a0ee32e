package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Noob4Eternity/chokidar/internal/metrics"
	"github.com/Noob4Eternity/chokidar/internal/schema"
	"github.com/Noob4Eternity/chokidar/internal/store"
)

// BatchConfig configures a Batch.
type BatchConfig struct {
	// Attempts is the total number of tries per record (minimum 1).
	Attempts int

	// Delay is the fixed wait between tries.
	Delay time.Duration

	// Size groups records for progress logging (default 50).
	Size int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// BatchReport summarizes a SyncAll run.
type BatchReport struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Inserted  int `json:"inserted"`
	Skipped   int `json:"skipped"`
}

// Batch syncs many records by looking each one up before inserting it.
// It does not consult or update the ledger.
type Batch struct {
	store store.Store
	cfg   BatchConfig
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBatch creates a Batch writing to st.
func NewBatch(st store.Store, cfg BatchConfig) *Batch {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Size <= 0 {
		cfg.Size = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Batch{store: st, cfg: cfg, sleep: sleepContext}
}

// SyncAll processes customers in order. A record that exhausts its retries
// aborts the run; the report covers what was processed before it.
func (b *Batch) SyncAll(ctx context.Context, customers []*schema.Customer) (BatchReport, error) {
	report := BatchReport{Total: len(customers)}

	for start := 0; start < len(customers); start += b.cfg.Size {
		end := min(start+b.cfg.Size, len(customers))
		b.cfg.Logger.Info("processing batch",
			"from", start+1, "to", end, "total", len(customers))

		for _, c := range customers[start:end] {
			inserted, err := b.syncOne(ctx, c)
			if err != nil {
				b.cfg.Metrics.AddBatch("failed", 1)
				return report, fmt.Errorf("batch aborted at record %d (%s): %w",
					report.Processed+1, c.DisplayName(), err)
			}

			report.Processed++
			if inserted {
				report.Inserted++
				b.cfg.Metrics.AddBatch("inserted", 1)
			} else {
				report.Skipped++
				b.cfg.Metrics.AddBatch("skipped", 1)
			}
		}
	}

	b.cfg.Logger.Info("batch complete",
		"processed", report.Processed, "inserted", report.Inserted, "skipped", report.Skipped)
	return report, nil
}

// syncOne reports whether c was inserted (false means it already existed).
func (b *Batch) syncOne(ctx context.Context, c *schema.Customer) (bool, error) {
	log := b.cfg.Logger.With("customer", c.DisplayName(), "license", c.License())

	var lastErr error
	for attempt := 1; attempt <= b.cfg.Attempts; attempt++ {
		inserted, err := b.lookupThenInsert(ctx, c)
		if err == nil {
			return inserted, nil
		}

		lastErr = err
		log.Warn("batch sync attempt failed", "attempt", attempt, "error", err)
		if attempt == b.cfg.Attempts {
			break
		}
		if err := b.sleep(ctx, b.cfg.Delay); err != nil {
			return false, err
		}
	}
	return false, fmt.Errorf("failed after %d attempts: %w", b.cfg.Attempts, lastErr)
}

func (b *Batch) lookupThenInsert(ctx context.Context, c *schema.Customer) (bool, error) {
	id, err := b.findExisting(ctx, c)
	if err != nil {
		return false, err
	}
	if id != "" {
		b.cfg.Logger.Debug("customer already exists", "license", c.License(), "id", id)
		return false, nil
	}

	id, err = b.store.Insert(ctx, c)
	if errors.Is(err, store.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	b.cfg.Logger.Info("customer synced", "customer", c.DisplayName(), "license", c.License(), "id", id)
	return true, nil
}

// findExisting matches on license number first, then on phone plus name.
// It returns "" when nothing matches.
func (b *Batch) findExisting(ctx context.Context, c *schema.Customer) (string, error) {
	if c.LicenseNo != nil {
		id, err := b.store.FindOne(ctx, store.Eq("drivers_license_no", *c.LicenseNo))
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("license lookup: %w", err)
		}
	}

	if c.Phone != nil {
		id, err := b.store.FindOne(ctx,
			store.Eq("phone", *c.Phone),
			store.Eq("first_name", nullable(c.FirstName)),
			store.Eq("last_name", nullable(c.LastName)),
		)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("phone lookup: %w", err)
		}
	}

	return "", nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
