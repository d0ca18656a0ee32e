// Package syncer pushes canonical customer records into the remote store.
//
// Executor is the ledgered path used by the daemon: one insert, retried with
// linear backoff, where a uniqueness conflict counts as success. Batch is the
// maintenance path behind "scansync import": lookup-then-insert for many
// records with no ledger.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Noob4Eternity/chokidar/internal/metrics"
	"github.com/Noob4Eternity/chokidar/internal/schema"
	"github.com/Noob4Eternity/chokidar/internal/store"
)

var tracer = otel.Tracer("scansync.syncer")

// Outcome is the result of InsertWithRetry.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// Result describes one InsertWithRetry call.
type Result struct {
	Outcome  Outcome
	ID       string // set for OutcomeInserted
	Attempts int
	Err      error // set for OutcomeFailed
}

// Synced reports whether the record is now known to be in the store.
func (r Result) Synced() bool {
	return r.Outcome == OutcomeInserted || r.Outcome == OutcomeDuplicate
}

// Config holds the retry policy.
type Config struct {
	// Attempts is the total number of insert attempts (minimum 1).
	Attempts int

	// Delay is the backoff base. The wait after failed attempt n is n*Delay.
	Delay time.Duration

	// AttemptTimeout bounds each attempt. Zero disables it.
	AttemptTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Executor inserts single records with retry.
type Executor struct {
	store store.Store
	cfg   Config
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor writing to st.
func NewExecutor(st store.Store, cfg Config) *Executor {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{store: st, cfg: cfg, sleep: sleepContext}
}

// InsertWithRetry inserts c, retrying transient failures. A conflict on any
// attempt ends the call with OutcomeDuplicate and is never retried. The
// executor never touches local state.
func (e *Executor) InsertWithRetry(ctx context.Context, c *schema.Customer) Result {
	ctx, span := tracer.Start(ctx, "syncer.InsertWithRetry",
		trace.WithAttributes(
			attribute.String("customer.license", c.License()),
			attribute.Int("retry.max_attempts", e.cfg.Attempts),
		),
	)
	defer span.End()

	log := e.cfg.Logger.With("customer", c.DisplayName(), "license", c.License())

	var lastErr error
	attempt := 0
	for attempt < e.cfg.Attempts {
		attempt++

		id, err := e.insertOnce(ctx, c, attempt)
		if err == nil {
			span.SetAttributes(attribute.Int("retry.attempts", attempt))
			log.Info("customer synced", "id", id, "attempt", attempt)
			return Result{Outcome: OutcomeInserted, ID: id, Attempts: attempt}
		}
		if errors.Is(err, store.ErrConflict) {
			span.SetAttributes(attribute.Int("retry.attempts", attempt), attribute.Bool("duplicate", true))
			log.Info("customer already exists in store", "attempt", attempt)
			return Result{Outcome: OutcomeDuplicate, Attempts: attempt}
		}

		lastErr = err
		log.Warn("insert attempt failed", "attempt", attempt, "max_attempts", e.cfg.Attempts, "error", err)

		if attempt == e.cfg.Attempts {
			break
		}
		delay := e.cfg.Delay * time.Duration(attempt)
		if err := e.sleep(ctx, delay); err != nil {
			lastErr = fmt.Errorf("retry wait interrupted: %w (last error: %v)", err, lastErr)
			break
		}
	}

	err := fmt.Errorf("insert failed after %d attempts: %w", attempt, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, "insert failed")
	log.Error("failed to sync customer", "attempts", attempt, "error", lastErr)
	return Result{Outcome: OutcomeFailed, Attempts: attempt, Err: err}
}

func (e *Executor) insertOnce(ctx context.Context, c *schema.Customer, attempt int) (string, error) {
	ctx, span := tracer.Start(ctx, "syncer.insertAttempt",
		trace.WithAttributes(attribute.Int("retry.attempt", attempt)))
	defer span.End()

	if e.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()
	}

	e.cfg.Metrics.IncInsertAttempt()
	id, err := e.store.Insert(ctx, c)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert attempt failed")
	}
	return id, err
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
