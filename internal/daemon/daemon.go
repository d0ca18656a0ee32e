package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Noob4Eternity/chokidar/internal/extract"
	"github.com/Noob4Eternity/chokidar/internal/ledger"
	"github.com/Noob4Eternity/chokidar/internal/logging"
	"github.com/Noob4Eternity/chokidar/internal/metrics"
	"github.com/Noob4Eternity/chokidar/internal/schema"
	"github.com/Noob4Eternity/chokidar/internal/syncer"
)

var tracer = otel.Tracer("scansync.daemon")

var (
	// ErrBusy is returned by ProcessChange while another pass is running.
	ErrBusy = errors.New("a sync pass is already in progress")

	// ErrStopped is returned by ProcessChange after Stop.
	ErrStopped = errors.New("daemon stopped")
)

// Inserter performs a retrying insert. *syncer.Executor implements it.
type Inserter interface {
	InsertWithRetry(ctx context.Context, c *schema.Customer) syncer.Result
}

// Pinger checks store connectivity for Status.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Observer receives a report after every pass. OnPass runs on the pass
// goroutine and must not block.
type Observer interface {
	OnPass(PassReport)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(PassReport)

// OnPass implements Observer.
func (f ObserverFunc) OnPass(r PassReport) { f(r) }

// Config holds configuration for the daemon.
type Config struct {
	// SourcePath is the scanner CSV file.
	SourcePath string

	// StatePath is the ledger file.
	StatePath string

	Transformer *schema.Transformer
	Inserter    Inserter

	// Store is pinged by Status. Optional.
	Store Pinger

	// Source defaults to a one-second PollWatcher.
	Source ChangeSource

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Daemon watches the scanner file and syncs its newest row after every
// change. At most one pass runs at a time; changes that arrive during a pass
// are dropped, not queued.
type Daemon struct {
	config    Config
	logger    *slog.Logger
	extractor *extract.Extractor
	source    ChangeSource
	observers []Observer

	ledger    atomic.Pointer[ledger.Ledger]
	opened    atomic.Bool
	running   atomic.Bool
	startedAt atomic.Pointer[time.Time]

	// processing is the single-flight guard.
	processing atomic.Bool

	mu       sync.Mutex
	stopped  bool
	passes   sync.WaitGroup
	lastPass *PassReport

	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// New creates a Daemon. Call Start, or Open followed by Run.
func New(config Config) (*Daemon, error) {
	if config.SourcePath == "" {
		return nil, fmt.Errorf("source path cannot be empty")
	}
	if config.StatePath == "" {
		return nil, fmt.Errorf("state path cannot be empty")
	}
	if config.Transformer == nil {
		return nil, fmt.Errorf("transformer cannot be nil")
	}
	if config.Inserter == nil {
		return nil, fmt.Errorf("inserter cannot be nil")
	}
	if config.Source == nil {
		config.Source = NewPollWatcher(time.Second)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Daemon{
		config:    config,
		logger:    config.Logger.With("component", "daemon"),
		extractor: extract.New(config.SourcePath, config.Transformer),
		source:    config.Source,
		done:      make(chan struct{}),
	}, nil
}

// AddObserver registers o. Call before Start.
func (d *Daemon) AddObserver(o Observer) {
	d.observers = append(d.observers, o)
}

// Start opens the daemon and runs it until ctx is cancelled, then stops.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.Open(); err != nil {
		_ = d.Stop()
		return err
	}
	return d.Run(ctx)
}

// Open ensures the source file exists, loads the ledger and starts the
// change source. Rows already in the file are never synced by a watch event
// alone; they are picked up only when a later change makes one of them the
// last row.
func (d *Daemon) Open() error {
	if d.opened.Load() {
		return fmt.Errorf("daemon already opened")
	}

	created, err := extract.EnsureFile(d.config.SourcePath)
	if err != nil {
		return err
	}
	if created {
		d.logger.Info("created source file with scanner header", "path", d.config.SourcePath)
	}

	l := ledger.LoadOrEmpty(d.config.StatePath, d.config.Logger)
	d.ledger.Store(l)
	d.config.Metrics.SetLedgerSize(l.Len())

	if err := d.source.Start(d.config.SourcePath); err != nil {
		return fmt.Errorf("failed to start watching %s: %w", d.config.SourcePath, err)
	}

	now := time.Now()
	d.startedAt.Store(&now)
	d.opened.Store(true)
	d.logger.Info("watching source file", "path", d.config.SourcePath, "processed", l.Len())
	return nil
}

// Run dispatches change signals until ctx is cancelled or Stop is called,
// then stops the daemon. Passes already running are not cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.opened.Load() {
		return fmt.Errorf("daemon not opened")
	}
	d.running.Store(true)
	defer func() { _ = d.Stop() }()

	passCtx := context.WithoutCancel(ctx)
	changes := d.source.Changes()
	errs := d.source.Errors()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutdown signal received")
			return nil

		case <-d.done:
			return nil

		case _, ok := <-changes:
			if !ok {
				if d.isStopping() {
					return nil
				}
				return errors.New("change source closed unexpectedly")
			}
			d.trigger(passCtx)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.Warn("watcher error", "error", err)
		}
	}
}

// Stop stops watching, waits for an in-flight pass, and persists the ledger.
// It is idempotent and safe to call when Open failed or was never called.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		close(d.done)

		if err := d.source.Stop(); err != nil {
			d.logger.Warn("error stopping watcher", "error", err)
		}

		d.passes.Wait()

		if l := d.ledger.Load(); l != nil {
			if err := l.Persist(); err != nil {
				d.logger.Error("failed to persist sync state on shutdown", "error", err)
				d.stopErr = err
			}
		}

		d.running.Store(false)
		d.logger.Info("daemon stopped")
	})
	return d.stopErr
}

func (d *Daemon) isStopping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// beginPass reserves the single-flight slot and registers the pass with the
// shutdown WaitGroup.
func (d *Daemon) beginPass() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}
	if !d.processing.CompareAndSwap(false, true) {
		return ErrBusy
	}
	d.passes.Add(1)
	return nil
}

func (d *Daemon) endPass() {
	d.processing.Store(false)
	d.passes.Done()
}

// trigger starts a pass on its own goroutine unless one is running.
func (d *Daemon) trigger(ctx context.Context) {
	if err := d.beginPass(); err != nil {
		if errors.Is(err, ErrBusy) {
			d.config.Metrics.IncDropped()
			d.logger.Debug("change dropped, pass in progress")
		}
		return
	}

	go func() {
		defer d.endPass()
		d.runPass(ctx)
	}()
}

// ProcessChange runs one pass synchronously. It returns ErrBusy if a pass is
// already running and ErrStopped after Stop.
func (d *Daemon) ProcessChange(ctx context.Context) (PassReport, error) {
	if d.ledger.Load() == nil {
		return PassReport{}, fmt.Errorf("daemon not opened")
	}
	if err := d.beginPass(); err != nil {
		if errors.Is(err, ErrBusy) {
			d.config.Metrics.IncDropped()
		}
		return PassReport{}, err
	}
	defer d.endPass()
	return d.runPass(ctx), nil
}

func (d *Daemon) runPass(ctx context.Context) PassReport {
	ctx, span := tracer.Start(ctx, "daemon.pass")
	defer span.End()

	report := PassReport{StartedAt: time.Now()}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		span.SetAttributes(attribute.String("pass.outcome", string(report.Outcome)))
		if report.Outcome == OutcomeFailed || report.Outcome == OutcomeError {
			span.SetStatus(codes.Error, report.Error)
		}
		d.finish(report)
	}()

	c, rows, err := d.extractor.Latest()
	report.Rows = rows
	switch {
	case errors.Is(err, extract.ErrNoData):
		report.Outcome = OutcomeNoData
		d.logger.Debug("source has no data rows")
		return report
	case errors.Is(err, schema.ErrEmptyRow):
		report.Outcome = OutcomeEmptyRow
		d.logger.Debug("last row has no identity fields, skipping")
		return report
	case err != nil:
		report.Outcome = OutcomeError
		report.Error = err.Error()
		span.RecordError(err)
		d.logger.Error("failed to read source file", "error", err)
		return report
	}

	fp := schema.FingerprintOf(c)
	report.Fingerprint = fp.String()
	report.Customer = c.DisplayName()
	report.License = c.License()
	log := logging.WithTrace(ctx, d.logger).With("customer", report.Customer, "license", report.License, "fingerprint", fp.Short())

	l := d.ledger.Load()
	if l.Contains(fp) {
		report.Outcome = OutcomeAlreadyProcessed
		log.Info("row already processed")
		return report
	}

	if c.LicenseGenerated {
		log.Warn("no license number on scan, using generated placeholder")
	}
	log.Info("new row detected", "rows", rows)

	res := d.config.Inserter.InsertWithRetry(ctx, c)
	report.Attempts = res.Attempts

	if !res.Synced() {
		report.Outcome = OutcomeFailed
		if res.Err != nil {
			report.Error = res.Err.Error()
			span.RecordError(res.Err)
		}
		log.Error("row not synced, it will be retried on the next change", "attempts", res.Attempts, "error", res.Err)
		return report
	}

	if res.Outcome == syncer.OutcomeDuplicate {
		report.Outcome = OutcomeDuplicate
	} else {
		report.Outcome = OutcomeInserted
	}

	l.Add(fp)
	d.config.Metrics.SetLedgerSize(l.Len())
	if err := l.Persist(); err != nil {
		log.Error("failed to persist sync state", "error", err)
	}
	return report
}

func (d *Daemon) finish(report PassReport) {
	d.mu.Lock()
	r := report
	d.lastPass = &r
	d.mu.Unlock()

	d.config.Metrics.ObservePass(string(report.Outcome), report.Duration)
	for _, o := range d.observers {
		o.OnPass(report)
	}
}

// Status returns a read-only snapshot. The store is pinged with a short
// timeout when one is configured.
func (d *Daemon) Status(ctx context.Context) Status {
	s := Status{
		Running:    d.running.Load(),
		Processing: d.processing.Load(),
		SourcePath: d.config.SourcePath,
		StatePath:  d.config.StatePath,
		Watching:   d.source.IsRunning(),
	}
	if l := d.ledger.Load(); l != nil {
		s.LedgerSize = l.Len()
		s.LedgerUpdated = l.LastUpdated()
	}
	if t := d.startedAt.Load(); t != nil {
		s.StartedAt = *t
	}

	d.mu.Lock()
	if d.lastPass != nil {
		r := *d.lastPass
		s.LastPass = &r
	}
	d.mu.Unlock()

	if d.config.Store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		s.StoreConnected = d.config.Store.Ping(pingCtx) == nil
	}
	return s
}
