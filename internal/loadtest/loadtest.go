// Package loadtest drives a real daemon with a synthetic scanner.
//
// Run appends generated rows to a scanner file at a fixed interval while a
// daemon watches it, and reports how many rows were synced and how long each
// took from append to a confirmed insert. Rows appended faster than a pass
// completes are coalesced by the daemon and show up as missed.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Noob4Eternity/chokidar/internal/daemon"
	"github.com/Noob4Eternity/chokidar/internal/schema"
	"github.com/Noob4Eternity/chokidar/internal/store"
	"github.com/Noob4Eternity/chokidar/internal/syncer"
)

// LatencyStats captures append-to-insert latency.
type LatencyStats struct {
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Mean    time.Duration `json:"mean"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
	Samples int           `json:"samples"`
}

// Config controls Run.
type Config struct {
	// Dir holds the scanner file and state file. Use a scratch directory.
	Dir string

	Rows int

	// Interval separates appends (default 500ms).
	Interval time.Duration

	// PollInterval is the daemon's watch interval (default 100ms).
	PollInterval time.Duration

	// Settle is how long to wait for outstanding passes after the last
	// append (default 5s).
	Settle time.Duration

	Seed   int64
	Store  store.Store
	Logger *slog.Logger
}

// Report is the result of Run.
type Report struct {
	Appended   int           `json:"appended"`
	Inserted   int           `json:"inserted"`
	Duplicates int           `json:"duplicates"`
	Failed     int           `json:"failed"`
	Missed     int           `json:"missed"`
	Elapsed    time.Duration `json:"elapsed"`
	Latency    LatencyStats  `json:"latency"`
}

// Run performs one load test. It returns early with ctx's error if ctx is
// cancelled.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("working directory cannot be empty")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Rows <= 0 {
		return nil, fmt.Errorf("rows must be positive, got %d", cfg.Rows)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	source := filepath.Join(cfg.Dir, "scanner_data.csv")
	rec := newRecorder()

	d, err := daemon.New(daemon.Config{
		SourcePath:  source,
		StatePath:   filepath.Join(cfg.Dir, ".csv-sync-state.json"),
		Transformer: schema.NewTransformer(schema.TransformOptions{DefaultCountry: "USA"}),
		Inserter: syncer.NewExecutor(cfg.Store, syncer.Config{
			Attempts: 3,
			Delay:    100 * time.Millisecond,
			Logger:   cfg.Logger,
		}),
		Store:  cfg.Store,
		Source: daemon.NewPollWatcher(cfg.PollInterval),
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	d.AddObserver(rec)

	if err := d.Open(); err != nil {
		_ = d.Stop()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(runCtx) }()

	gen := NewGenerator(cfg.Seed, nil)
	start := time.Now()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for i := 0; i < cfg.Rows; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				cancel()
				<-runErr
				return nil, ctx.Err()
			case <-ticker.C:
			}
		}

		row := gen.Row()
		rec.appended(License(row))
		if err := AppendRows(source, row); err != nil {
			cancel()
			<-runErr
			return nil, err
		}
	}

	rec.wait(ctx, cfg.Rows, cfg.Settle)
	cancel()
	if err := <-runErr; err != nil {
		return nil, err
	}

	return rec.report(cfg.Rows, time.Since(start)), nil
}

// recorder matches pass reports to appended rows by license number.
type recorder struct {
	mu      sync.Mutex
	changed chan struct{}
	sentAt  map[string]time.Time
	results map[string]daemon.PassOutcome
	latency []time.Duration
}

func newRecorder() *recorder {
	return &recorder{
		changed: make(chan struct{}, 1),
		sentAt:  make(map[string]time.Time),
		results: make(map[string]daemon.PassOutcome),
	}
}

func (r *recorder) appended(license string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sentAt[license] = time.Now()
}

// OnPass implements daemon.Observer.
func (r *recorder) OnPass(report daemon.PassReport) {
	r.mu.Lock()
	sent, ok := r.sentAt[report.License]
	_, seen := r.results[report.License]
	if ok && !seen {
		switch report.Outcome {
		case daemon.OutcomeInserted, daemon.OutcomeDuplicate, daemon.OutcomeFailed:
			r.results[report.License] = report.Outcome
			if report.Synced() {
				r.latency = append(r.latency, report.StartedAt.Add(report.Duration).Sub(sent))
			}
		}
	}
	r.mu.Unlock()

	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// wait returns once the last appended row has a result, or after settle.
func (r *recorder) wait(ctx context.Context, rows int, settle time.Duration) {
	timeout := time.NewTimer(settle)
	defer timeout.Stop()

	for {
		r.mu.Lock()
		done := len(r.results) >= rows
		r.mu.Unlock()
		if done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-timeout.C:
			return
		case <-r.changed:
		}
	}
}

func (r *recorder) report(rows int, elapsed time.Duration) *Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := &Report{Appended: rows, Elapsed: elapsed}
	for _, outcome := range r.results {
		switch outcome {
		case daemon.OutcomeInserted:
			rep.Inserted++
		case daemon.OutcomeDuplicate:
			rep.Duplicates++
		case daemon.OutcomeFailed:
			rep.Failed++
		}
	}
	rep.Missed = rows - len(r.results)
	rep.Latency = ComputeLatencyStats(r.latency)
	return rep
}

// ComputeLatencyStats calculates statistics from a slice of durations.
func ComputeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return LatencyStats{
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Mean:    sum / time.Duration(len(sorted)),
		P50:     sorted[len(sorted)*50/100],
		P95:     sorted[len(sorted)*95/100],
		P99:     sorted[len(sorted)*99/100],
		Samples: len(sorted),
	}
}
