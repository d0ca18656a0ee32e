package daemon

import (
	"time"
)

// PassOutcome is how a pass ended.
type PassOutcome string

const (
	OutcomeInserted         PassOutcome = "inserted"
	OutcomeDuplicate        PassOutcome = "duplicate"
	OutcomeAlreadyProcessed PassOutcome = "already_processed"
	OutcomeNoData           PassOutcome = "no_data"
	OutcomeEmptyRow         PassOutcome = "empty_row"
	OutcomeFailed           PassOutcome = "failed" // insert retries exhausted
	OutcomeError            PassOutcome = "error"  // source could not be read
)

// PassReport describes one sync pass.
type PassReport struct {
	Outcome     PassOutcome   `json:"outcome" yaml:"outcome"`
	Fingerprint string        `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Customer    string        `json:"customer,omitempty" yaml:"customer,omitempty"`
	License     string        `json:"license,omitempty" yaml:"license,omitempty"`
	Rows        int           `json:"rows" yaml:"rows"`
	Attempts    int           `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	StartedAt   time.Time     `json:"started_at" yaml:"started_at"`
	Duration    time.Duration `json:"duration_ns" yaml:"duration"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Synced reports whether the pass left the row recorded in the ledger.
func (r PassReport) Synced() bool {
	return r.Outcome == OutcomeInserted || r.Outcome == OutcomeDuplicate
}

// Status is a point-in-time view of a daemon.
type Status struct {
	Running        bool        `json:"running" yaml:"running"`
	Watching       bool        `json:"watching" yaml:"watching"`
	Processing     bool        `json:"processing" yaml:"processing"`
	SourcePath     string      `json:"source_path" yaml:"source_path"`
	StatePath      string      `json:"state_path" yaml:"state_path"`
	LedgerSize     int         `json:"processed_count" yaml:"processed_count"`
	LedgerUpdated  time.Time   `json:"ledger_updated,omitempty" yaml:"ledger_updated,omitempty"`
	StoreConnected bool        `json:"store_connected" yaml:"store_connected"`
	StartedAt      time.Time   `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	LastPass       *PassReport `json:"last_pass,omitempty" yaml:"last_pass,omitempty"`
}
