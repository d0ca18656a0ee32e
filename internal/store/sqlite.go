package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/Noob4Eternity/chokidar/internal/schema"
)

// SQLite is an embedded Store backed by a single database file in WAL mode.
type SQLite struct {
	conn    *sql.DB
	path    string
	table   string
	dialect dialect
}

// OpenSQLite opens (creating if needed) the database file at opts.DSN. The
// DSN may be a bare path or a "file:" URI.
//
// The caller MUST call Close() when done so the WAL is checkpointed.
func OpenSQLite(ctx context.Context, opts Options) (*SQLite, error) {
	path := strings.TrimPrefix(opts.DSN, "file:")
	if path == "" {
		return nil, errors.New("sqlite store requires a database path")
	}
	if opts.Table == "" {
		opts.Table = DefaultTable
	}

	if !strings.HasPrefix(path, ":memory:") {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	maxConns := opts.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(maxConns)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLite{
		conn:  conn,
		path:  path,
		table: opts.Table,
		dialect: dialect{
			placeholder: func(n int) string { return "?" + strconv.Itoa(n) },
			date: func(d *schema.Date) any {
				if d == nil {
					return nil
				}
				return d.String()
			},
		},
	}

	pragmas := []struct {
		stmt string
		what string
	}{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p.stmt); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	return s, nil
}

// Insert implements Store.
func (s *SQLite) Insert(ctx context.Context, c *schema.Customer) (string, error) {
	id := uuid.NewString()
	_, err := s.conn.ExecContext(ctx, s.dialect.insertSQL(s.table), s.dialect.insertArgs(id, c)...)
	if err != nil {
		if isSQLiteConflict(err) {
			return "", fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return "", fmt.Errorf("failed to insert customer: %w", err)
	}
	return id, nil
}

// FindOne implements Store.
func (s *SQLite) FindOne(ctx context.Context, conds ...Condition) (string, error) {
	if err := checkConditions(conds); err != nil {
		return "", err
	}
	query, args := s.dialect.findSQL(s.table, "id", conds)

	var id string
	err := s.conn.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query customer: %w", err)
	}
	return id, nil
}

// Count returns the number of stored customers.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count customers: %w", err)
	}
	return n, nil
}

// Ping implements Store.
func (s *SQLite) Ping(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("database is closed")
	}
	return s.conn.PingContext(ctx)
}

// EnsureSchema implements Store. It is idempotent.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		first_name TEXT,
		last_name TEXT,
		lastname_alt TEXT,
		birthdate TEXT,
		age INTEGER,
		full_address TEXT,
		city TEXT,
		state TEXT,
		postal_code TEXT,
		country TEXT,
		phone TEXT,
		drivers_license_no TEXT UNIQUE,
		license_issued_on TEXT,
		license_expires_on TEXT,
		insurance_id_no TEXT,
		insurance_company_code TEXT,
		insurance_member_no TEXT,
		scanner_created_at TEXT NOT NULL,
		user_field_1 TEXT,
		user_field_2 TEXT,
		notes TEXT,
		synced_at TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_phone_name ON %[1]s(phone, first_name, last_name);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_scanner_created ON %[1]s(scanner_created_at);
	`, s.table)

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close implements Store. It checkpoints the WAL before closing.
func (s *SQLite) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

func isSQLiteConflict(err error) bool {
	return errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) || errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY)
}
