package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Noob4Eternity/chokidar/internal/schema"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool    *pgxpool.Pool
	table   string
	dialect dialect
}

// OpenPostgres connects to the database at opts.DSN.
func OpenPostgres(ctx context.Context, opts Options) (*Postgres, error) {
	if opts.DSN == "" {
		return nil, errors.New("postgres store requires a connection string")
	}
	if opts.Table == "" {
		opts.Table = DefaultTable
	}

	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	if opts.SimpleProtocol {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &Postgres{
		pool:  pool,
		table: opts.Table,
		dialect: dialect{
			placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
			date: func(d *schema.Date) any {
				if d == nil {
					return nil
				}
				return d.Time()
			},
		},
	}, nil
}

// Insert implements Store.
func (p *Postgres) Insert(ctx context.Context, c *schema.Customer) (string, error) {
	id := uuid.NewString()
	_, err := p.pool.Exec(ctx, p.dialect.insertSQL(p.table), p.dialect.insertArgs(id, c)...)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return "", fmt.Errorf("failed to insert customer: %w", err)
	}
	return id, nil
}

// FindOne implements Store.
func (p *Postgres) FindOne(ctx context.Context, conds ...Condition) (string, error) {
	if err := checkConditions(conds); err != nil {
		return "", err
	}
	query, args := p.dialect.findSQL(p.table, "id::text", conds)

	var id string
	err := p.pool.QueryRow(ctx, query, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query customer: %w", err)
	}
	return id, nil
}

// Ping implements Store.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// EnsureSchema implements Store. It is idempotent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id uuid PRIMARY KEY,
		first_name text,
		last_name text,
		lastname_alt text,
		birthdate date,
		age integer,
		full_address text,
		city text,
		state text,
		postal_code text,
		country text,
		phone text,
		drivers_license_no text UNIQUE,
		license_issued_on date,
		license_expires_on date,
		insurance_id_no text,
		insurance_company_code text,
		insurance_member_no text,
		scanner_created_at timestamptz NOT NULL,
		user_field_1 text,
		user_field_2 text,
		notes text,
		synced_at timestamptz NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_phone_name ON %[1]s(phone, first_name, last_name);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_scanner_created ON %[1]s(scanner_created_at);
	`, p.table)

	// Multi-statement DDL needs the simple protocol regardless of pool mode.
	if _, err := p.pool.Exec(ctx, ddl, pgx.QueryExecModeSimpleProtocol); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close implements Store.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if err == nil || !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation
}
