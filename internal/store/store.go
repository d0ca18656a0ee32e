// Package store is the remote customer store the daemon syncs into.
//
// Two backends implement Store: Postgres (pgx, used for Supabase and any
// other hosted Postgres) and SQLite (ncruces/go-sqlite3, embedded, for single
// machine installs and tests). Both keep one row per customer in a single
// table whose drivers_license_no column is UNIQUE; inserting a license that is
// already present fails with an error wrapping ErrConflict.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/Noob4Eternity/chokidar/internal/schema"
)

var (
	// ErrConflict marks a uniqueness violation: the record is already stored.
	ErrConflict = errors.New("record already exists")

	// ErrNotFound is returned by FindOne when nothing matches.
	ErrNotFound = errors.New("record not found")
)

// Backend drivers accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DefaultTable is the customer table name used when none is configured.
const DefaultTable = "customers"

// Store is the remote customer store.
type Store interface {
	// Insert stores c and returns the new row id. A uniqueness violation
	// returns an error wrapping ErrConflict.
	Insert(ctx context.Context, c *schema.Customer) (string, error)

	// FindOne returns the id of the first row matching all conditions, or
	// ErrNotFound.
	FindOne(ctx context.Context, conds ...Condition) (string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// EnsureSchema creates the customer table and its indexes if missing.
	EnsureSchema(ctx context.Context) error

	// Close releases the connection pool.
	Close() error
}

// Options configures Open.
type Options struct {
	Driver string
	DSN    string
	Table  string

	// SimpleProtocol disables prepared statements on Postgres. Required
	// behind transaction-mode poolers such as PgBouncer or Supavisor.
	SimpleProtocol bool

	// MaxConns caps the pool size (default 4).
	MaxConns int
}

// Open connects to the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if !validIdent.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid table name %q", opts.Table)
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 4
	}

	switch opts.Driver {
	case DriverPostgres:
		return OpenPostgres(ctx, opts)
	case DriverSQLite:
		return OpenSQLite(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown store driver %q (want %s or %s)", opts.Driver, DriverPostgres, DriverSQLite)
	}
}

// Condition is an equality match on one customer column.
type Condition struct {
	Column string
	Value  any
}

// Eq returns a Condition matching column = value.
func Eq(column string, value any) Condition {
	return Condition{Column: column, Value: value}
}

var validIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Columns lists the customer table columns written by Insert, in order.
var Columns = []string{
	"id",
	"first_name",
	"last_name",
	"lastname_alt",
	"birthdate",
	"age",
	"full_address",
	"city",
	"state",
	"postal_code",
	"country",
	"phone",
	"drivers_license_no",
	"license_issued_on",
	"license_expires_on",
	"insurance_id_no",
	"insurance_company_code",
	"insurance_member_no",
	"scanner_created_at",
	"user_field_1",
	"user_field_2",
	"notes",
	"synced_at",
}

func checkConditions(conds []Condition) error {
	if len(conds) == 0 {
		return errors.New("at least one condition is required")
	}
	for _, c := range conds {
		if !slices.Contains(Columns, c.Column) {
			return fmt.Errorf("unknown customer column %q", c.Column)
		}
	}
	return nil
}

// dialect captures the SQL differences between backends.
type dialect struct {
	placeholder func(n int) string
	date        func(d *schema.Date) any
}

func (d dialect) insertSQL(table string) string {
	marks := make([]string, len(Columns))
	for i := range Columns {
		marks[i] = d.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(Columns, ", "), strings.Join(marks, ", "))
}

func (d dialect) findSQL(table, idExpr string, conds []Condition) (string, []any) {
	where := make([]string, len(conds))
	args := make([]any, len(conds))
	for i, c := range conds {
		where[i] = fmt.Sprintf("%s = %s", c.Column, d.placeholder(i+1))
		args[i] = c.Value
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 1",
		idExpr, table, strings.Join(where, " AND ")), args
}

// insertArgs returns c's values in Columns order.
func (d dialect) insertArgs(id string, c *schema.Customer) []any {
	return []any{
		id,
		str(c.FirstName),
		str(c.LastName),
		str(c.LastNameAlt),
		d.date(c.Birthdate),
		integer(c.Age),
		str(c.FullAddress),
		str(c.City),
		str(c.State),
		str(c.PostalCode),
		str(c.Country),
		str(c.Phone),
		str(c.LicenseNo),
		d.date(c.LicenseIssuedOn),
		d.date(c.LicenseExpiresOn),
		str(c.InsuranceID),
		str(c.InsuranceCompanyCode),
		str(c.InsuranceMemberNo),
		c.ScannerCreatedAt.UTC(),
		str(c.UserField1),
		str(c.UserField2),
		str(c.Notes),
		syncedAt(c.SyncedAt),
	}
}

func str(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func integer(n *int) any {
	if n == nil {
		return nil
	}
	return int64(*n)
}

func syncedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
