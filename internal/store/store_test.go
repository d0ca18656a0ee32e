package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noob4Eternity/chokidar/internal/schema"
)

func strp(s string) *string { return &s }

func testCustomer(first, last, license string) *schema.Customer {
	c := &schema.Customer{
		FirstName:        strp(first),
		LastName:         strp(last),
		Country:          strp("USA"),
		ScannerCreatedAt: time.Date(2025, 7, 10, 11, 20, 7, 0, time.UTC),
		SyncedAt:         time.Date(2025, 7, 10, 11, 20, 8, 0, time.UTC),
	}
	if license != "" {
		c.LicenseNo = strp(license)
	}
	return c
}

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	ctx := context.Background()

	s, err := OpenSQLite(ctx, Options{DSN: filepath.Join(t.TempDir(), "store.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestSQLite_InsertAndFind(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	c := testCustomer("JOHN", "DOE", "D123")
	age := 42
	c.Age = &age
	bd := schema.Date{Year: 1982, Month: time.November, Day: 20}
	c.Birthdate = &bd
	c.Phone = strp("5551234")

	id, err := s.Insert(ctx, c)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	found, err := s.FindOne(ctx, Eq("drivers_license_no", "D123"))
	require.NoError(t, err)
	assert.Equal(t, id, found)

	found, err = s.FindOne(ctx,
		Eq("phone", "5551234"), Eq("first_name", "JOHN"), Eq("last_name", "DOE"))
	require.NoError(t, err)
	assert.Equal(t, id, found)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_ConflictOnLicense(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	_, err := s.Insert(ctx, testCustomer("JOHN", "DOE", "D123"))
	require.NoError(t, err)

	_, err = s.Insert(ctx, testCustomer("JOHNNY", "DOE", "D123"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_NullLicensesDoNotConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	_, err := s.Insert(ctx, testCustomer("JOHN", "DOE", ""))
	require.NoError(t, err)
	_, err = s.Insert(ctx, testCustomer("JOHN", "DOE", ""))
	require.NoError(t, err)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLite_FindOneNotFound(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.FindOne(context.Background(), Eq("drivers_license_no", "missing"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_FindOneRejectsUnknownColumns(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.FindOne(ctx, Eq("license; DROP TABLE customers", "x"))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	_, err = s.FindOne(ctx)
	assert.Error(t, err)
}

func TestSQLite_EnsureSchemaIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	assert.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, s.Ping(context.Background()))
}

func TestSQLite_CloseTwice(t *testing.T) {
	s, err := OpenSQLite(context.Background(), Options{DSN: filepath.Join(t.TempDir(), "store.db")})
	require.NoError(t, err)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Options{Driver: "mysql", DSN: "x"})
	assert.ErrorContains(t, err, "unknown store driver")

	_, err = Open(ctx, Options{Driver: DriverSQLite, DSN: "x.db", Table: "customers; --"})
	assert.ErrorContains(t, err, "invalid table name")

	_, err = Open(ctx, Options{Driver: DriverPostgres})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Driver: DriverSQLite})
	assert.Error(t, err)
}

func TestOpen_SQLiteCustomTable(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{
		Driver: DriverSQLite,
		DSN:    "file:" + filepath.Join(t.TempDir(), "store.db"),
		Table:  "customers_testing",
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.EnsureSchema(ctx))
	_, err = s.Insert(ctx, testCustomer("JANE", "ROE", "R1"))
	assert.NoError(t, err)
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"unique", &pgconn.PgError{Code: "23505", ConstraintName: "customers_drivers_license_no_key"}, true},
		{"wrapped unique", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"not null", &pgconn.PgError{Code: "23502"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}

func TestDialect_SQL(t *testing.T) {
	d := dialect{placeholder: func(n int) string { return fmt.Sprintf("$%d", n) }}

	query, args := d.findSQL("customers", "id", []Condition{Eq("phone", "1"), Eq("first_name", "A")})
	assert.Equal(t, "SELECT id FROM customers WHERE phone = $1 AND first_name = $2 LIMIT 1", query)
	assert.Equal(t, []any{"1", "A"}, args)

	insert := d.insertSQL("customers")
	assert.Contains(t, insert, "INSERT INTO customers (id, first_name,")
	assert.Contains(t, insert, fmt.Sprintf("$%d)", len(Columns)))
}

// TestPostgres_Integration runs against a live database when
// SCANSYNC_TEST_POSTGRES_DSN is set.
func TestPostgres_Integration(t *testing.T) {
	dsn := os.Getenv("SCANSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SCANSYNC_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	table := fmt.Sprintf("customers_test_%d", time.Now().UnixNano())

	p, err := OpenPostgres(ctx, Options{DSN: dsn, Table: table})
	require.NoError(t, err)
	defer p.Close()
	defer func() {
		_, _ = p.pool.Exec(ctx, "DROP TABLE IF EXISTS "+table)
	}()

	require.NoError(t, p.EnsureSchema(ctx))

	c := testCustomer("JOHN", "DOE", "D123")
	bd := schema.Date{Year: 1982, Month: time.November, Day: 20}
	c.Birthdate = &bd

	id, err := p.Insert(ctx, c)
	require.NoError(t, err)

	_, err = p.Insert(ctx, c)
	assert.True(t, errors.Is(err, ErrConflict))

	found, err := p.FindOne(ctx, Eq("drivers_license_no", "D123"))
	require.NoError(t, err)
	assert.Equal(t, id, found)
}
