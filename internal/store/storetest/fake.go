// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Noob4Eternity/chokidar/internal/schema"
	"github.com/Noob4Eternity/chokidar/internal/store"
)

// Fake is an in-memory Store that enforces license uniqueness and can be
// scripted to fail.
type Fake struct {
	mu         sync.Mutex
	rows       map[string]*schema.Customer
	order      []string
	insertErrs []error
	findErrs   []error
	inserts    int
	finds      int
	pingErr    error
	closed     bool

	// OnInsert, when set, runs at the start of every Insert call.
	OnInsert func(ctx context.Context, c *schema.Customer)
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{rows: make(map[string]*schema.Customer)}
}

// FailInserts queues errors returned by the next Insert calls, in order.
// A nil entry lets that call proceed normally.
func (f *Fake) FailInserts(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertErrs = append(f.insertErrs, errs...)
}

// FailFinds queues errors returned by the next FindOne calls.
func (f *Fake) FailFinds(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findErrs = append(f.findErrs, errs...)
}

// SetPingErr makes Ping return err.
func (f *Fake) SetPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

// Seed stores c without counting an insert call.
func (f *Fake) Seed(c *schema.Customer) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.put(c)
}

// InsertCalls returns the number of Insert calls, including failed ones.
func (f *Fake) InsertCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts
}

// FindCalls returns the number of FindOne calls.
func (f *Fake) FindCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finds
}

// Len returns the number of stored rows.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// Rows returns the stored customers in insertion order.
func (f *Fake) Rows() []*schema.Customer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*schema.Customer, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.rows[id])
	}
	return out
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Insert implements store.Store.
func (f *Fake) Insert(ctx context.Context, c *schema.Customer) (string, error) {
	if f.OnInsert != nil {
		f.OnInsert(ctx, c)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++

	if len(f.insertErrs) > 0 {
		err := f.insertErrs[0]
		f.insertErrs = f.insertErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if c.LicenseNo != nil {
		for _, row := range f.rows {
			if row.LicenseNo != nil && *row.LicenseNo == *c.LicenseNo {
				return "", fmt.Errorf("%w: drivers_license_no %s", store.ErrConflict, *c.LicenseNo)
			}
		}
	}
	return f.put(c), nil
}

// FindOne implements store.Store. It supports the identity and contact
// columns used for duplicate lookups.
func (f *Fake) FindOne(ctx context.Context, conds ...store.Condition) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++

	if len(f.findErrs) > 0 {
		err := f.findErrs[0]
		f.findErrs = f.findErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if len(conds) == 0 {
		return "", errors.New("at least one condition is required")
	}

	for _, id := range f.order {
		ok, err := matches(f.rows[id], conds)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
	}
	return "", store.ErrNotFound
}

// Ping implements store.Store.
func (f *Fake) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

// EnsureSchema implements store.Store.
func (f *Fake) EnsureSchema(context.Context) error { return nil }

// Close implements store.Store.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *Fake) put(c *schema.Customer) string {
	id := fmt.Sprintf("fake-%d", len(f.order)+1)
	f.rows[id] = c
	f.order = append(f.order, id)
	return id
}

func matches(c *schema.Customer, conds []store.Condition) (bool, error) {
	for _, cond := range conds {
		var field *string
		switch cond.Column {
		case "drivers_license_no":
			field = c.LicenseNo
		case "phone":
			field = c.Phone
		case "first_name":
			field = c.FirstName
		case "last_name":
			field = c.LastName
		default:
			return false, fmt.Errorf("storetest: unsupported column %q", cond.Column)
		}
		// NULL never compares equal.
		want, ok := cond.Value.(string)
		if !ok || field == nil || *field != want {
			return false, nil
		}
	}
	return true, nil
}
