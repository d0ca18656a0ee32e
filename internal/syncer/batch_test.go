package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noob4Eternity/chokidar/internal/metrics"
	"github.com/Noob4Eternity/chokidar/internal/schema"
	"github.com/Noob4Eternity/chokidar/internal/store"
	"github.com/Noob4Eternity/chokidar/internal/store/storetest"
)

func newTestBatch(st *storetest.Fake, attempts int) (*Batch, *[]time.Duration) {
	b := NewBatch(st, BatchConfig{
		Attempts: attempts,
		Delay:    500 * time.Millisecond,
		Size:     2,
		Logger:   quietLogger(),
	})
	return b, recordSleeps(&b.sleep)
}

func TestSyncAll_InsertsAndSkips(t *testing.T) {
	st := storetest.New()
	st.Seed(customer("JOHN", "DOE", "D1"))

	withPhone := customer("JANE", "ROE", "")
	withPhone.Phone = strp("5551234")
	st.Seed(withPhone)

	samePhoneDifferentName := customer("JIM", "ROE", "")
	samePhoneDifferentName.Phone = strp("5551234")

	input := []*schema.Customer{
		customer("JOHN", "DOE", "D1"),
		customer("ALICE", "SMITH", "A1"),
		{FirstName: strp("JANE"), LastName: strp("ROE"), Phone: strp("5551234")},
		samePhoneDifferentName,
		customer("BOB", "JONES", ""),
	}

	b, delays := newTestBatch(st, 3)
	report, err := b.SyncAll(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, BatchReport{Total: 5, Processed: 5, Inserted: 3, Skipped: 2}, report)
	assert.Equal(t, 5, st.Len())
	assert.Empty(t, *delays)
}

func TestSyncAll_RetriesWithFixedDelay(t *testing.T) {
	st := storetest.New()
	st.FailFinds(errTransient, errTransient)
	b, delays := newTestBatch(st, 3)

	report, err := b.SyncAll(context.Background(), []*schema.Customer{customer("JOHN", "DOE", "D1")})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, *delays)
}

func TestSyncAll_ExhaustionAbortsRemaining(t *testing.T) {
	st := storetest.New()
	b, _ := newTestBatch(st, 2)

	input := []*schema.Customer{
		customer("A", "ONE", "L1"),
		customer("B", "TWO", "L2"),
		customer("C", "THREE", "L3"),
	}
	// First record succeeds, the second fails both attempts.
	st.FailInserts(nil, errTransient, errTransient)

	report, err := b.SyncAll(context.Background(), input)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errTransient))
	assert.Equal(t, BatchReport{Total: 3, Processed: 1, Inserted: 1}, report)
	assert.Equal(t, 1, st.Len())
	assert.Equal(t, 3, st.InsertCalls(), "third record is never attempted")
}

// blindLookups never finds a match, so every record reaches Insert.
type blindLookups struct {
	*storetest.Fake
}

func (blindLookups) FindOne(context.Context, ...store.Condition) (string, error) {
	return "", store.ErrNotFound
}

func TestSyncAll_InsertConflictCountsAsSkipped(t *testing.T) {
	fake := storetest.New()
	fake.Seed(customer("JOHN", "DOE", "D1"))
	b := NewBatch(blindLookups{fake}, BatchConfig{Attempts: 3, Logger: quietLogger()})
	delays := recordSleeps(&b.sleep)

	report, err := b.SyncAll(context.Background(), []*schema.Customer{customer("JOHN", "DOE", "D1")})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, fake.InsertCalls(), "conflicts are not retried")
	assert.Empty(t, *delays)
	assert.Equal(t, 1, fake.Len())
}

func TestSyncAll_Metrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	st := storetest.New()
	st.Seed(customer("JOHN", "DOE", "D1"))
	b := NewBatch(st, BatchConfig{Logger: quietLogger(), Metrics: m})

	_, err := b.SyncAll(context.Background(), []*schema.Customer{
		customer("JOHN", "DOE", "D1"),
		customer("JANE", "DOE", "D2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchRecords.WithLabelValues("inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchRecords.WithLabelValues("skipped")))
}

func TestSyncAll_Empty(t *testing.T) {
	b, _ := newTestBatch(storetest.New(), 1)
	report, err := b.SyncAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, BatchReport{}, report)
}
