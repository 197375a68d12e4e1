package leaselock

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Client) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, New(mock)
}

func keyRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"lock_key"})
}

func TestAcquire_BusyWithoutWait(t *testing.T) {
	mock, c := newMock(t)
	key := PlanKey("V1StGXR8_Z5jdHi6B")

	mock.ExpectQuery(regexp.QuoteMeta(tryAcquireSQL)).
		WithArgs(key, pgxmock.AnyArg(), int64(60000)).
		WillReturnRows(keyRows())

	_, err := c.Acquire(context.Background(), key, Options{TTL: time.Minute})
	assert.ErrorIs(t, err, ErrBusy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithLease_RunsAndReleases(t *testing.T) {
	defer goleak.VerifyNone(t)
	mock, c := newMock(t)
	key := PlanKey("plan-1")

	mock.ExpectQuery(regexp.QuoteMeta(tryAcquireSQL)).
		WithArgs(key, pgxmock.AnyArg(), int64(3600000)).
		WillReturnRows(keyRows().AddRow(key))
	mock.ExpectExec(regexp.QuoteMeta(releaseSQL)).
		WithArgs(key, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	ran := false
	err := c.WithLease(context.Background(), key, Options{TTL: time.Hour, Owner: "talentctl:"}, func(ctx context.Context) error {
		ran = true
		return ctx.Err()
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithLease_PropagatesCallbackError(t *testing.T) {
	mock, c := newMock(t)
	key := PlanKey("plan-2")
	boom := errors.New("store unavailable")

	mock.ExpectQuery(regexp.QuoteMeta(tryAcquireSQL)).
		WithArgs(key, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(keyRows().AddRow(key))
	mock.ExpectExec(regexp.QuoteMeta(releaseSQL)).
		WithArgs(key, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err := c.WithLease(context.Background(), key, Options{}, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestLease_LostOnFailedRenewal(t *testing.T) {
	mock, c := newMock(t)
	key := PlanKey("plan-3")

	mock.ExpectQuery(regexp.QuoteMeta(tryAcquireSQL)).
		WithArgs(key, pgxmock.AnyArg(), int64(100)).
		WillReturnRows(keyRows().AddRow(key))
	mock.ExpectQuery(regexp.QuoteMeta(renewSQL)).
		WithArgs(key, pgxmock.AnyArg(), int64(100)).
		WillReturnRows(keyRows())
	mock.ExpectExec(regexp.QuoteMeta(releaseSQL)).
		WithArgs(key, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	lease, err := c.Acquire(context.Background(), key, Options{TTL: 100 * time.Millisecond, RenewEvery: 10 * time.Millisecond})
	require.NoError(t, err)

	select {
	case <-lease.Context.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("lease context was not cancelled after renewal failed")
	}
	assert.ErrorIs(t, context.Cause(lease.Context), ErrLost)
	require.NoError(t, lease.Release(context.Background()))
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{TTL: 10 * time.Second, RenewEvery: time.Minute}.withDefaults()
	assert.Equal(t, 5*time.Second, o.RenewEvery)
	assert.Equal(t, 250*time.Millisecond, o.WaitInterval)

	o = Options{}.withDefaults()
	assert.Equal(t, 5*time.Minute, o.TTL)
}
