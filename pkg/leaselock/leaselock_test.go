package leaselock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	key string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if p, ok := dest[0].(*string); ok {
		*p = r.key
	}
	return nil
}

type fakeConn struct {
	rows     []fakeRow
	releases int
}

func (c *fakeConn) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	c.releases++
	return pgconn.CommandTag{}, nil
}

func (c *fakeConn) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	row := c.rows[0]
	if len(c.rows) > 1 {
		c.rows = c.rows[1:]
	}
	return row
}

func TestAcquireBusyWithoutWait(t *testing.T) {
	conn := &fakeConn{rows: []fakeRow{{err: pgx.ErrNoRows}}}
	c := &Client{db: conn}

	_, err := c.Acquire(context.Background(), GraphKey("g1"), Options{})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestAcquireWaitsForLock(t *testing.T) {
	conn := &fakeConn{rows: []fakeRow{
		{err: pgx.ErrNoRows},
		{err: pgx.ErrNoRows},
		{key: "graph:g1"},
	}}
	c := &Client{db: conn}

	lease, err := c.Acquire(context.Background(), GraphKey("g1"), Options{
		Wait:         true,
		WaitInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("expected lock after waiting, got %v", err)
	}
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if conn.releases != 1 {
		t.Errorf("expected 1 release, got %d", conn.releases)
	}
}

func TestAcquireRejectsEmptyKey(t *testing.T) {
	c := &Client{db: &fakeConn{}}
	if _, err := c.Acquire(context.Background(), "", Options{}); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestWithLeaseReleases(t *testing.T) {
	conn := &fakeConn{rows: []fakeRow{{key: "graph:g1"}}}
	c := &Client{db: conn}

	ran := false
	err := c.WithLease(context.Background(), GraphKey("g1"), Options{}, func(ctx context.Context) error {
		if ctx.Err() != nil {
			t.Errorf("lease context should be live inside fn: %v", ctx.Err())
		}
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Error("expected fn to run")
	}
	if conn.releases != 1 {
		t.Errorf("expected 1 release, got %d", conn.releases)
	}
}

func TestLostLeaseCancelsContext(t *testing.T) {
	conn := &fakeConn{rows: []fakeRow{
		{key: "graph:g1"},    // acquire
		{err: pgx.ErrNoRows}, // renew finds the row stolen
	}}
	c := &Client{db: conn}

	lease, err := c.Acquire(context.Background(), GraphKey("g1"), Options{
		TTL:        20 * time.Millisecond,
		RenewEvery: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lease.Release(context.Background())

	select {
	case <-lease.Context.Done():
		if !errors.Is(context.Cause(lease.Context), ErrLost) {
			t.Errorf("expected ErrLost cause, got %v", context.Cause(lease.Context))
		}
	case <-time.After(time.Second):
		t.Fatal("expected lease context to be canceled after losing the lock")
	}
}
