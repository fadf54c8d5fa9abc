// Package testutil holds test helpers shared by the bulk load packages: row
// factories, a client wired to the in-memory server and a recording loader.
package testutil

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
	"github.com/dan-strohschein/syndrdb-bulkload/client"
	"github.com/dan-strohschein/syndrdb-bulkload/logging"
	"github.com/dan-strohschein/syndrdb-bulkload/transport/mock"
)

// NewTestClient returns a client connected to a fresh in-memory server. The
// client is closed when the test ends.
//
// Example:
//
//	c, server := testutil.NewTestClient(t)
//	server.CreateTable("users", nil)
func NewTestClient(tb testing.TB) (*client.Client, *mock.Server) {
	tb.Helper()
	server := mock.NewServer()
	opts := client.DefaultOptions()
	opts.Logger = logging.NewNoopLogger()
	c := client.New(server.Connect(), &opts)
	tb.Cleanup(func() { _ = c.Close() })
	return c, server
}

// WithTimeout returns a context that is canceled when the test ends or the
// timeout elapses. The default timeout is 5 seconds.
func WithTimeout(tb testing.TB, timeout ...time.Duration) context.Context {
	tb.Helper()
	d := 5 * time.Second
	if len(timeout) > 0 {
		d = timeout[0]
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	tb.Cleanup(cancel)
	return ctx
}

// AddRows buffers every row into bl.
func AddRows(tb testing.TB, bl *bulk.BulkLoad, rows []bulk.Row) {
	tb.Helper()
	for i, row := range rows {
		if err := bl.AddRow(row); err != nil {
			tb.Fatalf("row %d: %v", i, err)
		}
	}
}

// WaitFor polls condition until it returns true or timeout elapses.
//
// Example:
//
//	testutil.WaitFor(t, time.Second, 10*time.Millisecond, func() bool {
//	    return bl.State() == bulk.Transmitting
//	})
func WaitFor(tb testing.TB, timeout, interval time.Duration, condition func() bool) bool {
	tb.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}

	tb.Errorf("condition not met within timeout %v", timeout)
	return false
}

// RecordingLoader is a bulk.Loader that drains every transfer and keeps the
// encoded rows. Scripted errors are returned after the rows are read.
type RecordingLoader struct {
	mu        sync.Mutex
	transfers []*bulk.Transfer
	rows      [][]any
	err       error
	failAfter int
}

// NewRecordingLoader creates an empty recording loader.
func NewRecordingLoader() *RecordingLoader {
	return &RecordingLoader{}
}

// WillReturnError makes every later transfer fail with err once it has read
// n rows. n <= 0 reads the whole transfer first.
func (l *RecordingLoader) WillReturnError(err error, n int) *RecordingLoader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
	l.failAfter = n
	return l
}

// LoadBulk implements bulk.Loader.
func (l *RecordingLoader) LoadBulk(ctx context.Context, t *bulk.Transfer) (int64, error) {
	l.mu.Lock()
	l.transfers = append(l.transfers, t)
	fail, failAfter := l.err, l.failAfter
	l.mu.Unlock()

	var read [][]any
	for {
		if fail != nil && failAfter > 0 && len(read) == failAfter {
			return 0, fail
		}
		row, err := t.Rows.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
		read = append(read, row.Values)
	}
	if fail != nil {
		return 0, fail
	}

	l.mu.Lock()
	l.rows = append(l.rows, read...)
	l.mu.Unlock()
	return int64(len(read)), nil
}

// Transfers returns every transfer seen, in order.
func (l *RecordingLoader) Transfers() []*bulk.Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*bulk.Transfer, len(l.transfers))
	copy(out, l.transfers)
	return out
}

// Rows returns the values of every row committed by a successful transfer.
func (l *RecordingLoader) Rows() [][]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]any, len(l.rows))
	copy(out, l.rows)
	return out
}
