package bulk

import (
	"context"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
)

type sinkRequest struct {
	row  any
	done chan error
}

// RowSink accepts rows one at a time while the load is executing. A Write
// returns only once the engine has taken and encoded the row, and the
// engine takes the next row only when the loader asks for it, so a fast
// producer is paused rather than buffered.
type RowSink struct {
	b      *BulkLoad
	reqs   chan *sinkRequest
	closed chan struct{}
	once   sync.Once
}

func newRowSink(b *BulkLoad) *RowSink {
	return &RowSink{
		b:      b,
		reqs:   make(chan *sinkRequest),
		closed: make(chan struct{}),
	}
}

// Write hands row to the engine and returns the row's normalization,
// validation or encoding error. After the load has ended it returns the
// load's error, or ErrSinkClosed if the load succeeded.
func (s *RowSink) Write(ctx context.Context, row any) error {
	req := &sinkRequest{row: row, done: make(chan error, 1)}
	select {
	case s.reqs <- req:
	case <-s.closed:
		return ErrSinkClosed
	case <-s.b.done:
		return s.b.terminalError()
	case <-s.b.canceled:
		return s.b.abortError()
	case <-ctx.Done():
		return ctx.Err()
	}
	// The engine always answers a request it has taken.
	return <-req.done
}

// RowIterator produces rows for WriteAll. Next returns io.EOF when done.
type RowIterator interface {
	Next(ctx context.Context) (any, error)
}

// WriteAll pipes every row of it into the sink and closes it. A producer
// error cancels the load.
func (s *RowSink) WriteAll(ctx context.Context, it RowIterator) error {
	for {
		row, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			s.Close()
			return nil
		}
		if err != nil {
			s.b.Cancel()
			return errors.Wrap(err, "row producer")
		}
		if err := s.Write(ctx, row); err != nil {
			return err
		}
	}
}

// Close ends the row stream. It is safe to call more than once.
func (s *RowSink) Close() {
	s.once.Do(func() { close(s.closed) })
}

// Done is closed once the load has an outcome.
func (s *RowSink) Done() <-chan struct{} {
	return s.b.done
}

// next waits for the producer's next row. It returns io.EOF once the sink
// is closed.
func (s *RowSink) next(ctx context.Context) (*sinkRequest, error) {
	select {
	case req := <-s.reqs:
		return req, nil
	case <-s.closed:
		return nil, io.EOF
	case <-s.b.canceled:
		return nil, s.b.abortError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
