// Package tcp carries the bulk-load protocol over a TCP connection.
package tcp

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/dan-strohschein/syndrdb-bulkload/protocol"
	"github.com/dan-strohschein/syndrdb-bulkload/transport"
)

// Options configures a connection.
type Options struct {
	Address   string        // host:port
	Timeout   time.Duration // dial timeout; defaults to 30s
	KeepAlive time.Duration // zero uses the system default

	// WriteTimeout bounds one message write once it has started. Defaults
	// to 30s.
	WriteTimeout time.Duration
}

const (
	defaultDialTimeout  = 30 * time.Second
	defaultWriteTimeout = 30 * time.Second
)

// Conn is one TCP connection carrying EOT-terminated messages. Send and
// Receive may run concurrently with each other, but not with themselves.
type Conn struct {
	opts    Options
	conn    net.Conn
	reader  *bufio.Reader
	pending []byte
	closed  atomic.Bool
	broken  atomic.Bool
	writeMu sync.Mutex
	readMu  sync.Mutex
	stats   stats
}

type stats struct {
	requests      atomic.Int64
	errs          atomic.Int64
	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	latency       atomic.Int64

	mu        sync.Mutex
	lastErr   error
	lastErrAt time.Time
}

func (s *stats) fail(err error) {
	s.errs.Add(1)
	s.mu.Lock()
	s.lastErr, s.lastErrAt = err, time.Now()
	s.mu.Unlock()
}

func (s *stats) took(d time.Duration) { s.latency.Add(int64(d)) }

// aLongTimeAgo is a deadline that unblocks pending I/O immediately.
var aLongTimeAgo = time.Unix(1, 0)

// Dial connects to opts.Address.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	if opts.Address == "" {
		return nil, errors.New("tcp: address is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDialTimeout
	}

	d := net.Dialer{Timeout: opts.Timeout, KeepAlive: opts.KeepAlive}
	nc, err := d.DialContext(ctx, "tcp", opts.Address)
	if err != nil {
		return nil, protocol.ConnectionError("failed to connect to "+opts.Address, err, map[string]interface{}{
			"address": opts.Address,
			"timeout": opts.Timeout.String(),
		})
	}
	return newConn(nc, opts), nil
}

func newConn(nc net.Conn, opts Options) *Conn {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Conn{opts: opts, conn: nc, reader: bufio.NewReader(nc)}
}

// Factory returns a transport.Factory dialing opts.
func Factory(opts Options) transport.Factory {
	return func(ctx context.Context) (transport.Transport, error) {
		return Dial(ctx, opts)
	}
}

// Send writes one encoded message. ctx is checked only before the write
// starts: a message that has begun is always written whole, bounded by
// WriteTimeout, so cancellation never leaves half a frame on the wire. A
// write that fails part way marks the transport broken.
func (t *Conn) Send(ctx context.Context, data []byte) error {
	start := time.Now()
	t.stats.requests.Add(1)

	if err := t.usable(); err != nil {
		t.stats.fail(err)
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		t.stats.fail(err)
		return err
	}

	_ = t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	n, err := t.conn.Write(data)
	_ = t.conn.SetWriteDeadline(time.Time{})
	t.stats.bytesSent.Add(int64(n))
	if err != nil {
		if n > 0 {
			t.broken.Store(true)
			err = protocol.ConnectionClosedError("write interrupted part way", err, map[string]interface{}{
				"address": t.opts.Address,
				"written": n,
				"size":    len(data),
			})
		} else {
			err = t.wrapError(context.Background(), err)
		}
		t.stats.fail(err)
		return err
	}

	t.stats.took(time.Since(start))
	return nil
}

// Receive returns the next message without its EOT. Bytes read before an interruption
// are kept, so a canceled Receive does not lose part of the next response.
func (t *Conn) Receive(ctx context.Context) ([]byte, error) {
	start := time.Now()

	if err := t.usable(); err != nil {
		t.stats.fail(err)
		return nil, err
	}

	t.readMu.Lock()
	defer t.readMu.Unlock()

	_, err := t.interruptible(ctx, t.conn.SetReadDeadline, func() (int, error) {
		chunk, err := t.reader.ReadBytes(protocol.EOT)
		t.pending = append(t.pending, chunk...)
		return len(chunk), err
	})
	if err != nil {
		err = t.wrapError(ctx, err)
		t.stats.fail(err)
		return nil, err
	}

	// Return a copy without the EOT since pending is reused
	data := make([]byte, len(t.pending)-1)
	copy(data, t.pending)
	t.pending = t.pending[:0]

	t.stats.bytesReceived.Add(int64(len(data) + 1))
	t.stats.took(time.Since(start))
	return data, nil
}

// interruptible runs a read under ctx. When ctx ends, an expired deadline
// unblocks op at once, so ctx.Err is set whenever op was interrupted.
func (t *Conn) interruptible(ctx context.Context, setDeadline func(time.Time) error, op func() (int, error)) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = setDeadline(aLongTimeAgo)
	})

	n, err := op()

	if !stop() {
		<-fired
	}
	_ = setDeadline(time.Time{})
	return n, err
}

// wrapError maps I/O failures to transport errors. Context errors pass
// through so callers can tell an abort from a lost connection.
func (t *Conn) wrapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return protocol.TimeoutError("i/o timeout", err, map[string]interface{}{
			"address": t.opts.Address,
		})
	}

	t.broken.Store(true)
	message := "connection lost"
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		message = "connection closed by peer"
	}
	return protocol.ConnectionClosedError(message, err, map[string]interface{}{
		"address": t.opts.Address,
	})
}

func (t *Conn) usable() error {
	if t.closed.Load() {
		return protocol.ConnectionClosedError("transport is closed", nil, nil)
	}
	if t.broken.Load() {
		return protocol.ConnectionClosedError("connection is broken", nil, map[string]interface{}{
			"address": t.opts.Address,
		})
	}
	return nil
}

// Close is idempotent.
func (t *Conn) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.conn.Close()
}

// IsHealthy is false once the connection is closed or broken.
func (t *Conn) IsHealthy() bool {
	return !t.closed.Load() && !t.broken.Load()
}

// GetQueueDepth counts complete messages
// already buffered, and reports zero while a Receive is in progress.
func (t *Conn) GetQueueDepth() int {
	if !t.readMu.TryLock() {
		return 0
	}
	defer t.readMu.Unlock()

	buffered, _ := t.reader.Peek(t.reader.Buffered())
	return bytes.Count(buffered, []byte{protocol.EOT})
}

func (t *Conn) GetMetrics() transport.Metrics {
	t.stats.mu.Lock()
	lastErr, lastErrAt := t.stats.lastErr, t.stats.lastErrAt
	t.stats.mu.Unlock()

	m := transport.Metrics{
		TotalRequests: t.stats.requests.Load(),
		TotalErrors:   t.stats.errs.Load(),
		LastError:     lastErr,
		LastErrorTime: lastErrAt,
		BytesSent:     t.stats.bytesSent.Load(),
		BytesReceived: t.stats.bytesReceived.Load(),
		QueueDepth:    t.GetQueueDepth(),
	}
	if m.TotalRequests > 0 {
		m.AverageLatency = time.Duration(t.stats.latency.Load() / m.TotalRequests)
	}
	if t.IsHealthy() {
		m.ConnectionsActive = 1
	}
	return m
}
