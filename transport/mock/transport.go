// Package mock provides an in-memory transport backed by a scripted server
// that speaks the bulk-load protocol.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dan-strohschein/syndrdb-bulkload/protocol"
	"github.com/dan-strohschein/syndrdb-bulkload/transport"
)

// Faults are failures and delays injected into a MockTransport.
type Faults struct {
	SendErr    error // returned by every Send
	ReceiveErr error // returned by every Receive

	// Garbage, when set, is returned by every Receive in place of the
	// server's replies.
	Garbage []byte

	SendDelay    time.Duration
	RowDelay     time.Duration // added to sends of row frames
	ReceiveDelay time.Duration

	// DisconnectAfterRows drops the connection when row frame n+1 arrives.
	DisconnectAfterRows int

	Unhealthy bool
}

// MockTransport implements transport.Transport. Every Send is handled by the
// attached Server and its reply, if any, is queued for Receive.
type MockTransport struct {
	server  *Server
	replies chan []byte
	closed  chan struct{}

	mu       sync.Mutex
	faults   Faults
	isClosed bool
	session  *bulkSession
	rowsSeen int
	sent     [][]byte

	requests      atomic.Int64
	errs          atomic.Int64
	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	latency       atomic.Int64
	checksPassed  atomic.Int64
	checksFailed  atomic.Int64
}

const replyBuffer = 64

// NewMockTransport connects to a fresh Server.
func NewMockTransport() *MockTransport {
	return NewServer().Connect()
}

func newMockTransport(s *Server) *MockTransport {
	return &MockTransport{
		server:  s,
		replies: make(chan []byte, replyBuffer),
		closed:  make(chan struct{}),
	}
}

func (m *MockTransport) Server() *Server { return m.server }

// Inject replaces the transport's faults.
func (m *MockTransport) Inject(f Faults) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = f
	return m
}

func closedError() error {
	return protocol.ConnectionClosedError("transport is closed", nil, nil)
}

func isRowFrame(data []byte) bool {
	return len(data) > 0 && protocol.FrameKind(data[0]) == protocol.FrameRow
}

// sleep waits d unless ctx ends or the transport closes first.
func (m *MockTransport) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.closed:
		return closedError()
	}
}

func (m *MockTransport) Send(ctx context.Context, data []byte) error {
	m.requests.Add(1)
	start := time.Now()

	m.mu.Lock()
	f := m.faults
	closed := m.isClosed
	m.mu.Unlock()
	if closed {
		m.errs.Add(1)
		return closedError()
	}

	delay := f.SendDelay
	if isRowFrame(data) {
		delay += f.RowDelay
	}
	if err := m.sleep(ctx, delay); err != nil {
		return err
	}
	if f.SendErr != nil {
		m.errs.Add(1)
		return f.SendErr
	}

	m.mu.Lock()
	if m.dropLocked(data) {
		m.mu.Unlock()
		m.errs.Add(1)
		return protocol.ConnectionClosedError("connection reset by peer", nil, nil)
	}
	m.sent = append(m.sent, data)
	reply := m.handleLocked(data)
	m.mu.Unlock()

	m.bytesSent.Add(int64(len(data)))
	m.latency.Add(int64(time.Since(start)))
	if reply == nil {
		return nil
	}

	encoded, err := protocol.EncodeResponse(reply)
	if err != nil {
		return err
	}
	// A handled message always queues its reply when there is room.
	select {
	case m.replies <- encoded:
		return nil
	default:
	}
	select {
	case m.replies <- encoded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.closed:
		return closedError()
	}
}

// dropLocked simulates the peer going away mid-load.
func (m *MockTransport) dropLocked(data []byte) bool {
	n := m.faults.DisconnectAfterRows
	if n <= 0 || !isRowFrame(data) {
		return false
	}
	if m.rowsSeen < n {
		m.rowsSeen++
		return false
	}
	m.session = nil
	m.closeLocked()
	return true
}

func (m *MockTransport) Receive(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	f := m.faults
	closed := m.isClosed
	m.mu.Unlock()
	if closed {
		return nil, closedError()
	}

	if err := m.sleep(ctx, f.ReceiveDelay); err != nil {
		return nil, err
	}
	if f.ReceiveErr != nil {
		m.errs.Add(1)
		return nil, f.ReceiveErr
	}

	data := f.Garbage
	if data == nil {
		select {
		case data = <-m.replies:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.closed:
			return nil, closedError()
		}
	}
	m.bytesReceived.Add(int64(len(data)))
	return data, nil
}

// Close is idempotent.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
	return nil
}

func (m *MockTransport) closeLocked() {
	if !m.isClosed {
		m.isClosed = true
		close(m.closed)
	}
}

func (m *MockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isClosed
}

func (m *MockTransport) IsHealthy() bool {
	m.mu.Lock()
	healthy := !m.isClosed && !m.faults.Unhealthy
	m.mu.Unlock()
	if healthy {
		m.checksPassed.Add(1)
	} else {
		m.checksFailed.Add(1)
	}
	return healthy
}

// GetQueueDepth is the number of replies not yet received.
func (m *MockTransport) GetQueueDepth() int {
	return len(m.replies)
}

func (m *MockTransport) GetMetrics() transport.Metrics {
	requests := m.requests.Load()
	var avg time.Duration
	if requests > 0 {
		avg = time.Duration(m.latency.Load() / requests)
	}
	return transport.Metrics{
		TotalRequests:      requests,
		TotalErrors:        m.errs.Load(),
		AverageLatency:     avg,
		BytesSent:          m.bytesSent.Load(),
		BytesReceived:      m.bytesReceived.Load(),
		QueueDepth:         m.GetQueueDepth(),
		HealthChecksPassed: m.checksPassed.Load(),
		HealthChecksFailed: m.checksFailed.Load(),
	}
}

// Sent returns every message the server accepted, in order.
func (m *MockTransport) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.sent...)
}

// FrameCount returns how many frames of kind were sent.
func (m *MockTransport) FrameCount(kind protocol.FrameKind) int {
	n := 0
	for _, data := range m.Sent() {
		if protocol.IsFrame(data) && protocol.FrameKind(data[0]) == kind {
			n++
		}
	}
	return n
}

// InBulkLoad reports whether the server side holds an open bulk load.
func (m *MockTransport) InBulkLoad() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}
