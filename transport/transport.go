// Package transport defines the connection abstraction the bulk-load client
// writes commands and bulk frames through.
//
// A Transport carries two kinds of outbound message: EOT-terminated commands
// from protocol.Codec and length-prefixed bulk frames from
// protocol.EncodeFrame. Inbound, it yields one EOT-terminated response per
// Receive. Implementations map lost connections to
// protocol.ErrorCodeConnectionClosed and return context errors unchanged.
package transport

import (
	"context"
	"time"
)

type Transport interface {
	// Send writes one encoded command or bulk frame.
	Send(ctx context.Context, data []byte) error

	// Receive reads one EOT-terminated response.
	Receive(ctx context.Context) ([]byte, error)

	Close() error

	// IsHealthy is false once the connection is closed or broken.
	IsHealthy() bool

	// GetQueueDepth returns the number of responses waiting to be received.
	GetQueueDepth() int

	GetMetrics() Metrics
}

// Metrics is a snapshot of a transport's counters.
type Metrics struct {
	TotalRequests  int64
	TotalErrors    int64
	AverageLatency time.Duration
	LastError      error
	LastErrorTime  time.Time
	BytesSent      int64
	BytesReceived  int64

	// ConnectionsActive is 1 while the connection is usable.
	ConnectionsActive int
	QueueDepth        int

	HealthChecksPassed int64
	HealthChecksFailed int64
}

// Factory opens a new connection.
type Factory func(ctx context.Context) (Transport, error)
