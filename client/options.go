package client

import (
	"os"
	"time"

	"github.com/dan-strohschein/syndrdb-bulkload/logging"
)

// ClientOptions configures the bulk-load client behavior.
type ClientOptions struct {
	// DefaultTimeoutMs is the timeout in milliseconds applied to Exec when
	// the context has no deadline.
	// Default: 10000 (10 seconds)
	DefaultTimeoutMs int

	// DebugMode logs failures with their full JSON form, including stack
	// traces and cause chains.
	// Default: false
	DebugMode bool

	// AttentionTimeout bounds the attention exchange that resets the
	// connection after an aborted bulk load. When it elapses the connection
	// is closed.
	// Default: 5s
	AttentionTimeout time.Duration

	// BulkTimeout is applied by NewBulkLoad to loads created without a
	// timeout. Zero means no timeout.
	// Default: 0
	BulkTimeout time.Duration

	// ValidateRows turns on row validation for every load created by
	// NewBulkLoad.
	// Default: false
	ValidateRows bool

	// Logger is the logger implementation to use.
	// If nil, a default logger is used.
	Logger logging.Logger

	// LogLevel sets the minimum log level (DEBUG, INFO, WARN, ERROR) of the
	// default logger.
	// Default: "INFO"
	LogLevel string

	// OnStateChange is called on every connection state change.
	OnStateChange StateChangeHandler
}

// DefaultOptions returns ClientOptions with default values.
func DefaultOptions() ClientOptions {
	return ClientOptions{
		DefaultTimeoutMs: 10000,
		DebugMode:        false,
		AttentionTimeout: 5 * time.Second,
		LogLevel:         "INFO",
	}
}

// withDefaults fills zero values from DefaultOptions.
func (o ClientOptions) withDefaults() ClientOptions {
	def := DefaultOptions()
	if o.DefaultTimeoutMs <= 0 {
		o.DefaultTimeoutMs = def.DefaultTimeoutMs
	}
	if o.AttentionTimeout <= 0 {
		o.AttentionTimeout = def.AttentionTimeout
	}
	if o.LogLevel == "" {
		o.LogLevel = def.LogLevel
	}
	if o.Logger == nil {
		o.Logger = logging.NewLogger(o.LogLevel, os.Stderr)
	}
	return o
}

func (o ClientOptions) defaultTimeout() time.Duration {
	return time.Duration(o.DefaultTimeoutMs) * time.Millisecond
}
