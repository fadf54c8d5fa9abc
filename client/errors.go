package client

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
	"github.com/dan-strohschein/syndrdb-bulkload/protocol"
)

// CodeProtocolError is the server code used for replies the client cannot
// interpret.
const CodeProtocolError = "PROTOCOL_ERROR"

var errClientClosed = errors.New("client is closed")

// transportError maps a transport failure. Context errors pass through so a
// bulk load can attribute them to its own cancel or timeout; anything else
// means the connection is gone.
func transportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if bulk.KindOf(err) != bulk.KindUnknown {
		return err
	}
	return bulk.NewConnectionClosedError(err)
}

// isConnectionLost reports whether err leaves the connection unusable.
func isConnectionLost(err error) bool {
	return bulk.KindOf(err) == bulk.KindConnectionClosed
}

// responseError converts an unsuccessful server reply.
func responseError(resp *protocol.Response) error {
	message := resp.Error
	if message == "" {
		message = resp.Message
	}
	err := bulk.NewServerError(resp.Code, message, nil)
	if len(resp.Details) > 0 && err.Details == nil {
		err.Details = make(map[string]interface{}, len(resp.Details))
	}
	for k, v := range resp.Details {
		err.Details[k] = v
	}
	return err
}

func protocolError(format string, args ...interface{}) error {
	return bulk.NewServerError(CodeProtocolError, fmt.Sprintf(format, args...), nil)
}

// FormatError is a helper to format any error with debug mode support.
func FormatError(err error, debugMode bool) string {
	if err == nil {
		return ""
	}

	type debugFormatter interface {
		FormatError(bool) string
	}

	var formatter debugFormatter
	if errors.As(err, &formatter) {
		return formatter.FormatError(debugMode)
	}

	return err.Error()
}
