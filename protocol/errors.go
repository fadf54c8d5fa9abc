package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// ErrorCode classifies transport failures.
type ErrorCode int

const (
	ErrorCodeConnectionRefused ErrorCode = 1001
	ErrorCodeTimeout           ErrorCode = 1002
	ErrorCodeConnectionClosed  ErrorCode = 1005
	ErrorCodeFraming           ErrorCode = 2001
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeConnectionRefused:
		return "connection refused"
	case ErrorCodeTimeout:
		return "timeout"
	case ErrorCodeConnectionClosed:
		return "connection closed"
	case ErrorCodeFraming:
		return "framing"
	default:
		return fmt.Sprintf("code %d", int(c))
	}
}

// TransportError is a failure below the request layer: the dial, the socket
// or the response framing. Details are sorted by key in the message.
type TransportError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *TransportError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d] %s", int(e.Code), e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.Details[k])
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Temporary reports whether retrying on a new connection may succeed.
func (e *TransportError) Temporary() bool {
	return e.Code == ErrorCodeTimeout || e.Code == ErrorCodeConnectionRefused
}

// ConnectionError reports a failed dial.
func ConnectionError(message string, cause error, details map[string]interface{}) *TransportError {
	return &TransportError{Code: ErrorCodeConnectionRefused, Message: message, Details: details, Cause: cause}
}

// ConnectionClosedError reports a connection lost while a request was in flight.
func ConnectionClosedError(message string, cause error, details map[string]interface{}) *TransportError {
	return &TransportError{Code: ErrorCodeConnectionClosed, Message: message, Details: details, Cause: cause}
}

// TimeoutError reports an I/O deadline that elapsed.
func TimeoutError(message string, cause error, details map[string]interface{}) *TransportError {
	return &TransportError{Code: ErrorCodeTimeout, Message: message, Details: details, Cause: cause}
}

// FramingError reports bytes that do not form a valid response.
func FramingError(message string, details map[string]interface{}) *TransportError {
	return &TransportError{Code: ErrorCodeFraming, Message: message, Details: details}
}
