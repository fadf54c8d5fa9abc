package bulk

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
)

// Kind classifies a bulk load failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindCanceled
	KindTimeout
	KindConnectionClosed
	KindServer
	KindBusy
	KindInvalidState
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindCanceled:
		return "CanceledError"
	case KindTimeout:
		return "TimeoutError"
	case KindConnectionClosed:
		return "ConnectionClosedError"
	case KindServer:
		return "ServerError"
	case KindBusy:
		return "BusyError"
	case KindInvalidState:
		return "StateError"
	default:
		return "RequestError"
	}
}

func (k Kind) code() string {
	switch k {
	case KindValidation:
		return "EVALIDATION"
	case KindCanceled:
		return "ECANCEL"
	case KindTimeout:
		return "ETIMEOUT"
	case KindConnectionClosed:
		return "ECLOSE"
	case KindServer:
		return "ESERVER"
	case KindBusy:
		return "EBUSY"
	case KindInvalidState:
		return "EINVALIDSTATE"
	default:
		return "EUNKNOWN"
	}
}

// RequestError is the single error type delivered as a bulk load outcome.
type RequestError struct {
	Kind       Kind                   `json:"-"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace []string               `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
// When debugMode=false: returns simple "CODE: message" format.
// When debugMode=true: returns indented JSON with details and stack trace.
func (e *RequestError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Kind.String(),
		"message": e.Message,
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{"message": e.Cause.Error()}
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	if !e.Timestamp.IsZero() {
		errorData["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the underlying cause error.
func (e *RequestError) Unwrap() error {
	return e.Cause
}

// Is matches any RequestError of the same kind, so callers can test against
// the Err* sentinels.
func (e *RequestError) Is(target error) bool {
	t, ok := target.(*RequestError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrValidation       = &RequestError{Kind: KindValidation, Code: KindValidation.code()}
	ErrCanceled         = &RequestError{Kind: KindCanceled, Code: KindCanceled.code(), Message: "Canceled."}
	ErrTimeout          = &RequestError{Kind: KindTimeout, Code: KindTimeout.code()}
	ErrConnectionClosed = &RequestError{Kind: KindConnectionClosed, Code: KindConnectionClosed.code()}
	ErrServer           = &RequestError{Kind: KindServer, Code: KindServer.code()}
	ErrConnectionBusy   = &RequestError{Kind: KindBusy, Code: KindBusy.code()}
	ErrInvalidState     = &RequestError{Kind: KindInvalidState, Code: KindInvalidState.code()}
)

var (
	// ErrAlreadyExecuted is returned by a second Execute on the same load.
	ErrAlreadyExecuted = errors.New("bulk: load already executed")

	// ErrSinkClosed is returned by writes to a closed row sink.
	ErrSinkClosed = errors.New("bulk: row sink closed")
)

func newRequestError(kind Kind, message string, cause error, details map[string]interface{}) *RequestError {
	return &RequestError{
		Kind:       kind,
		Code:       kind.code(),
		Message:    message,
		Details:    details,
		Cause:      cause,
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// NewValidationError reports a row that cannot be sent.
func NewValidationError(message string, cause error, details map[string]interface{}) *RequestError {
	return newRequestError(KindValidation, message, cause, details)
}

func newCanceledError() *RequestError {
	return newRequestError(KindCanceled, "Canceled.", nil, nil)
}

func newTimeoutError(d time.Duration) *RequestError {
	return newRequestError(KindTimeout,
		fmt.Sprintf("Timeout: Request failed to complete in %dms", d.Milliseconds()),
		nil,
		map[string]interface{}{"timeoutMs": d.Milliseconds()})
}

// NewConnectionClosedError reports a transport lost while rows were in flight.
func NewConnectionClosedError(cause error) *RequestError {
	return newRequestError(KindConnectionClosed, "Connection closed before request completed.", cause, nil)
}

// NewServerError reports a fault raised by the server, such as a constraint
// violation. code is the server's own error code, if any.
func NewServerError(code, message string, cause error) *RequestError {
	var details map[string]interface{}
	if code != "" {
		details = map[string]interface{}{"serverCode": code}
	}
	return newRequestError(KindServer, message, cause, details)
}

// NewBusyError reports a connection already owned by another bulk load.
func NewBusyError(owner string) *RequestError {
	return newRequestError(KindBusy,
		"Connection is busy with another bulk load.",
		nil,
		map[string]interface{}{"owner": owner})
}

func newStateError(message string, details map[string]interface{}) *RequestError {
	return newRequestError(KindInvalidState, message, nil, details)
}

// KindOf returns the kind of the first RequestError in err's chain.
func KindOf(err error) Kind {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// captureStackTrace captures the current stack trace for error reporting.
func captureStackTrace() []string {
	const maxDepth = 32
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(3, pcs)

	frames := make([]string, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := callersFrames.Next()
		frames = append(frames, fmt.Sprintf("%s (%s:%d)",
			frame.Function,
			frame.File,
			frame.Line,
		))
		if !more {
			break
		}
	}

	return frames
}
