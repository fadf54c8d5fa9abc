package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
	"github.com/dan-strohschein/syndrdb-bulkload/protocol"
)

func TestResponseError(t *testing.T) {
	resp := &protocol.Response{
		Success: false,
		Code:    "547",
		Error:   "The INSERT statement conflicted with the CHECK constraint.",
		Details: map[string]interface{}{"constraint": "ck_positive"},
	}

	err := responseError(resp)

	if !errors.Is(err, bulk.ErrServer) {
		t.Fatalf("expected a server error, got %v", err)
	}

	var re *bulk.RequestError
	if !errors.As(err, &re) {
		t.Fatalf("expected *bulk.RequestError, got %T", err)
	}
	if re.Message != resp.Error {
		t.Errorf("expected message %q, got %q", resp.Error, re.Message)
	}
	if re.Details["serverCode"] != "547" {
		t.Errorf("expected serverCode=547, got %v", re.Details["serverCode"])
	}
	if re.Details["constraint"] != "ck_positive" {
		t.Errorf("expected server details to be kept, got %v", re.Details)
	}
}

func TestResponseErrorWithoutCode(t *testing.T) {
	resp := &protocol.Response{
		Success: false,
		Message: "something went wrong",
		Details: map[string]interface{}{"hint": "retry"},
	}

	var re *bulk.RequestError
	if !errors.As(responseError(resp), &re) {
		t.Fatal("expected *bulk.RequestError")
	}
	if re.Message != "something went wrong" {
		t.Errorf("expected the reply message to be used, got %q", re.Message)
	}
	if _, ok := re.Details["serverCode"]; ok {
		t.Errorf("expected no serverCode, got %v", re.Details)
	}
	if re.Details["hint"] != "retry" {
		t.Errorf("expected hint=retry, got %v", re.Details["hint"])
	}
}

func TestTransportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		lost bool
		is   error
	}{
		{"canceled passes through", context.Canceled, false, context.Canceled},
		{"deadline passes through", fmt.Errorf("receive: %w", context.DeadlineExceeded), false, context.DeadlineExceeded},
		{"request errors pass through", bulk.NewBusyError("x"), false, bulk.ErrConnectionBusy},
		{"peer close", protocol.ConnectionClosedError("connection reset by peer", nil, nil), true, bulk.ErrConnectionClosed},
		{"plain error", errors.New("broken pipe"), true, bulk.ErrConnectionClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := transportError(tt.err)
			if !errors.Is(err, tt.is) {
				t.Errorf("expected %v to match %v", err, tt.is)
			}
			if isConnectionLost(err) != tt.lost {
				t.Errorf("expected isConnectionLost=%v for %v", tt.lost, err)
			}
		})
	}
}

func TestProtocolError(t *testing.T) {
	err := protocolError("unexpected reply %q", "HELLO")

	var re *bulk.RequestError
	if !errors.As(err, &re) {
		t.Fatal("expected *bulk.RequestError")
	}
	if re.Details["serverCode"] != CodeProtocolError {
		t.Errorf("expected serverCode=%s, got %v", CodeProtocolError, re.Details["serverCode"])
	}
	if !strings.Contains(re.Message, `"HELLO"`) {
		t.Errorf("expected formatted message, got %q", re.Message)
	}
}

func TestFormatError(t *testing.T) {
	if FormatError(nil, true) != "" {
		t.Error("expected empty string for nil error")
	}

	plain := errors.New("plain failure")
	if got := FormatError(plain, true); got != "plain failure" {
		t.Errorf("expected plain message, got %q", got)
	}

	err := fmt.Errorf("load: %w", bulk.NewServerError("208", "Invalid object name 'missing'.", nil))

	simple := FormatError(err, false)
	if !strings.Contains(simple, "Invalid object name 'missing'.") {
		t.Errorf("expected message in simple format, got %q", simple)
	}

	debug := FormatError(err, true)
	var parsed map[string]interface{}
	if jsonErr := json.Unmarshal([]byte(debug), &parsed); jsonErr != nil {
		t.Fatalf("debug format should be valid JSON: %v\n%s", jsonErr, debug)
	}
	if _, ok := parsed["stack_trace"]; !ok {
		t.Error("debug format should include stack_trace")
	}
	details, _ := parsed["details"].(map[string]interface{})
	if details["serverCode"] != "208" {
		t.Errorf("expected serverCode in debug details, got %v", parsed["details"])
	}
}
