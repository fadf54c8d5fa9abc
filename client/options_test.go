package client

import (
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if opts.DefaultTimeoutMs != 10000 {
		t.Errorf("expected DefaultTimeoutMs=10000, got %d", opts.DefaultTimeoutMs)
	}

	if opts.DebugMode != false {
		t.Errorf("expected DebugMode=false, got %v", opts.DebugMode)
	}

	if opts.AttentionTimeout != 5*time.Second {
		t.Errorf("expected AttentionTimeout=5s, got %v", opts.AttentionTimeout)
	}

	if opts.LogLevel != "INFO" {
		t.Errorf("expected LogLevel=INFO, got %q", opts.LogLevel)
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	opts := ClientOptions{
		DefaultTimeoutMs: 5000,
		DebugMode:        true,
		BulkTimeout:      time.Second,
	}.withDefaults()

	if opts.DefaultTimeoutMs != 5000 {
		t.Errorf("expected DefaultTimeoutMs=5000, got %d", opts.DefaultTimeoutMs)
	}

	if opts.defaultTimeout() != 5*time.Second {
		t.Errorf("expected default timeout 5s, got %v", opts.defaultTimeout())
	}

	if opts.AttentionTimeout != 5*time.Second {
		t.Errorf("expected AttentionTimeout to be filled, got %v", opts.AttentionTimeout)
	}

	if opts.Logger == nil {
		t.Error("expected a default logger")
	}

	if opts.BulkTimeout != time.Second || !opts.DebugMode {
		t.Error("expected explicit values to be kept")
	}
}
