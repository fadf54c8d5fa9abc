package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// EnableDebugMode makes the client log failures in their full form, with
// cause chains and stack traces.
func (c *Client) EnableDebugMode() {
	c.debugMode.Store(true)
	c.logger.Info("debug mode enabled")
}

func (c *Client) DisableDebugMode() {
	c.debugMode.Store(false)
	c.logger.Info("debug mode disabled")
}

func (c *Client) IsDebugMode() bool {
	return c.debugMode.Load()
}

// GetLastTransition returns the most recent connection state change.
func (c *Client) GetLastTransition() StateTransition {
	return c.stateMgr.GetLastTransition()
}

// DebugInfo is a point-in-time view of a client.
type DebugInfo struct {
	Version   string   `json:"version"`
	State     string   `json:"state"`
	Owner     string   `json:"owner,omitempty"`
	DebugMode bool     `json:"debugMode"`
	Hooks     []string `json:"hooks"`

	Transport struct {
		Healthy       bool   `json:"healthy"`
		QueueDepth    int    `json:"queueDepth"`
		BytesSent     int64  `json:"bytesSent"`
		BytesReceived int64  `json:"bytesReceived"`
		Requests      int64  `json:"totalRequests"`
		Errors        int64  `json:"totalErrors"`
		AvgLatency    string `json:"avgLatency"`
	} `json:"transport"`

	Options struct {
		DefaultTimeout   string `json:"defaultTimeout"`
		AttentionTimeout string `json:"attentionTimeout"`
		BulkTimeout      string `json:"bulkTimeout"`
		ValidateRows     bool   `json:"validateRows"`
	} `json:"options"`

	LastTransition struct {
		From     string                 `json:"from"`
		To       string                 `json:"to"`
		At       time.Time              `json:"at"`
		Held     string                 `json:"held"`
		Metadata map[string]interface{} `json:"metadata,omitempty"`
	} `json:"lastTransition"`
}

// GetDebugInfo snapshots the client's state, transport counters and options.
func (c *Client) GetDebugInfo() DebugInfo {
	var info DebugInfo
	info.Version = Version
	info.State = c.GetState().String()
	info.Owner = c.stateMgr.Owner()
	info.DebugMode = c.IsDebugMode()
	info.Hooks = c.GetHooks()

	m := c.transport.GetMetrics()
	info.Transport.Healthy = c.transport.IsHealthy()
	info.Transport.QueueDepth = c.transport.GetQueueDepth()
	info.Transport.BytesSent = m.BytesSent
	info.Transport.BytesReceived = m.BytesReceived
	info.Transport.Requests = m.TotalRequests
	info.Transport.Errors = m.TotalErrors
	info.Transport.AvgLatency = m.AverageLatency.String()

	info.Options.DefaultTimeout = c.opts.defaultTimeout().String()
	info.Options.AttentionTimeout = c.opts.AttentionTimeout.String()
	info.Options.BulkTimeout = c.opts.BulkTimeout.String()
	info.Options.ValidateRows = c.opts.ValidateRows

	last := c.GetLastTransition()
	info.LastTransition.From = last.From.String()
	info.LastTransition.To = last.To.String()
	info.LastTransition.At = last.Timestamp
	info.LastTransition.Held = last.Duration.String()
	info.LastTransition.Metadata = last.Metadata
	return info
}

// DumpDebugInfoJSON renders GetDebugInfo as indented JSON.
func (c *Client) DumpDebugInfoJSON() string {
	b, err := json.MarshalIndent(c.GetDebugInfo(), "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(b)
}
