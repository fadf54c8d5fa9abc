package client

import (
	"context"
	"strings"
	"time"

	"github.com/dan-strohschein/syndrdb-bulkload/logging"
)

// Values of HookContext.CommandType.
const (
	CommandTypeBulk     = "bulk"
	CommandTypeQuery    = "query"
	CommandTypeMutation = "mutation"
	CommandTypeSchema   = "schema"
	CommandTypeUnknown  = "unknown"
)

// HookContext describes one request as it passes through the hooks. Before
// hooks may rewrite Command; the fields below Metadata are filled in for
// After hooks only.
type HookContext struct {
	Command     string // statement text, or the insert bulk statement of a load
	CommandType string
	Table       string // bulk loads only
	TraceID     string // bulk load session ID; fresh per statement
	StartTime   time.Time

	// Metadata carries values from a hook's Before to its After.
	Metadata map[string]interface{}

	RowCount int64 // rows the server acknowledged
	Result   interface{}
	Error    error
	Duration time.Duration
}

// Hook observes or vetoes requests. An error from Before aborts the request
// before anything is sent and skips the remaining Before hooks. After runs
// for every request, failed ones included; an error from it replaces the
// request's result.
type Hook interface {
	Name() string
	Before(ctx context.Context, hookCtx *HookContext) error
	After(ctx context.Context, hookCtx *HookContext) error
}

// RegisterHook appends hook to the chain. A hook with the same name is
// replaced in place and keeps its position.
func (c *Client) RegisterHook(hook Hook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()

	for i, h := range c.hooks {
		if h.Name() == hook.Name() {
			c.hooks[i] = hook
			c.logger.Debug("hook replaced", logging.String("hook", hook.Name()))
			return
		}
	}
	c.hooks = append(c.hooks, hook)
	c.logger.Debug("hook registered",
		logging.String("hook", hook.Name()),
		logging.Int("position", len(c.hooks)-1))
}

// UnregisterHook removes the named hook and reports whether it was there.
func (c *Client) UnregisterHook(name string) bool {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()

	for i, h := range c.hooks {
		if h.Name() == name {
			c.hooks = append(c.hooks[:i:i], c.hooks[i+1:]...)
			return true
		}
	}
	return false
}

// GetHooks returns the registered hook names in the order they run.
func (c *Client) GetHooks() []string {
	hooks := c.snapshotHooks()
	names := make([]string, len(hooks))
	for i, h := range hooks {
		names[i] = h.Name()
	}
	return names
}

func (c *Client) snapshotHooks() []Hook {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	return append([]Hook(nil), c.hooks...)
}

func (c *Client) executeBeforeHooks(ctx context.Context, hookCtx *HookContext) error {
	for _, h := range c.snapshotHooks() {
		if err := h.Before(ctx, hookCtx); err != nil {
			c.logger.Debug("hook vetoed request",
				logging.String("hook", h.Name()),
				logging.String("trace_id", hookCtx.TraceID),
				logging.Error("error", err))
			return err
		}
	}
	return nil
}

// executeAfterHooks runs every After hook and returns the last error.
func (c *Client) executeAfterHooks(ctx context.Context, hookCtx *HookContext) error {
	var last error
	for _, h := range c.snapshotHooks() {
		if err := h.After(ctx, hookCtx); err != nil {
			c.logger.Debug("hook failed after request",
				logging.String("hook", h.Name()),
				logging.String("trace_id", hookCtx.TraceID),
				logging.Error("error", err))
			last = err
		}
	}
	return last
}

// inferCommandType classifies a statement by its leading keyword.
func inferCommandType(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return CommandTypeUnknown
	}

	switch strings.ToUpper(fields[0]) {
	case "SELECT", "SHOW":
		return CommandTypeQuery
	case "INSERT":
		if len(fields) > 1 && strings.EqualFold(fields[1], "bulk") {
			return CommandTypeBulk
		}
		return CommandTypeMutation
	case "BULK":
		return CommandTypeBulk
	case "UPDATE", "DELETE", "TRUNCATE", "MERGE":
		return CommandTypeMutation
	case "CREATE", "DROP", "ALTER":
		return CommandTypeSchema
	}
	return CommandTypeUnknown
}
