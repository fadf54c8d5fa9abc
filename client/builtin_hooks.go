package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
	"github.com/dan-strohschein/syndrdb-bulkload/logging"
)

// AuditHook writes one log line per finished request. Successful bulk loads
// are logged at INFO with their throughput, statements at DEBUG, and
// failures at WARN with their error kind.
type AuditHook struct {
	logger         logging.Logger
	withStatements bool
}

// NewAuditHook returns an audit hook. With withStatements set, the statement
// text is included; leave it off when statements may carry sensitive values.
func NewAuditHook(logger logging.Logger, withStatements bool) *AuditHook {
	return &AuditHook{logger: logger, withStatements: withStatements}
}

func (h *AuditHook) Name() string { return "audit" }

func (h *AuditHook) Before(context.Context, *HookContext) error { return nil }

func (h *AuditHook) After(_ context.Context, hookCtx *HookContext) error {
	fields := []logging.Field{
		logging.String("command_type", hookCtx.CommandType),
		logging.String("trace_id", hookCtx.TraceID),
		logging.Duration("duration", hookCtx.Duration),
	}
	if hookCtx.Table != "" {
		fields = append(fields, logging.String("table", hookCtx.Table))
	}
	if h.withStatements {
		fields = append(fields, logging.String("statement", hookCtx.Command))
	}

	if hookCtx.Error != nil {
		fields = append(fields,
			logging.String("kind", bulk.KindOf(hookCtx.Error).String()),
			logging.Error("error", hookCtx.Error))
		h.logger.Warn("request failed", fields...)
		return nil
	}

	if hookCtx.CommandType != CommandTypeBulk {
		h.logger.Debug("statement done", fields...)
		return nil
	}
	fields = append(fields,
		logging.Int64("rows", hookCtx.RowCount),
		logging.Float64("rows_per_sec", rowsPerSecond(hookCtx.RowCount, hookCtx.Duration)))
	h.logger.Info("bulk load done", fields...)
	return nil
}

// TableStats is the running tally of bulk loads into one table.
type TableStats struct {
	Loads     int
	Failures  int
	Rows      int64
	Elapsed   time.Duration
	LastError string
}

// RowsPerSecond is the throughput over all successful loads.
func (s TableStats) RowsPerSecond() float64 {
	return rowsPerSecond(s.Rows, s.Elapsed)
}

// StatsHook tallies bulk loads per table and counts statements.
type StatsHook struct {
	mu             sync.Mutex
	tables         map[string]*TableStats
	statements     int
	statementFails int
}

func NewStatsHook() *StatsHook {
	return &StatsHook{tables: make(map[string]*TableStats)}
}

func (h *StatsHook) Name() string { return "stats" }

func (h *StatsHook) Before(context.Context, *HookContext) error { return nil }

func (h *StatsHook) After(_ context.Context, hookCtx *HookContext) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if hookCtx.CommandType != CommandTypeBulk {
		h.statements++
		if hookCtx.Error != nil {
			h.statementFails++
		}
		return nil
	}

	s, ok := h.tables[hookCtx.Table]
	if !ok {
		s = &TableStats{}
		h.tables[hookCtx.Table] = s
	}
	s.Loads++
	if hookCtx.Error != nil {
		s.Failures++
		s.LastError = hookCtx.Error.Error()
		return nil
	}
	s.Rows += hookCtx.RowCount
	s.Elapsed += hookCtx.Duration
	return nil
}

// Table returns the tally for table.
func (h *StatsHook) Table(table string) TableStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.tables[table]; ok {
		return *s
	}
	return TableStats{}
}

// Tables returns the names of every table loaded so far, sorted.
func (h *StatsHook) Tables() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.tables))
	for name := range h.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Statements returns how many plain statements ran and how many failed.
func (h *StatsHook) Statements() (total, failed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statements, h.statementFails
}

func (h *StatsHook) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tables = make(map[string]*TableStats)
	h.statements, h.statementFails = 0, 0
}

func rowsPerSecond(rows int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(rows) / d.Seconds()
}
