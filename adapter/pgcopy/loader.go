// Package pgcopy loads bulk transfers into PostgreSQL with COPY FROM.
//
// COPY is all or nothing: when the row reader fails or the context is
// canceled, pgx aborts the copy and the server discards every row.
// PostgreSQL has no equivalent of the bulk hints. COPY always stores
// explicit nulls, as if KeepNulls were set; a load without it is logged.
package pgcopy

import (
	"context"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
	"github.com/dan-strohschein/syndrdb-bulkload/logging"
)

// copyConn is the part of *pgx.Conn the loader uses.
type copyConn interface {
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Loader implements bulk.Loader over one PostgreSQL connection. It runs one
// transfer at a time.
type Loader struct {
	conn   copyConn
	close  func(context.Context) error
	logger logging.Logger
	active atomic.Pointer[uuid.UUID]
}

// Connect opens a connection described by dsn.
func Connect(ctx context.Context, dsn string, logger logging.Logger) (*Loader, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres dsn")
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	l := New(conn, logger)
	l.close = conn.Close
	l.logger.Info("connected to postgres",
		logging.String("host", cfg.Host),
		logging.String("database", cfg.Database),
		logging.String("dsn", dsn))
	return l, nil
}

// New wraps an open connection such as *pgx.Conn.
func New(conn copyConn, logger logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Loader{conn: conn, logger: logger}
}

// Close closes a connection opened by Connect.
func (l *Loader) Close(ctx context.Context) error {
	if l.close == nil {
		return nil
	}
	return l.close(ctx)
}

// LoadBulk copies every row of t into t.Table.
func (l *Loader) LoadBulk(ctx context.Context, t *bulk.Transfer) (int64, error) {
	id := t.ID
	if !l.active.CompareAndSwap(nil, &id) {
		return 0, l.busyError()
	}
	defer l.active.Store(nil)

	logger := l.logger.WithFields(
		logging.String("session", t.ID.String()),
		logging.String("table", t.Table))
	if ignored := ignoredHints(t.Options); len(ignored) > 0 {
		logger.Debug("bulk hints have no COPY equivalent and are ignored",
			logging.String("hints", strings.Join(ignored, ",")))
	}

	src := &rowSource{ctx: ctx, rows: t.Rows}
	n, err := l.conn.CopyFrom(ctx, identifier(t.Table), t.ColumnNames(), src)
	if src.err != nil {
		return 0, src.err
	}
	if err != nil {
		return 0, mapError(err)
	}

	logger.Debug("copy complete", logging.Int64("rows", n), logging.Int64("rowsRead", src.read))
	return n, nil
}

// ignoredHints names the options COPY cannot honor. Without KEEP_NULLS a
// null should take the column default, but COPY always stores NULL.
func ignoredHints(o bulk.Options) []string {
	var hints []string
	if o.CheckConstraints {
		hints = append(hints, "CHECK_CONSTRAINTS")
	}
	if o.FireTriggers {
		hints = append(hints, "FIRE_TRIGGERS")
	}
	if !o.KeepNulls {
		hints = append(hints, "KEEP_NULLS=off")
	}
	if o.LockTable {
		hints = append(hints, "TABLOCK")
	}
	if len(o.Order) > 0 {
		hints = append(hints, "ORDER")
	}
	return hints
}

func (l *Loader) busyError() error {
	var owner string
	if id := l.active.Load(); id != nil {
		owner = id.String()
	}
	return bulk.NewBusyError(owner)
}

// rowSource adapts a bulk.RowReader to pgx.CopyFromSource.
type rowSource struct {
	ctx  context.Context
	rows bulk.RowReader
	cur  *bulk.EncodedRow
	read int64
	err  error
}

func (s *rowSource) Next() bool {
	row, err := s.rows.Next(s.ctx)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		s.cur = nil
		return false
	}
	s.cur = row
	s.read++
	return true
}

func (s *rowSource) Values() ([]any, error) {
	out := make([]any, len(s.cur.Values))
	for i, v := range s.cur.Values {
		out[i] = copyValue(v)
	}
	return out, nil
}

func (s *rowSource) Err() error {
	return s.err
}

// copyValue converts values pgx has no codec for.
func copyValue(v any) any {
	if d, ok := v.(civil.Date); ok {
		return d.In(time.UTC)
	}
	return v
}

// identifier splits a possibly schema qualified, bracket quoted name.
func identifier(table string) pgx.Identifier {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(p), "["), "]")
	}
	return pgx.Identifier(parts)
}

// mapError turns driver failures into bulk load errors. Context errors pass
// through so the session can attribute them to its own abort.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		re := bulk.NewServerError(pgErr.Code, pgErr.Message, err)
		if re.Details == nil {
			re.Details = make(map[string]interface{})
		}
		if pgErr.ConstraintName != "" {
			re.Details["constraint"] = pgErr.ConstraintName
		}
		if pgErr.Detail != "" {
			re.Details["detail"] = pgErr.Detail
		}
		return re
	}
	var netErr net.Error
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &netErr) {
		return bulk.NewConnectionClosedError(err)
	}
	return err
}
