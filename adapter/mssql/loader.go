// Package mssql loads bulk transfers into SQL Server with the go-mssqldb
// bulk copy API. Each transfer runs in its own transaction, so a load that
// fails or is canceled commits nothing.
package mssql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
	"github.com/dan-strohschein/syndrdb-bulkload/logging"
)

// stmtCore is the part of *sql.Stmt the loader uses.
type stmtCore interface {
	ExecContext(ctx context.Context, args ...any) (sql.Result, error)
	Close() error
}

// txCore is the part of *sql.Tx the loader uses.
type txCore interface {
	PrepareContext(ctx context.Context, query string) (stmtCore, error)
	Commit() error
	Rollback() error
}

type database interface {
	BeginTx(ctx context.Context) (txCore, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type realDB struct{ db *sql.DB }

func (r realDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.db.ExecContext(ctx, query, args...)
}

func (r realDB) BeginTx(ctx context.Context) (txCore, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return realTx{tx: tx}, nil
}

type realTx struct{ tx *sql.Tx }

func (r realTx) PrepareContext(ctx context.Context, query string) (stmtCore, error) {
	return r.tx.PrepareContext(ctx, query)
}

func (r realTx) Commit() error   { return r.tx.Commit() }
func (r realTx) Rollback() error { return r.tx.Rollback() }

// Loader implements bulk.Loader over a SQL Server database. It runs one
// transfer at a time.
type Loader struct {
	db     database
	closer io.Closer
	logger logging.Logger
	active atomic.Pointer[uuid.UUID]
}

// Open validates dsn, connects and pings the server.
func Open(ctx context.Context, dsn string, logger logging.Logger) (*Loader, error) {
	cfg, err := msdsn.Parse(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "mssql dsn")
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sql.Open")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping")
	}
	l := NewLoader(db, logger)
	l.logger.Info("connected to sql server",
		logging.String("host", cfg.Host),
		logging.String("database", cfg.Database),
		logging.String("dsn", dsn))
	return l, nil
}

// NewLoader wraps an open database. The loader closes db on Close.
func NewLoader(db *sql.DB, logger logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Loader{db: realDB{db: db}, closer: db, logger: logger}
}

// Close closes the database.
func (l *Loader) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Exec runs a statement outside any transfer.
func (l *Loader) Exec(ctx context.Context, statement string) error {
	if l.active.Load() != nil {
		return l.busyError()
	}
	if _, err := l.db.ExecContext(ctx, statement); err != nil {
		return mapError(err)
	}
	return nil
}

// LoadBulk copies every row of t into t.Table and commits once the server
// has accepted them all.
func (l *Loader) LoadBulk(ctx context.Context, t *bulk.Transfer) (int64, error) {
	id := t.ID
	if !l.active.CompareAndSwap(nil, &id) {
		return 0, l.busyError()
	}
	defer l.active.Store(nil)

	logger := l.logger.WithFields(
		logging.String("session", t.ID.String()),
		logging.String("table", t.Table))

	tx, err := l.db.BeginTx(ctx)
	if err != nil {
		return 0, mapError(err)
	}
	rollback := func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			logger.Warn("rollback failed", logging.Error("error", rerr))
		}
	}

	query := mssql.CopyIn(tableName(t.Table), bulkOptions(t), t.ColumnNames()...)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		rollback()
		return 0, mapError(err)
	}
	defer stmt.Close()

	for {
		row, err := t.Rows.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rollback()
			return 0, err
		}
		args := make([]any, len(row.Values))
		for i, v := range row.Values {
			args[i] = driverValue(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			rollback()
			return 0, errors.Wrapf(mapError(err), "row %d", row.Index)
		}
	}

	// An Exec without arguments flushes the batch.
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		rollback()
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, mapError(err)
	}

	logger.Debug("bulk copy committed", logging.Int64("rows", n))
	return n, nil
}

func (l *Loader) busyError() error {
	var owner string
	if id := l.active.Load(); id != nil {
		owner = id.String()
	}
	return bulk.NewBusyError(owner)
}

// bulkOptions carries the load hints over to the driver. ORDER entries
// follow column order.
func bulkOptions(t *bulk.Transfer) mssql.BulkOptions {
	opts := mssql.BulkOptions{
		CheckConstraints: t.Options.CheckConstraints,
		FireTriggers:     t.Options.FireTriggers,
		KeepNulls:        t.Options.KeepNulls,
		Tablock:          t.Options.LockTable,
	}
	names := t.ColumnNames()
	for i, c := range t.Columns {
		if dir, ok := t.Options.Order[c.Name]; ok {
			opts.Order = append(opts.Order, names[i]+" "+strings.ToUpper(string(dir)))
		}
	}
	return opts
}

// tableName strips bracket quoting; the driver quotes the name itself.
func tableName(name string) string {
	return strings.NewReplacer("[", "", "]", "").Replace(name)
}

// driverValue converts values the bulk copy path does not take directly.
func driverValue(v any) any {
	switch v := v.(type) {
	case uuid.UUID:
		b, _ := mssql.UniqueIdentifier(v).Value()
		return b
	case civil.Date:
		return v.In(time.UTC)
	default:
		return v
	}
}

// mapError turns driver failures into bulk load errors. Context errors pass
// through so the session can attribute them to its own abort.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var sqlErr mssql.Error
	if errors.As(err, &sqlErr) {
		return bulk.NewServerError(strconv.Itoa(int(sqlErr.Number)), sqlErr.Message, err)
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &netErr) {
		return bulk.NewConnectionClosedError(err)
	}
	return err
}
