// Package bulk streams rows into a table as a single bulk load.
//
// A BulkLoad owns a column schema, an eager row buffer or a streaming
// RowSink, and exactly one outcome. Execute drives rows through optional
// validation and the row encoder into a Loader, which owns the connection.
// Cancel, SetTimeout and the parent context all funnel through one abort
// path, and the first qualifying outcome is delivered once.
package bulk

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/dan-strohschein/syndrdb-bulkload/logging"
	"github.com/dan-strohschein/syndrdb-bulkload/types"
)

// Callback receives the outcome of a load: a row count and nil, or zero and
// an error.
type Callback func(rowCount int64, err error)

// Outcome is the single result of a load.
type Outcome struct {
	RowCount int64
	Err      error
}

// BulkLoad is one bulk load against one table.
type BulkLoad struct {
	id       uuid.UUID
	table    string
	callback Callback
	state    *stateManager

	mu           sync.Mutex
	opts         Options
	logger       logging.Logger
	columns      []*Column
	rows         [][]any
	sink         *RowSink
	schemaFixed  bool
	executed     bool
	transmitting bool
	started      time.Time
	timer        *time.Timer
	abortErr     error
	resolved     bool
	outcome      Outcome

	canceled chan struct{}
	done     chan struct{}
}

// New creates a bulk load for table. cb, if non-nil, is called exactly once
// with the outcome.
func New(table string, opts Options, cb Callback) (*BulkLoad, error) {
	if strings.TrimSpace(table) == "" {
		return nil, newStateError("The table name must not be empty.", nil)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &BulkLoad{
		id:       uuid.New(),
		table:    table,
		callback: cb,
		state:    newStateManager(),
		opts:     opts,
		logger:   logging.NewNoopLogger(),
		canceled: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// ID identifies the load in logs.
func (b *BulkLoad) ID() uuid.UUID {
	return b.id
}

// Table returns the target table name.
func (b *BulkLoad) Table() string {
	return b.table
}

// Options returns the load options.
func (b *BulkLoad) Options() Options {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opts
}

// SetLogger attaches a logger; entries carry the session ID and table.
func (b *BulkLoad) SetLogger(l logging.Logger) {
	if l == nil {
		l = logging.NewNoopLogger()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = l.WithFields(
		logging.String("session", b.id.String()),
		logging.String("table", b.table),
	)
}

// OnStateChange registers a handler called on every state transition.
func (b *BulkLoad) OnStateChange(handler StateChangeHandler) {
	b.state.onStateChange(handler)
}

// State returns the current state.
func (b *BulkLoad) State() State {
	return b.state.get()
}

// AddColumn appends a column. Columns are fixed by the first AddRow, by
// RowSink, or by Execute.
func (b *BulkLoad) AddColumn(name string, typ types.Type, opts ColumnOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.schemaFixed {
		return newStateError("Columns cannot be added to bulk insert after the first row has been written.",
			map[string]interface{}{"column": name})
	}
	for _, c := range b.columns {
		if c.Name == name {
			return newStateError(fmt.Sprintf("Column %q is already defined.", name),
				map[string]interface{}{"column": name})
		}
	}
	col, err := newColumn(name, typ, opts)
	if err != nil {
		return err
	}
	b.columns = append(b.columns, col)
	return nil
}

// Columns returns the defined columns in order. The columns must not be
// modified.
func (b *BulkLoad) Columns() []*Column {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Column, len(b.columns))
	copy(out, b.columns)
	return out
}

// AddRow buffers a named (Row or map[string]any) or positional ([]any) row.
// The row's shape is checked now; its values are checked during Execute
// when ValidateRows is set.
func (b *BulkLoad) AddRow(row any) error {
	b.mu.Lock()
	switch {
	case b.resolved:
		b.mu.Unlock()
		return newStateError("Rows cannot be added to a bulk load that has finished.", nil)
	case b.executed:
		b.mu.Unlock()
		return newStateError("Rows cannot be added after the bulk load has started.", nil)
	case b.sink != nil:
		b.mu.Unlock()
		return newStateError("Rows cannot be added with AddRow while a row sink is open.", nil)
	case len(b.columns) == 0:
		b.mu.Unlock()
		return newStateError("Columns must be defined before rows are added.", nil)
	}

	values, err := normalizeRow(b.columns, row)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.rows = append(b.rows, values)
	notify := b.fixSchemaLocked()
	b.mu.Unlock()

	notify()
	return nil
}

// RowSink opens the streaming front end. It must be called before Execute
// and excludes AddRow. Repeated calls return the same sink.
func (b *BulkLoad) RowSink() (*RowSink, error) {
	b.mu.Lock()
	if b.sink != nil {
		s := b.sink
		b.mu.Unlock()
		return s, nil
	}
	switch {
	case b.executed || b.resolved:
		b.mu.Unlock()
		return nil, newStateError("The row sink must be opened before the bulk load is executed.", nil)
	case len(b.rows) > 0:
		b.mu.Unlock()
		return nil, newStateError("The row sink cannot be used after rows were added with AddRow.", nil)
	case len(b.columns) == 0:
		b.mu.Unlock()
		return nil, newStateError("Columns must be defined before rows are added.", nil)
	}
	b.sink = newRowSink(b)
	s := b.sink
	notify := b.fixSchemaLocked()
	b.mu.Unlock()

	notify()
	return s, nil
}

func (b *BulkLoad) fixSchemaLocked() func() {
	if b.schemaFixed {
		return func() {}
	}
	b.schemaFixed = true
	notify, _ := b.state.transitionTo(SchemaFixed, nil)
	return notify
}

// Cancel aborts the load. Before Execute the cancel is retained; during the
// transfer it interrupts at the next row or transport wait; after the
// outcome is delivered it does nothing.
func (b *BulkLoad) Cancel() {
	b.abort(newCanceledError())
}

// SetTimeout bounds the transfer. The deadline counts from the start of
// transmission, or from now if transmission is already under way.
func (b *BulkLoad) SetTimeout(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts.Timeout = d
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.transmitting && !b.resolved && d > 0 {
		b.startTimerLocked(d)
	}
}

func (b *BulkLoad) startTimerLocked(d time.Duration) {
	b.timer = time.AfterFunc(d, func() {
		b.abort(newTimeoutError(d))
	})
}

func (b *BulkLoad) abort(err *RequestError) {
	b.mu.Lock()
	if b.resolved || b.abortErr != nil {
		b.mu.Unlock()
		return
	}
	b.abortErr = err
	close(b.canceled)
	logger := b.logger
	b.mu.Unlock()

	logger.Debug("bulk load abort requested", logging.String("reason", err.Message))
}

func (b *BulkLoad) abortError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.abortErr
}

func (b *BulkLoad) terminalError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.outcome.Err != nil {
		return b.outcome.Err
	}
	return ErrSinkClosed
}

// TableCreationStatement renders a CREATE TABLE statement for the columns.
func (b *BulkLoad) TableCreationStatement() string {
	return tableCreationStatement(b.table, b.Columns())
}

// BulkInsertStatement renders the "insert bulk" statement, hints included.
func (b *BulkLoad) BulkInsertStatement() string {
	return bulkInsertStatement(b.table, b.Columns(), b.Options())
}

// Done is closed once the outcome is set, before the callback runs.
func (b *BulkLoad) Done() <-chan struct{} {
	return b.done
}

// Result returns the outcome, and false if the load has not finished.
func (b *BulkLoad) Result() (Outcome, bool) {
	select {
	case <-b.done:
	default:
		return Outcome{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outcome, true
}

// Wait blocks until the load finishes or ctx is done.
func (b *BulkLoad) Wait(ctx context.Context) (int64, error) {
	select {
	case <-b.done:
		out, _ := b.Result()
		return out.RowCount, out.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Execute runs the transfer through loader and returns the outcome. It may
// be called once; later calls return ErrAlreadyExecuted.
func (b *BulkLoad) Execute(ctx context.Context, loader Loader) (int64, error) {
	b.mu.Lock()
	if b.executed {
		b.mu.Unlock()
		return 0, ErrAlreadyExecuted
	}
	b.executed = true
	notify := b.fixSchemaLocked()
	cols, opts, rows, sink := b.columns, b.opts, b.rows, b.sink
	b.rows = nil
	b.mu.Unlock()
	notify()

	if len(cols) == 0 {
		return b.resolve(0, newStateError("A bulk load requires at least one column.", nil))
	}
	if err := opts.checkOrderColumns(cols); err != nil {
		return b.resolve(0, err)
	}
	if ctx.Err() != nil {
		b.Cancel()
	}
	if err := b.abortError(); err != nil {
		return b.resolve(0, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, b.Cancel)
	defer stop()
	go func() {
		select {
		case <-b.canceled:
			cancel()
		case <-runCtx.Done():
		}
	}()

	b.mu.Lock()
	b.transmitting = true
	b.started = time.Now()
	if opts.Timeout > 0 {
		b.startTimerLocked(opts.Timeout)
	}
	notify, _ = b.state.transitionTo(Transmitting, nil)
	logger := b.logger
	b.mu.Unlock()
	notify()

	logger.Debug("bulk load transmitting",
		logging.Int("columns", len(cols)),
		logging.Int("bufferedRows", len(rows)),
		logging.Bool("streaming", sink != nil))

	reader := &rowReader{
		b:    b,
		enc:  newRowEncoder(cols, opts.ValidateRows),
		rows: rows,
		sink: sink,
	}
	n, err := loader.LoadBulk(runCtx, &Transfer{
		ID:        b.id,
		Table:     b.table,
		Options:   opts,
		Columns:   cols,
		Header:    encodeHeader(cols),
		Statement: bulkInsertStatement(b.table, cols, opts),
		Rows:      reader,
	})
	if ctx.Err() != nil {
		b.Cancel()
	}
	return b.finish(n, err, reader)
}

// finish picks the outcome. A failure the reader observed (a cancel or a bad
// row) comes first; a loader success is next; then a pending abort; then
// the loader's own error.
func (b *BulkLoad) finish(n int64, err error, r *rowReader) (int64, error) {
	if rerr := r.failure(); rerr != nil {
		return b.resolve(0, rerr)
	}
	if err == nil {
		return b.resolve(n, nil)
	}
	if aerr := b.abortError(); aerr != nil {
		return b.resolve(0, aerr)
	}
	return b.resolve(0, classifyLoaderError(err))
}

func classifyLoaderError(err error) error {
	if KindOf(err) != KindUnknown {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newRequestError(KindCanceled, "Canceled.", err, nil)
	}
	return newRequestError(KindUnknown, err.Error(), err, nil)
}

func terminalState(err error) State {
	if err == nil {
		return Completed
	}
	switch KindOf(err) {
	case KindCanceled:
		return Canceled
	case KindTimeout:
		return TimedOut
	default:
		return Errored
	}
}

// resolve records the outcome once and delivers it. Later calls return the
// recorded outcome unchanged.
func (b *BulkLoad) resolve(n int64, err error) (int64, error) {
	b.mu.Lock()
	if b.resolved {
		out := b.outcome
		b.mu.Unlock()
		return out.RowCount, out.Err
	}
	b.resolved = true
	if err != nil {
		n = 0
	}
	b.outcome = Outcome{RowCount: n, Err: err}
	if b.timer != nil {
		b.timer.Stop()
	}
	var elapsed time.Duration
	if !b.started.IsZero() {
		elapsed = time.Since(b.started)
	}
	notify, _ := b.state.transitionTo(terminalState(err), err)
	logger := b.logger
	b.mu.Unlock()

	notify()
	close(b.done)

	if err != nil {
		logger.Warn("bulk load failed",
			logging.String("kind", KindOf(err).String()),
			logging.Error("error", err),
			logging.Duration("elapsed", elapsed))
	} else {
		logger.Info("bulk load completed",
			logging.Int64("rowCount", n),
			logging.Duration("elapsed", elapsed))
	}

	if b.callback != nil {
		b.callback(n, err)
	}
	return n, err
}

// rowReader feeds encoded rows to the loader from the eager buffer or the
// sink. Its first failure is sticky.
type rowReader struct {
	b     *BulkLoad
	enc   *rowEncoder
	rows  [][]any
	sink  *RowSink
	index int64
	err   error
}

func (r *rowReader) Next(ctx context.Context) (*EncodedRow, error) {
	if r.err != nil {
		return nil, r.err
	}
	select {
	case <-r.b.canceled:
		return nil, r.fail(r.b.abortError())
	default:
	}

	if r.sink == nil {
		if r.index >= int64(len(r.rows)) {
			return nil, io.EOF
		}
		row, err := r.enc.encode(r.index, r.rows[r.index])
		if err != nil {
			return nil, r.fail(err)
		}
		r.rows[r.index] = nil
		r.index++
		return row, nil
	}

	req, err := r.sink.next(ctx)
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			r.b.Cancel()
		}
		if aerr := r.b.abortError(); aerr != nil {
			err = aerr
		}
		return nil, r.fail(err)
	}

	// A cancel can race the handoff.
	select {
	case <-r.b.canceled:
		aerr := r.b.abortError()
		req.done <- aerr
		return nil, r.fail(aerr)
	default:
	}

	row, err := r.enc.encode(r.index, req.row)
	req.done <- err
	if err != nil {
		return nil, r.fail(err)
	}
	r.index++
	return row, nil
}

func (r *rowReader) fail(err error) error {
	if r.err == nil {
		r.err = err
	}
	return r.err
}

func (r *rowReader) failure() error {
	return r.err
}
