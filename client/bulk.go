package client

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
	"github.com/dan-strohschein/syndrdb-bulkload/logging"
	"github.com/dan-strohschein/syndrdb-bulkload/protocol"
)

// NewBulkLoad creates a bulk load for table. A zero opts.Timeout takes the
// client's BulkTimeout, and the client's ValidateRows turns validation on.
func (c *Client) NewBulkLoad(table string, opts bulk.Options, cb bulk.Callback) (*bulk.BulkLoad, error) {
	if opts.Timeout == 0 {
		opts.Timeout = c.opts.BulkTimeout
	}
	if c.opts.ValidateRows {
		opts.ValidateRows = true
	}
	bl, err := bulk.New(table, opts, cb)
	if err != nil {
		return nil, err
	}
	bl.SetLogger(c.logger)
	return bl, nil
}

// ExecBulkLoad runs bl over this client's connection.
func (c *Client) ExecBulkLoad(ctx context.Context, bl *bulk.BulkLoad) (int64, error) {
	return bl.Execute(ctx, c)
}

// CreateTable runs the CREATE TABLE statement derived from bl's columns.
func (c *Client) CreateTable(ctx context.Context, bl *bulk.BulkLoad) error {
	_, err := c.Exec(ctx, bl.TableCreationStatement())
	return err
}

// LoadBulk implements bulk.Loader. The connection is held for the whole
// transfer.
func (c *Client) LoadBulk(ctx context.Context, t *bulk.Transfer) (int64, error) {
	if err := c.acquire(t.ID.String()); err != nil {
		return 0, err
	}

	hookCtx := &HookContext{
		Command:     t.Statement,
		CommandType: CommandTypeBulk,
		Table:       t.Table,
		StartTime:   time.Now(),
		Metadata:    make(map[string]interface{}),
		TraceID:     t.ID.String(),
	}

	var n int64
	err := c.executeBeforeHooks(ctx, hookCtx)
	if err == nil {
		n, err = c.loadBulk(ctx, t, hookCtx.Command)
	}
	c.release(err)

	hookCtx.RowCount = n
	hookCtx.Error = err
	hookCtx.Duration = time.Since(hookCtx.StartTime)
	if hookErr := c.executeAfterHooks(ctx, hookCtx); hookErr != nil {
		return 0, hookErr
	}
	return n, err
}

func (c *Client) loadBulk(ctx context.Context, t *bulk.Transfer, statement string) (int64, error) {
	logger := c.logger.WithFields(
		logging.String("session", t.ID.String()),
		logging.String("table", t.Table))

	open := c.codec.Encode(protocol.BULK_COMMAND, []string{t.Table, statement})
	if err := c.transport.Send(ctx, open); err != nil {
		return 0, c.interrupted(ctx, err, logger)
	}
	resp, err := c.receive(ctx)
	if err != nil {
		return 0, c.interrupted(ctx, err, logger)
	}
	if !resp.Success {
		// Nothing was opened, so the connection is ready again.
		return 0, responseError(resp)
	}
	if resp.Message != bulkReady {
		return 0, c.abortRequest(ctx, protocolError("unexpected reply to bulk open: %q", resp.Message), logger)
	}

	if err := c.transport.Send(ctx, protocol.EncodeFrame(protocol.FrameMetadata, t.Header)); err != nil {
		return 0, c.interrupted(ctx, err, logger)
	}

	var sent int64
	for {
		row, err := t.Rows.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, c.abortRequest(ctx, err, logger)
		}
		if err := c.transport.Send(ctx, protocol.EncodeFrame(protocol.FrameRow, row.Data)); err != nil {
			return 0, c.interrupted(ctx, err, logger)
		}
		sent++
	}

	if err := c.transport.Send(ctx, protocol.EncodeFrame(protocol.FrameDone, nil)); err != nil {
		return 0, c.interrupted(ctx, err, logger)
	}
	resp, err = c.receive(ctx)
	if err != nil {
		return 0, c.interrupted(ctx, err, logger)
	}
	if !resp.Success {
		return 0, responseError(resp)
	}
	n, ok := resp.RowCount()
	if !ok {
		return 0, protocolError("bulk load acknowledgement carries no row count")
	}

	logger.Debug("bulk load acknowledged",
		logging.Int64("rowsSent", sent),
		logging.Int64("rowCount", n))
	return n, nil
}
