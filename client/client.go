// Package client runs statements and bulk loads over one transport.
//
// A Client owns its connection exclusively: while a statement or a bulk load
// is in flight, any other request fails with bulk.ErrConnectionBusy. After an
// aborted request the client sends an attention frame and waits for the
// acknowledgement, so the connection stays usable; when that fails the
// connection is closed.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
	"github.com/dan-strohschein/syndrdb-bulkload/logging"
	"github.com/dan-strohschein/syndrdb-bulkload/protocol"
	"github.com/dan-strohschein/syndrdb-bulkload/transport"
)

const (
	ownerStatement = "statement"
	bulkReady      = "BULK_READY"
	attentionAck   = "ATTENTION_ACK"
)

// Client is a bulk-load client over a single connection.
type Client struct {
	transport transport.Transport
	codec     protocol.Codec
	opts      ClientOptions
	stateMgr  *StateManager
	logger    logging.Logger
	debugMode atomic.Bool

	hooksMu sync.RWMutex
	hooks   []Hook
}

// New creates a client that owns t. If opts is nil, default options are used.
func New(t transport.Transport, opts *ClientOptions) *Client {
	if opts == nil {
		defaultOpts := DefaultOptions()
		opts = &defaultOpts
	}
	o := opts.withDefaults()

	c := &Client{
		transport: t,
		codec:     protocol.NewCodec(),
		opts:      o,
		stateMgr:  NewStateManager(),
		logger:    o.Logger,
	}
	c.debugMode.Store(o.DebugMode)

	if o.OnStateChange != nil {
		c.stateMgr.OnStateChange(o.OnStateChange)
	}
	return c
}

// Dial opens a transport with factory and wraps it in a client.
func Dial(ctx context.Context, factory transport.Factory, opts *ClientOptions) (*Client, error) {
	t, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	return New(t, opts), nil
}

// GetState returns the current connection state.
func (c *Client) GetState() ConnectionState {
	return c.stateMgr.GetState()
}

// OnStateChange registers a handler for connection state changes.
func (c *Client) OnStateChange(handler StateChangeHandler) {
	c.stateMgr.OnStateChange(handler)
}

// Logger returns the client's logger.
func (c *Client) Logger() logging.Logger {
	return c.logger
}

// acquire takes exclusive ownership of the connection.
func (c *Client) acquire(owner string) error {
	if err := c.stateMgr.TransitionTo(BUSY, nil, map[string]interface{}{"owner": owner}); err != nil {
		if c.stateMgr.GetState() == CLOSED {
			return bulk.NewConnectionClosedError(errClientClosed)
		}
		return bulk.NewBusyError(c.stateMgr.Owner())
	}
	return nil
}

// release gives the connection back, or closes it when err shows it is gone.
func (c *Client) release(err error) {
	if err != nil && isConnectionLost(err) {
		c.closeTransport(err, "connection_lost")
		return
	}
	// Fails only if the client was closed meanwhile.
	_ = c.stateMgr.TransitionTo(READY, nil, nil)
}

func (c *Client) closeTransport(cause error, reason string) {
	if err := c.stateMgr.TransitionTo(CLOSED, cause, map[string]interface{}{"reason": reason}); err != nil {
		return
	}
	c.logger.Warn("closing connection",
		logging.String("reason", reason),
		logging.String("error", FormatError(cause, c.IsDebugMode())))
	if err := c.transport.Close(); err != nil {
		c.logger.Debug("transport close failed", logging.Error("error", err))
	}
}

// Close closes the connection. A request in flight fails with a
// connection-closed error.
func (c *Client) Close() error {
	if err := c.stateMgr.TransitionTo(CLOSED, nil, map[string]interface{}{"reason": "user_initiated"}); err != nil {
		return nil
	}
	c.logger.Debug("client closed")
	return c.transport.Close()
}

// Exec runs one statement and returns the server's reply. Without a context
// deadline, DefaultTimeoutMs applies.
func (c *Client) Exec(ctx context.Context, statement string) (*protocol.Response, error) {
	if err := c.acquire(ownerStatement); err != nil {
		return nil, err
	}

	hookCtx := &HookContext{
		Command:     statement,
		CommandType: inferCommandType(statement),
		StartTime:   time.Now(),
		Metadata:    make(map[string]interface{}),
		TraceID:     uuid.NewString(),
	}

	var resp *protocol.Response
	err := c.executeBeforeHooks(ctx, hookCtx)
	if err == nil {
		resp, err = c.exec(ctx, hookCtx.Command)
	}
	c.release(err)

	hookCtx.Result = resp
	hookCtx.Error = err
	hookCtx.Duration = time.Since(hookCtx.StartTime)
	if hookErr := c.executeAfterHooks(ctx, hookCtx); hookErr != nil {
		err = hookErr
	}

	if err != nil {
		c.logger.Debug("statement failed",
			logging.String("command_type", hookCtx.CommandType),
			logging.String("error", FormatError(err, c.IsDebugMode())))
		return resp, err
	}
	return resp, nil
}

func (c *Client) exec(ctx context.Context, statement string) (*protocol.Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.defaultTimeout())
		defer cancel()
	}

	if err := c.transport.Send(ctx, c.codec.Encode(statement, nil)); err != nil {
		return nil, c.interrupted(ctx, err, c.logger)
	}
	resp, err := c.receive(ctx)
	if err != nil {
		return nil, c.interrupted(ctx, err, c.logger)
	}
	if !resp.Success {
		return resp, responseError(resp)
	}
	return resp, nil
}

// receive reads and decodes one reply.
func (c *Client) receive(ctx context.Context) (*protocol.Response, error) {
	data, err := c.transport.Receive(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.codec.Decode(data)
	if err != nil {
		return nil, protocolError("undecodable reply: %v", err)
	}
	return resp, nil
}

// interrupted handles a failed send or receive. A lost connection is closed;
// an aborted request is cleared with an attention exchange.
func (c *Client) interrupted(ctx context.Context, err error, logger logging.Logger) error {
	err = transportError(err)
	if isConnectionLost(err) {
		c.closeTransport(err, "connection_lost")
		return err
	}
	return c.abortRequest(ctx, err, logger)
}

// abortRequest resets the connection after cause ended a request early and
// returns cause.
func (c *Client) abortRequest(ctx context.Context, cause error, logger logging.Logger) error {
	if err := c.attention(ctx); err != nil {
		logger.Warn("attention failed",
			logging.Error("error", err),
			logging.String("cause", FormatError(cause, c.IsDebugMode())))
		c.closeTransport(err, "attention_failed")
		return cause
	}
	logger.Debug("request aborted", logging.String("cause", FormatError(cause, c.IsDebugMode())))
	return cause
}

// attention asks the server to discard the current request and drains
// replies up to the acknowledgement. It runs on a context detached from the
// caller's cancellation, bounded by AttentionTimeout.
func (c *Client) attention(ctx context.Context) error {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.AttentionTimeout)
	defer cancel()

	if err := c.transport.Send(actx, protocol.EncodeFrame(protocol.FrameAttention, nil)); err != nil {
		return err
	}
	for {
		resp, err := c.receive(actx)
		if err != nil {
			return err
		}
		if resp.Success && resp.Message == attentionAck {
			return nil
		}
	}
}
