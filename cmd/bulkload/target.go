package main

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/dan-strohschein/syndrdb-bulkload/adapter/mssql"
	"github.com/dan-strohschein/syndrdb-bulkload/adapter/pgcopy"
	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
	"github.com/dan-strohschein/syndrdb-bulkload/client"
	"github.com/dan-strohschein/syndrdb-bulkload/config"
	"github.com/dan-strohschein/syndrdb-bulkload/logging"
	"github.com/dan-strohschein/syndrdb-bulkload/transport"
	"github.com/dan-strohschein/syndrdb-bulkload/transport/tcp"
)

// target is an open connection a job loads into.
type target struct {
	loader bulk.Loader

	// exec runs CREATE TABLE. Nil when the driver cannot.
	exec  func(ctx context.Context, statement string) error
	close func() error
}

// dialWire opens the wire transport. Tests replace it.
var dialWire = func(cfg config.Target) transport.Factory {
	return tcp.Factory(tcp.Options{
		Address:      cfg.Address,
		Timeout:      cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

func openTarget(ctx context.Context, cfg *config.Config, logger logging.Logger) (*target, error) {
	switch cfg.Target.Driver {
	case config.DriverWire:
		opts := client.DefaultOptions()
		opts.Logger = logger
		opts.AttentionTimeout = cfg.Target.AttentionTimeout
		opts.ValidateRows = cfg.Options.ValidateRows
		c, err := client.Dial(ctx, dialWire(cfg.Target), &opts)
		if err != nil {
			return nil, errors.Wrapf(err, "connect to %s", cfg.Target.Address)
		}
		c.RegisterHook(client.NewAuditHook(logger, false))
		return &target{
			loader: c,
			exec: func(ctx context.Context, statement string) error {
				_, err := c.Exec(ctx, statement)
				return err
			},
			close: c.Close,
		}, nil

	case config.DriverMSSQL:
		l, err := mssql.Open(ctx, cfg.Target.DSN, logger)
		if err != nil {
			return nil, err
		}
		return &target{loader: l, exec: l.Exec, close: l.Close}, nil

	case config.DriverPostgres:
		l, err := pgcopy.Connect(ctx, cfg.Target.DSN, logger)
		if err != nil {
			return nil, err
		}
		return &target{
			loader: l,
			close:  func() error { return l.Close(context.Background()) },
		}, nil
	}
	return nil, errors.Newf("unknown driver %q", cfg.Target.Driver)
}
