package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
	"github.com/dan-strohschein/syndrdb-bulkload/config"
	"github.com/dan-strohschein/syndrdb-bulkload/logging"
)

type loadFlags struct {
	input     string
	streaming bool
}

func newLoadCmd(root *rootFlags) *cobra.Command {
	var f loadFlags
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load a CSV file into a table",
		Long: `Load reads the job file, creates the table when create_table is set, and
bulk loads every row of the CSV input. Interrupting the command cancels the
load; nothing is committed.`,
		Example: `  bulkload load -c users.yaml
  bulkload load -c users.yaml -i - < users.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("input") {
				cfg.Input.Path = f.input
			}
			if cmd.Flags().Changed("streaming") {
				cfg.Input.Streaming = f.streaming
			}
			logger := newLogger(cfg, root, cmd.ErrOrStderr())

			in, closeInput, err := openInput(cfg.Input.Path, cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer closeInput()

			sum, err := runLoad(cmd.Context(), cfg, in, logger)
			out := cmd.OutOrStdout()
			if err != nil {
				printError(cmd.ErrOrStderr(), fmt.Sprintf("load into %s failed after %s", cfg.Table, sum.elapsed.Round(time.Millisecond)))
				return err
			}
			printSuccess(out, sum.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "CSV input path, - for stdin (overrides input.path)")
	cmd.Flags().BoolVar(&f.streaming, "streaming", false, "stream rows instead of buffering them (overrides input.streaming)")
	return cmd
}

func openInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open input")
	}
	return f, func() { _ = f.Close() }, nil
}

type loadSummary struct {
	table   string
	rows    int64
	elapsed time.Duration
}

func (s loadSummary) String() string {
	throughput := ""
	if secs := s.elapsed.Seconds(); secs > 0 {
		throughput = fmt.Sprintf(" (%s rows/s)", humanize.Comma(int64(float64(s.rows)/secs)))
	}
	return fmt.Sprintf("loaded %s rows into %s in %s%s",
		humanize.Comma(s.rows), s.table, s.elapsed.Round(time.Millisecond), throughput)
}

// newLoad builds the session described by cfg.
func newLoad(cfg *config.Config, logger logging.Logger) (*bulk.BulkLoad, error) {
	opts := cfg.BulkOptions()
	// CSV fields are text; validation converts them to the column types the
	// driver loaders expect.
	opts.ValidateRows = true
	bl, err := bulk.New(cfg.Table, opts, nil)
	if err != nil {
		return nil, err
	}
	if err := cfg.AddColumns(bl); err != nil {
		return nil, err
	}
	bl.SetLogger(logger)
	return bl, nil
}

// runLoad executes one job. Buffered input is read completely before the
// target is contacted.
func runLoad(ctx context.Context, cfg *config.Config, in io.Reader, logger logging.Logger) (loadSummary, error) {
	start := time.Now()
	sum := loadSummary{table: cfg.Table}
	done := func(n int64, err error) (loadSummary, error) {
		sum.rows = n
		sum.elapsed = time.Since(start)
		return sum, err
	}

	ctx = logging.WithContext(ctx, logger)
	bl, err := newLoad(cfg, logger)
	if err != nil {
		return done(0, err)
	}
	rows, err := newCSVRows(in, cfg.ColumnNames(), cfg.Input)
	if err != nil {
		return done(0, err)
	}

	if !cfg.Input.Streaming {
		if err := bufferRows(ctx, bl, rows); err != nil {
			return done(0, err)
		}
	}

	t, err := openTarget(ctx, cfg, logger)
	if err != nil {
		return done(0, err)
	}
	defer func() {
		if err := t.close(); err != nil {
			logger.Warn("closing target failed", logging.Error("error", err))
		}
	}()

	if cfg.CreateTable {
		if t.exec == nil {
			return done(0, errors.Newf("the %s driver cannot create tables", cfg.Target.Driver))
		}
		if err := t.exec(ctx, bl.TableCreationStatement()); err != nil {
			return done(0, errors.Wrap(err, "create table"))
		}
		logger.Info("table created", logging.String("table", cfg.Table))
	}

	if !cfg.Input.Streaming {
		return done(bl.Execute(ctx, t.loader))
	}

	var src bulk.RowIterator = rows
	if cfg.Input.RowsPerSecond > 0 {
		src = throttled{RowIterator: rows, limiter: rate.NewLimiter(rate.Limit(cfg.Input.RowsPerSecond), cfg.Input.Burst)}
	}
	return done(stream(ctx, bl, t.loader, src))
}

func bufferRows(ctx context.Context, bl *bulk.BulkLoad, rows bulk.RowIterator) error {
	for {
		row, err := rows.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := bl.AddRow(row); err != nil {
			return err
		}
	}
}

// stream runs the producer and the transfer side by side. A producer failure
// cancels the load and is reported in place of the cancellation.
func stream(ctx context.Context, bl *bulk.BulkLoad, loader bulk.Loader, src bulk.RowIterator) (int64, error) {
	sink, err := bl.RowSink()
	if err != nil {
		return 0, err
	}

	var (
		n       int64
		loadErr error
		prodErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, loadErr = bl.Execute(ctx, loader)
		return loadErr
	})
	g.Go(func() error {
		prodErr = sink.WriteAll(gctx, src)
		return prodErr
	})
	_ = g.Wait()

	if prodErr != nil {
		logging.FromContext(ctx).Debug("row producer stopped",
			logging.String("session", bl.ID().String()),
			logging.Error("error", prodErr))
	}

	if prodErr != nil && ctx.Err() == nil && errors.Is(loadErr, bulk.ErrCanceled) && !errors.Is(prodErr, bulk.ErrCanceled) {
		return n, prodErr
	}
	return n, loadErr
}
