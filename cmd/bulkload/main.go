// Command bulkload loads CSV files into tables over the bulk load protocol,
// SQL Server bulk copy or PostgreSQL COPY.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dan-strohschein/syndrdb-bulkload/client"
	"github.com/dan-strohschein/syndrdb-bulkload/config"
	"github.com/dan-strohschein/syndrdb-bulkload/logging"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	cmd := &cobra.Command{
		Use:           "bulkload",
		Short:         "Bulk load CSV data into a database table",
		Version:       client.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "job file (YAML)")
	cmd.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR (overrides logging.level)")
	_ = cmd.MarkPersistentFlagRequired("config")

	cmd.AddCommand(newLoadCmd(&f), newPlanCmd(&f))
	return cmd
}

func newLogger(cfg *config.Config, f *rootFlags, w io.Writer) logging.Logger {
	level := cfg.Logging.Level
	if f.logLevel != "" {
		level = f.logLevel
	}
	if cfg.Logging.Pretty {
		return logging.NewConsoleLogger(level, w)
	}
	return logging.NewFromEnv(level, w)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err.Error())
		stop()
		os.Exit(1)
	}
}
