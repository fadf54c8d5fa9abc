package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
	"github.com/dan-strohschein/syndrdb-bulkload/config"
	"github.com/dan-strohschein/syndrdb-bulkload/logging"
)

func newPlanCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Validate a job file and show the statements it would run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			bl, err := newLoad(cfg, logging.NewNoopLogger())
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), cfg, bl)
			return nil
		},
	}
}

func printPlan(w io.Writer, cfg *config.Config, bl *bulk.BulkLoad) {
	printHeader(w, "Target")
	switch cfg.Target.Driver {
	case config.DriverWire:
		fmt.Fprintf(w, "  %s %s\n", yellow.on(cfg.Target.Driver), cfg.Target.Address)
	default:
		fmt.Fprintf(w, "  %s %s\n", yellow.on(cfg.Target.Driver), dim.on(logging.RedactDSN(cfg.Target.DSN)))
	}

	printHeader(w, "Columns")
	rows := make([][]string, 0, len(bl.Columns()))
	for _, c := range bl.Columns() {
		null := "NOT NULL"
		if c.Nullable {
			null = "NULL"
		}
		name := c.Name
		if c.ObjName != "" {
			name += " -> " + c.ObjName
		}
		rows = append(rows, []string{name, c.Declaration(), null})
	}
	printTable(w, []string{"COLUMN", "TYPE", "NULL"}, rows)

	if cfg.CreateTable {
		printHeader(w, "Create table")
		fmt.Fprintln(w, bl.TableCreationStatement())
	}

	printHeader(w, "Bulk insert")
	fmt.Fprintln(w, bl.BulkInsertStatement())
	if cfg.Target.Driver == config.DriverPostgres && hasHints(bl.Options()) {
		printWarning(w, "bulk hints have no COPY equivalent and are ignored by the postgres driver")
	}

	input := cfg.Input.Path
	if input == "" || input == "-" {
		input = "stdin"
	}
	mode := "buffered"
	if cfg.Input.Streaming {
		mode = "streaming"
		if cfg.Input.RowsPerSecond > 0 {
			mode += fmt.Sprintf(", %g rows/s", cfg.Input.RowsPerSecond)
		}
	}
	printHeader(w, "Input")
	fmt.Fprintf(w, "  %s (%s, delimiter %q)\n", input, mode, cfg.Input.Delimiter)
	if cfg.Input.Encoding != "" {
		fmt.Fprintf(w, "  encoding %s\n", strings.ToLower(cfg.Input.Encoding))
	}
}

func hasHints(o bulk.Options) bool {
	return o.CheckConstraints || o.FireTriggers || o.LockTable || len(o.Order) > 0
}
