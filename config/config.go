// Package config reads bulk load job files.
//
// A job file names the target, the table and its columns, the load options
// and the CSV input:
//
//	target:
//	  driver: wire
//	  address: localhost:1776
//	table: users
//	create_table: true
//	columns:
//	  - {name: id, type: Int}
//	  - {name: name, type: NVarChar, length: 50, nullable: true}
//	options:
//	  keep_nulls: true
//	  timeout: 30s
//	input:
//	  path: users.csv
//
// Environment variables in the file are expanded before parsing.
package config

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"

	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
	"github.com/dan-strohschein/syndrdb-bulkload/types"
)

// Supported target drivers.
const (
	DriverWire     = "wire"
	DriverMSSQL    = "mssql"
	DriverPostgres = "postgres"
)

// Config is one bulk load job.
type Config struct {
	Target      Target   `yaml:"target"`
	Table       string   `yaml:"table"`
	CreateTable bool     `yaml:"create_table"`
	Columns     []Column `yaml:"columns"`
	Options     Options  `yaml:"options"`
	Input       Input    `yaml:"input"`
	Logging     Logging  `yaml:"logging"`
}

// Target selects the loader.
type Target struct {
	// Driver is wire, mssql or postgres.
	Driver string `yaml:"driver"`

	// Address is host:port of a wire protocol server.
	Address string `yaml:"address"`

	// DSN is the connection string for mssql and postgres.
	DSN string `yaml:"dsn"`

	DialTimeout      time.Duration `yaml:"dial_timeout"`
	AttentionTimeout time.Duration `yaml:"attention_timeout"`

	// WriteTimeout bounds a single frame write on the wire driver.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Column declares one column of the load.
type Column struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Nullable  bool   `yaml:"nullable"`
	Length    int    `yaml:"length"`
	MaxLength bool   `yaml:"max_length"`
	Precision uint8  `yaml:"precision"`
	Scale     uint8  `yaml:"scale"`
	ObjName   string `yaml:"obj_name"`
}

// Options mirrors bulk.Options.
type Options struct {
	CheckConstraints bool              `yaml:"check_constraints"`
	FireTriggers     bool              `yaml:"fire_triggers"`
	KeepNulls        bool              `yaml:"keep_nulls"`
	LockTable        bool              `yaml:"lock_table"`
	Order            map[string]string `yaml:"order"`
	ValidateRows     bool              `yaml:"validate_rows"`
	Timeout          time.Duration     `yaml:"timeout"`
}

// Input describes the CSV source.
type Input struct {
	Path      string `yaml:"path"`
	Delimiter string `yaml:"delimiter"`

	// Encoding is a WHATWG encoding label such as windows-1252 or utf-16le.
	// Empty means UTF-8.
	Encoding string `yaml:"encoding"`

	// NoHeader means the first record is data, matched to columns by position.
	NoHeader bool `yaml:"no_header"`

	// Null is the field text read as a null value. Empty fields are always null.
	Null string `yaml:"null"`

	// Streaming sends rows through a row sink as they are read instead of
	// buffering the whole file.
	Streaming bool `yaml:"streaming"`

	// RowsPerSecond throttles a streaming load. Zero means unlimited.
	RowsPerSecond float64 `yaml:"rows_per_second"`
	Burst         int     `yaml:"burst"`
}

// Logging configures the CLI logger.
type Logging struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns a config with defaults applied and no table or columns.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Target.Driver == "" {
		c.Target.Driver = DriverWire
	}
	if c.Target.DialTimeout == 0 {
		c.Target.DialTimeout = 10 * time.Second
	}
	if c.Target.AttentionTimeout == 0 {
		c.Target.AttentionTimeout = 5 * time.Second
	}
	if c.Input.Delimiter == "" {
		c.Input.Delimiter = ","
	}
	if c.Input.RowsPerSecond > 0 && c.Input.Burst <= 0 {
		c.Input.Burst = 1
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
}

// Load reads and validates a job file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg, err := Parse(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes a job from r, applies defaults and validates it. Unknown keys
// are rejected.
func Parse(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Config
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("config is empty")
		}
		return nil, errors.Wrap(err, "parse config")
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the job for errors that would otherwise surface only once
// the load starts.
func (c *Config) Validate() error {
	switch c.Target.Driver {
	case DriverWire:
		if c.Target.Address == "" {
			return errors.New("target.address is required for the wire driver")
		}
	case DriverMSSQL, DriverPostgres:
		if c.Target.DSN == "" {
			return errors.Newf("target.dsn is required for the %s driver", c.Target.Driver)
		}
	default:
		return errors.Newf("unknown target.driver %q (want wire, mssql or postgres)", c.Target.Driver)
	}

	if c.CreateTable && c.Target.Driver == DriverPostgres {
		return errors.New("create_table is not supported for the postgres driver")
	}

	if strings.TrimSpace(c.Table) == "" {
		return errors.New("table is required")
	}
	if len(c.Columns) == 0 {
		return errors.New("at least one column is required")
	}

	seen := make(map[string]bool, len(c.Columns))
	for i, col := range c.Columns {
		if col.Name == "" {
			return errors.Newf("columns[%d]: name is required", i)
		}
		if seen[col.Name] {
			return errors.Newf("columns[%d]: duplicate column %q", i, col.Name)
		}
		seen[col.Name] = true
		if _, ok := types.Lookup(col.Type); !ok {
			return errors.Newf("columns[%d]: unknown type %q", i, col.Type)
		}
	}

	for name, dir := range c.Options.Order {
		if !seen[name] {
			return errors.Newf("options.order: %q is not a column", name)
		}
		switch strings.ToUpper(dir) {
		case string(bulk.Ascending), string(bulk.Descending):
		default:
			return errors.Newf("options.order: %q must be ASC or DESC, got %q", name, dir)
		}
	}
	if c.Target.WriteTimeout < 0 {
		return errors.New("target.write_timeout must not be negative")
	}
	if c.Options.Timeout < 0 {
		return errors.New("options.timeout must not be negative")
	}

	if utf8.RuneCountInString(c.Input.Delimiter) != 1 {
		return errors.Newf("input.delimiter must be a single character, got %q", c.Input.Delimiter)
	}
	if c.Input.Encoding != "" {
		if _, err := htmlindex.Get(c.Input.Encoding); err != nil {
			return errors.Newf("input.encoding: unknown encoding %q", c.Input.Encoding)
		}
	}
	if c.Input.RowsPerSecond < 0 {
		return errors.New("input.rows_per_second must not be negative")
	}
	if c.Input.RowsPerSecond > 0 && !c.Input.Streaming {
		return errors.New("input.rows_per_second requires input.streaming")
	}
	return nil
}

// BulkOptions converts the options section.
func (c *Config) BulkOptions() bulk.Options {
	opts := bulk.Options{
		CheckConstraints: c.Options.CheckConstraints,
		FireTriggers:     c.Options.FireTriggers,
		KeepNulls:        c.Options.KeepNulls,
		LockTable:        c.Options.LockTable,
		ValidateRows:     c.Options.ValidateRows,
		Timeout:          c.Options.Timeout,
	}
	if len(c.Options.Order) > 0 {
		opts.Order = make(map[string]bulk.SortOrder, len(c.Options.Order))
		for name, dir := range c.Options.Order {
			opts.Order[name] = bulk.SortOrder(strings.ToUpper(dir))
		}
	}
	return opts
}

// ColumnOptions converts a column's optional parts.
func (col Column) ColumnOptions() bulk.ColumnOptions {
	opts := bulk.ColumnOptions{
		Nullable:  col.Nullable,
		Length:    col.Length,
		Precision: col.Precision,
		Scale:     col.Scale,
		ObjName:   col.ObjName,
	}
	if col.MaxLength {
		opts.Length = types.MaxLength
	}
	return opts
}

// AddColumns declares every configured column on bl.
func (c *Config) AddColumns(bl *bulk.BulkLoad) error {
	for _, col := range c.Columns {
		typ, ok := types.Lookup(col.Type)
		if !ok {
			return errors.Newf("unknown type %q", col.Type)
		}
		if err := bl.AddColumn(col.Name, typ, col.ColumnOptions()); err != nil {
			return err
		}
	}
	return nil
}

// ColumnNames lists the configured column names in order.
func (c *Config) ColumnNames() []string {
	names := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		names[i] = col.Name
	}
	return names
}
