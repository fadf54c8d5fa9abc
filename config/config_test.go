package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
	"github.com/dan-strohschein/syndrdb-bulkload/types"
)

const usersJob = `
target:
  driver: wire
  address: localhost:1776
table: users
create_table: true
columns:
  - {name: id, type: int}
  - {name: name, type: NVarChar, length: 50, nullable: true}
  - {name: notes, type: NVarChar, max_length: true, nullable: true}
options:
  keep_nulls: true
  order:
    id: asc
  timeout: 30s
input:
  path: users.csv
`

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(usersJob))
	require.NoError(t, err)

	assert.Equal(t, DriverWire, cfg.Target.Driver)
	assert.Equal(t, "localhost:1776", cfg.Target.Address)
	assert.Equal(t, 10*time.Second, cfg.Target.DialTimeout)
	assert.Equal(t, 5*time.Second, cfg.Target.AttentionTimeout)
	assert.Equal(t, "users", cfg.Table)
	assert.True(t, cfg.CreateTable)
	assert.Equal(t, []string{"id", "name", "notes"}, cfg.ColumnNames())
	assert.Equal(t, ",", cfg.Input.Delimiter)
	assert.Equal(t, "INFO", cfg.Logging.Level)

	opts := cfg.BulkOptions()
	assert.True(t, opts.KeepNulls)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, map[string]bulk.SortOrder{"id": bulk.Ascending}, opts.Order)

	assert.Equal(t, types.MaxLength, cfg.Columns[2].ColumnOptions().Length)
	assert.Equal(t, 50, cfg.Columns[1].ColumnOptions().Length)
}

func TestAddColumns(t *testing.T) {
	cfg, err := Parse(strings.NewReader(usersJob))
	require.NoError(t, err)

	bl, err := bulk.New(cfg.Table, cfg.BulkOptions(), nil)
	require.NoError(t, err)
	require.NoError(t, cfg.AddColumns(bl))

	assert.Equal(t,
		"CREATE TABLE [users](\n[id] int NOT NULL,\n[name] nvarchar(50) NULL,\n[notes] nvarchar(max) NULL\n)",
		bl.TableCreationStatement())
}

func TestParseRejects(t *testing.T) {
	base := func(extra string) string {
		return "target: {driver: wire, address: 'h:1'}\ntable: t\ncolumns: [{name: id, type: Int}]\n" + extra
	}

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "", "config is empty"},
		{"unknown key", base("colour: blue\n"), "colour"},
		{"unknown driver", "target: {driver: oracle}\ntable: t\ncolumns: [{name: id, type: Int}]\n", "unknown target.driver"},
		{"wire without address", "table: t\ncolumns: [{name: id, type: Int}]\n", "target.address is required"},
		{"mssql without dsn", "target: {driver: mssql}\ntable: t\ncolumns: [{name: id, type: Int}]\n", "target.dsn is required"},
		{"postgres create table", "target: {driver: postgres, dsn: 'postgres://h/db'}\ntable: t\ncreate_table: true\ncolumns: [{name: id, type: Int}]\n", "create_table is not supported"},
		{"no table", "target: {address: 'h:1'}\ncolumns: [{name: id, type: Int}]\n", "table is required"},
		{"no columns", "target: {address: 'h:1'}\ntable: t\n", "at least one column"},
		{"unnamed column", "target: {address: 'h:1'}\ntable: t\ncolumns: [{type: Int}]\n", "name is required"},
		{"duplicate column", "target: {address: 'h:1'}\ntable: t\ncolumns: [{name: id, type: Int}, {name: id, type: BigInt}]\n", "duplicate column"},
		{"unknown type", "target: {address: 'h:1'}\ntable: t\ncolumns: [{name: id, type: Money}]\n", "unknown type"},
		{"order on missing column", base("options: {order: {other: ASC}}\n"), "not a column"},
		{"bad order direction", base("options: {order: {id: UP}}\n"), "must be ASC or DESC"},
		{"negative timeout", base("options: {timeout: -1s}\n"), "must not be negative"},
		{"negative write timeout", "target: {address: 'h:1', write_timeout: -1s}\ntable: t\ncolumns: [{name: id, type: Int}]\n", "target.write_timeout"},
		{"long delimiter", base("input: {delimiter: '::'}\n"), "single character"},
		{"unknown encoding", base("input: {encoding: klingon}\n"), "unknown encoding"},
		{"throttle without streaming", base("input: {rows_per_second: 10}\n"), "requires input.streaming"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseThrottleDefaultsBurst(t *testing.T) {
	cfg, err := Parse(strings.NewReader(
		"target: {address: 'h:1'}\ntable: t\ncolumns: [{name: id, type: Int}]\ninput: {streaming: true, rows_per_second: 100, encoding: windows-1252}\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Input.Burst)
	assert.Equal(t, "windows-1252", cfg.Input.Encoding)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("BULKLOAD_TEST_DSN", "postgres://u:p@localhost:5432/db")

	path := filepath.Join(t.TempDir(), "job.yaml")
	doc := "target:\n  driver: postgres\n  dsn: ${BULKLOAD_TEST_DSN}\ntable: public.users\ncolumns:\n  - {name: id, type: BigInt}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Target.Driver)
	assert.Equal(t, "postgres://u:p@localhost:5432/db", cfg.Target.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DriverWire, cfg.Target.Driver)
	assert.Equal(t, ",", cfg.Input.Delimiter)
	assert.Error(t, cfg.Validate())
}
