package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
	"github.com/dan-strohschein/syndrdb-bulkload/config"
	"github.com/dan-strohschein/syndrdb-bulkload/transport"
	"github.com/dan-strohschein/syndrdb-bulkload/transport/mock"
)

const usersJob = `
target:
  driver: wire
  address: mock:1776
table: users
create_table: true
columns:
  - {name: id, type: Int}
  - {name: name, type: NVarChar, length: 50, nullable: true}
options:
  keep_nulls: true
input:
  path: %INPUT%
  streaming: %STREAMING%
`

const usersCSV = "id,name\n1,ada\n2,\n3,grace\n"

// useMockServer routes wire connections to a fresh mock server.
func useMockServer(t *testing.T) *mock.Server {
	t.Helper()
	server := mock.NewServer()
	prev := dialWire
	dialWire = func(config.Target) transport.Factory {
		return func(context.Context) (transport.Transport, error) {
			return server.Connect(), nil
		}
	}
	t.Cleanup(func() { dialWire = prev })
	return server
}

func writeJob(t *testing.T, csv string, streaming bool) string {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "users.csv")
	require.NoError(t, os.WriteFile(input, []byte(csv), 0o600))

	job := strings.NewReplacer("%INPUT%", input, "%STREAMING%", map[bool]string{true: "true", false: "false"}[streaming]).Replace(usersJob)
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(job), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLoadCommand(t *testing.T) {
	for _, streaming := range []bool{false, true} {
		name := map[bool]string{false: "buffered", true: "streaming"}[streaming]
		t.Run(name, func(t *testing.T) {
			server := useMockServer(t)
			job := writeJob(t, usersCSV, streaming)

			out, err := run(t, "load", "-c", job)
			require.NoError(t, err)
			assert.Contains(t, out, "loaded 3 rows into users")

			require.Len(t, server.Executed(), 1)
			assert.True(t, strings.HasPrefix(server.Executed()[0], "CREATE TABLE [users]("))

			rows := server.Rows("users")
			require.Len(t, rows, 3)
			assert.Equal(t, map[string]any{"id": int32(1), "name": "ada"}, rows[0])
			assert.Equal(t, map[string]any{"id": int32(2), "name": nil}, rows[1])
			assert.Equal(t, map[string]any{"id": int32(3), "name": "grace"}, rows[2])
		})
	}
}

func TestLoadCommandInputOverride(t *testing.T) {
	server := useMockServer(t)
	job := writeJob(t, "id,name\n", false)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs([]string{"load", "-c", job, "-i", "-"})
	cmd.SetIn(strings.NewReader("id,name\n7,linus\n"))
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "loaded 1 rows into users")
	assert.Equal(t, []map[string]any{{"id": int32(7), "name": "linus"}}, server.Rows("users"))
}

func TestLoadCommandInvalidValue(t *testing.T) {
	for _, streaming := range []bool{false, true} {
		server := useMockServer(t)
		job := writeJob(t, "id,name\n1,ada\nseven,bob\n", streaming)

		_, err := run(t, "load", "-c", job)
		require.Error(t, err)
		assert.True(t, errors.Is(err, bulk.ErrValidation), "streaming=%v: %v", streaming, err)
		assert.Empty(t, server.Rows("users"))
	}
}

func TestLoadCommandProducerError(t *testing.T) {
	server := useMockServer(t)
	job := writeJob(t, "id,name\n1,ada\n2\n", true)

	_, err := run(t, "load", "-c", job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row producer")
	assert.Empty(t, server.Rows("users"))
}

func TestLoadCommandServerError(t *testing.T) {
	server := useMockServer(t)
	server.WithRowError(2, mock.CodeConstraint, "The INSERT statement conflicted with the CHECK constraint.")
	job := writeJob(t, usersCSV, false)

	_, err := run(t, "load", "-c", job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bulk.ErrServer))
	assert.Contains(t, err.Error(), "CHECK constraint")
}

func TestLoadCommandRequiresConfig(t *testing.T) {
	_, err := run(t, "load")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"config" not set`)
}

func TestPlanCommand(t *testing.T) {
	server := useMockServer(t)
	job := writeJob(t, usersCSV, true)

	out, err := run(t, "plan", "-c", job)
	require.NoError(t, err)

	assert.Contains(t, out, "mock:1776")
	assert.Contains(t, out, "nvarchar(50)")
	assert.Contains(t, out, "CREATE TABLE [users](\n[id] int NOT NULL,\n[name] nvarchar(50) NULL\n)")
	assert.Contains(t, out, "insert bulk [users]([id] int, [name] nvarchar(50)) with (KEEP_NULLS)")
	assert.Contains(t, out, "streaming")
	assert.Empty(t, server.Executed(), "plan must not contact the target")
}

func TestLoadSummary(t *testing.T) {
	s := loadSummary{table: "users", rows: 1234567, elapsed: 2e9}
	assert.Equal(t, "loaded 1,234,567 rows into users in 2s (617,283 rows/s)", s.String())
}
