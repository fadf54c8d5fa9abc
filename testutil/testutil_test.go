package testutil

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-sql/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
)

func TestUserFactoryBuild(t *testing.T) {
	f := NewUserFactory()
	row := f.Build()

	assert.Len(t, row, 5)
	assert.IsType(t, int32(0), row["id"])
	assert.IsType(t, civil.Date{}, row["joined"])
	assert.Contains(t, row["email"], "@example.com")
}

func TestFactoryOptions(t *testing.T) {
	f := NewUserFactory()
	row := f.Build(WithField("name", "ada"), WithFields(map[string]any{"id": int32(99)}))
	assert.Equal(t, "ada", row["name"])
	assert.Equal(t, int32(99), row["id"])
}

func TestFactoryBuildListSequences(t *testing.T) {
	f := NewUserFactory()
	rows := f.BuildList(14)
	require.Len(t, rows, 14)

	seen := map[int32]bool{}
	for _, r := range rows {
		seen[r["id"].(int32)] = true
	}
	assert.Len(t, seen, 14)
	assert.Nil(t, rows[6]["name"])
	assert.Nil(t, rows[13]["name"])
}

func TestFactoryLoadsThroughClient(t *testing.T) {
	for _, f := range []*RowFactory{NewUserFactory(), NewEventFactory()} {
		t.Run(f.Table(), func(t *testing.T) {
			c, server := NewTestClient(t)
			server.CreateTable(f.Table(), nil)

			bl, err := f.NewLoad(bulk.Options{KeepNulls: true, ValidateRows: true})
			require.NoError(t, err)
			AddRows(t, bl, f.BuildList(50))

			n, err := c.ExecBulkLoad(WithTimeout(t), bl)
			require.NoError(t, err)
			assert.EqualValues(t, 50, n)
			assert.Len(t, server.Rows(f.Table()), 50)
		})
	}
}

func TestRecordingLoader(t *testing.T) {
	f := NewUserFactory()
	loader := NewRecordingLoader()

	bl, err := f.NewLoad(bulk.Options{})
	require.NoError(t, err)
	AddRows(t, bl, f.BuildList(3))

	n, err := bl.Execute(WithTimeout(t), loader)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Len(t, loader.Rows(), 3)
	require.Len(t, loader.Transfers(), 1)
	assert.Equal(t, "users", loader.Transfers()[0].Table)
}

func TestRecordingLoaderScriptedError(t *testing.T) {
	f := NewUserFactory()
	boom := bulk.NewServerError("2627", "Violation of PRIMARY KEY constraint.", nil)
	loader := NewRecordingLoader().WillReturnError(boom, 2)

	bl, err := f.NewLoad(bulk.Options{})
	require.NoError(t, err)
	AddRows(t, bl, f.BuildList(5))

	_, err = bl.Execute(WithTimeout(t), loader)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bulk.ErrServer))
	assert.Empty(t, loader.Rows())
	assert.Equal(t, bulk.Errored, bl.State())
}

func TestWaitFor(t *testing.T) {
	start := time.Now()
	ok := WaitFor(t, time.Second, 5*time.Millisecond, func() bool {
		return time.Since(start) > 20*time.Millisecond
	})
	assert.True(t, ok)
}
