package bulk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/syndrdb-bulkload/types"
)

func TestBulkInsertStatement(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{
			name: "no hints",
			want: "insert bulk [dbo].[events]([id] int, [name] nvarchar(50), [payload] varbinary(max))",
		},
		{
			name: "all hints",
			opts: Options{
				CheckConstraints: true,
				FireTriggers:     true,
				KeepNulls:        true,
				LockTable:        true,
				Order:            map[string]SortOrder{"name": Descending, "id": "asc"},
			},
			want: "insert bulk [dbo].[events]([id] int, [name] nvarchar(50), [payload] varbinary(max)) " +
				"with (CHECK_CONSTRAINTS, FIRE_TRIGGERS, KEEP_NULLS, TABLOCK, ORDER ([id] ASC, [name] DESC))",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New("dbo.events", tt.opts, nil)
			require.NoError(t, err)
			require.NoError(t, b.AddColumn("id", types.Int, ColumnOptions{}))
			require.NoError(t, b.AddColumn("name", types.NVarChar, ColumnOptions{Nullable: true, Length: 50}))
			require.NoError(t, b.AddColumn("payload", types.VarBinary, ColumnOptions{Nullable: true, Length: types.MaxLength}))
			assert.Equal(t, tt.want, b.BulkInsertStatement())
		})
	}
}

func TestTableCreationStatement(t *testing.T) {
	b, err := New("#staging", Options{}, nil)
	require.NoError(t, err)
	require.NoError(t, b.AddColumn("id", types.Int, ColumnOptions{}))
	require.NoError(t, b.AddColumn("seen", types.DateTime2, ColumnOptions{Nullable: true, Scale: 3}))
	require.NoError(t, b.AddColumn("key", types.UniqueIdentifier, ColumnOptions{Nullable: true, ObjName: "external_key"}))

	assert.Equal(t, "CREATE TABLE [#staging](\n"+
		"[id] int NOT NULL,\n"+
		"[seen] datetime2(3) NULL,\n"+
		"[external_key] uniqueidentifier NULL\n"+
		")", b.TableCreationStatement())
}

func TestQuoteTable(t *testing.T) {
	assert.Equal(t, "[dbo].[events]", quoteTable("dbo.events"))
	assert.Equal(t, "[dbo].[events]", quoteTable("[dbo].[events]"))
	assert.Equal(t, "[odd]]name]", quoteIdent("odd]name"))
}

func TestRequestErrorFormatting(t *testing.T) {
	err := newTimeoutError(250_000_000)
	assert.Equal(t, "ETIMEOUT: Timeout: Request failed to complete in 250ms", err.Error())
	assert.Contains(t, err.FormatError(true), `"type": "TimeoutError"`)
	assert.NotEmpty(t, err.StackTrace)

	closed := NewConnectionClosedError(assert.AnError)
	assert.ErrorIs(t, closed, ErrConnectionClosed)
	assert.ErrorIs(t, closed, assert.AnError)
	assert.Equal(t, KindConnectionClosed, KindOf(closed))
	assert.Equal(t, KindUnknown, KindOf(assert.AnError))
}
