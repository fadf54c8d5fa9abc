package testutil

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"

	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
	"github.com/dan-strohschein/syndrdb-bulkload/types"
)

// Option is a function that modifies a generated row.
type Option func(bulk.Row)

// WithField sets a specific field value.
func WithField(name string, value any) Option {
	return func(row bulk.Row) {
		row[name] = value
	}
}

// WithFields sets multiple field values.
func WithFields(fields map[string]any) Option {
	return func(row bulk.Row) {
		for k, v := range fields {
			row[k] = v
		}
	}
}

// ColumnSpec is one column of a factory's table.
type ColumnSpec struct {
	Name    string
	Type    types.Type
	Options bulk.ColumnOptions

	// Generate produces the column value for the row with sequence number seq.
	Generate func(seq int64) any
}

// RowFactory generates rows for a fixed column set.
type RowFactory struct {
	table   string
	columns []ColumnSpec
	seq     atomic.Int64
}

// NewRowFactory creates a factory for table.
func NewRowFactory(table string, columns ...ColumnSpec) *RowFactory {
	return &RowFactory{table: table, columns: columns}
}

// Table returns the factory's table name.
func (f *RowFactory) Table() string {
	return f.table
}

// Columns returns the column specs.
func (f *RowFactory) Columns() []ColumnSpec {
	return f.columns
}

// Declare adds the factory's columns to bl.
func (f *RowFactory) Declare(bl *bulk.BulkLoad) error {
	for _, c := range f.columns {
		if err := bl.AddColumn(c.Name, c.Type, c.Options); err != nil {
			return err
		}
	}
	return nil
}

// NewLoad creates a load of the factory's table with its columns declared.
func (f *RowFactory) NewLoad(opts bulk.Options) (*bulk.BulkLoad, error) {
	bl, err := bulk.New(f.table, opts, nil)
	if err != nil {
		return nil, err
	}
	if err := f.Declare(bl); err != nil {
		return nil, err
	}
	return bl, nil
}

// Build creates a single row with optional overrides.
func (f *RowFactory) Build(options ...Option) bulk.Row {
	seq := f.seq.Add(1)
	row := make(bulk.Row, len(f.columns))
	for _, c := range f.columns {
		row[c.Name] = c.Generate(seq)
	}
	for _, opt := range options {
		opt(row)
	}
	return row
}

// BuildList creates count rows.
func (f *RowFactory) BuildList(count int, options ...Option) []bulk.Row {
	rows := make([]bulk.Row, count)
	for i := range rows {
		rows[i] = f.Build(options...)
	}
	return rows
}

// Random generators for realistic test data

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// RandomString generates a random string of the specified length.
func RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	rngMu.Lock()
	defer rngMu.Unlock()
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rng.Intn(len(charset))]
	}
	return string(b)
}

// RandomInt generates a random integer between min and max (inclusive).
func RandomInt(min, max int) int {
	rngMu.Lock()
	defer rngMu.Unlock()
	return min + rng.Intn(max-min+1)
}

// RandomDate generates a random date within the last year.
func RandomDate() civil.Date {
	return civil.DateOf(time.Now().AddDate(0, 0, -RandomInt(0, 364)))
}

// Built-in factories

// NewUserFactory creates a factory for a users table:
// id int, name nvarchar(50) null, email varchar(100), joined date, score float.
// Every seventh row has a null name.
func NewUserFactory() *RowFactory {
	return NewRowFactory("users",
		ColumnSpec{Name: "id", Type: types.Int, Generate: func(seq int64) any { return int32(seq) }},
		ColumnSpec{
			Name: "name", Type: types.NVarChar,
			Options: bulk.ColumnOptions{Nullable: true, Length: 50},
			Generate: func(seq int64) any {
				if seq%7 == 0 {
					return nil
				}
				return RandomString(12)
			},
		},
		ColumnSpec{
			Name: "email", Type: types.VarChar,
			Options:  bulk.ColumnOptions{Length: 100},
			Generate: func(seq int64) any { return fmt.Sprintf("user%d@example.com", seq) },
		},
		ColumnSpec{Name: "joined", Type: types.Date, Generate: func(int64) any { return RandomDate() }},
		ColumnSpec{Name: "score", Type: types.Float, Generate: func(int64) any { return float64(RandomInt(0, 10000)) / 100 }},
	)
}

// NewEventFactory creates a factory for an events table keyed by
// uniqueidentifier with a varbinary(max) payload.
func NewEventFactory() *RowFactory {
	return NewRowFactory("dbo.events",
		ColumnSpec{Name: "key", Type: types.UniqueIdentifier, Generate: func(int64) any { return uuid.New() }},
		ColumnSpec{Name: "seq", Type: types.BigInt, Generate: func(seq int64) any { return seq }},
		ColumnSpec{
			Name: "payload", Type: types.VarBinary,
			Options:  bulk.ColumnOptions{Nullable: true, Length: types.MaxLength},
			Generate: func(int64) any { return []byte(RandomString(RandomInt(16, 256))) },
		},
		ColumnSpec{Name: "at", Type: types.DateTime2, Generate: func(int64) any { return time.Now().UTC() }},
	)
}
