package bulk

import (
	"context"

	"github.com/google/uuid"
)

// Loader moves one bulk load to a server. Implementations read rows from
// t.Rows until io.EOF and return the number of rows the server accepted.
//
// When Next returns any other error, or ctx is canceled, the loader must
// abandon the transfer so that no partial row is committed, leave its
// connection usable, and return an error.
type Loader interface {
	LoadBulk(ctx context.Context, t *Transfer) (int64, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, t *Transfer) (int64, error)

// LoadBulk calls f.
func (f LoaderFunc) LoadBulk(ctx context.Context, t *Transfer) (int64, error) {
	return f(ctx, t)
}

// Transfer describes a bulk load in flight.
type Transfer struct {
	ID      uuid.UUID
	Table   string
	Options Options

	// Columns is the load's fixed schema. It must not be modified.
	Columns []*Column

	// Header is the encoded column metadata, fingerprint included.
	Header []byte

	// Statement is the "insert bulk" statement carrying the load hints.
	Statement string

	Rows RowReader
}

// ColumnNames returns the server-side column names in order.
func (t *Transfer) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.serverName()
	}
	return names
}

// RowReader yields encoded rows in order. Next returns io.EOF after the last
// row; any other error ends the load.
type RowReader interface {
	Next(ctx context.Context) (*EncodedRow, error)
}
