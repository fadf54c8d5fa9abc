package bulk

import (
	"fmt"

	"github.com/dan-strohschein/syndrdb-bulkload/protocol"
	"github.com/dan-strohschein/syndrdb-bulkload/types"
)

// ColumnOptions carries the optional parts of a column definition.
type ColumnOptions struct {
	Nullable bool

	// Length applies to character and binary types; types.MaxLength selects (max).
	Length int

	Precision uint8
	Scale     uint8

	// ObjName is the column name on the server when it differs from the row key.
	ObjName string
}

// Column is one column of a bulk load. Columns are immutable once added.
type Column struct {
	Name     string
	Type     types.Type
	Params   types.Params
	Nullable bool
	ObjName  string
}

func (c *Column) serverName() string {
	if c.ObjName != "" {
		return c.ObjName
	}
	return c.Name
}

// Declaration renders the column's SQL type, e.g. "nvarchar(50)".
func (c *Column) Declaration() string {
	return c.Type.Declaration(c.Params)
}

func (c *Column) metadata() protocol.ColumnMetadata {
	return protocol.ColumnMetadata{
		Name:      c.serverName(),
		TypeID:    c.Type.ID(),
		Nullable:  c.Nullable,
		Length:    int32(c.Params.Length),
		Precision: c.Params.Precision,
		Scale:     c.Params.Scale,
	}
}

func newColumn(name string, typ types.Type, opts ColumnOptions) (*Column, error) {
	if name == "" {
		return nil, newStateError("Column name must not be empty.", nil)
	}
	if typ == nil {
		return nil, newStateError(fmt.Sprintf("Column %q has no type.", name), map[string]interface{}{"column": name})
	}
	params, err := typ.ResolveParams(types.Params{
		Length:    opts.Length,
		Precision: opts.Precision,
		Scale:     opts.Scale,
	})
	if err != nil {
		return nil, newRequestError(KindInvalidState,
			fmt.Sprintf("Column %q: %s", name, err.Error()),
			err,
			map[string]interface{}{"column": name, "type": typ.Name()})
	}
	return &Column{
		Name:     name,
		Type:     typ,
		Params:   params,
		Nullable: opts.Nullable,
		ObjName:  opts.ObjName,
	}, nil
}

// encodeHeader serializes the column metadata that precedes the row stream.
func encodeHeader(cols []*Column) []byte {
	meta := make([]protocol.ColumnMetadata, len(cols))
	for i, c := range cols {
		meta[i] = c.metadata()
	}
	return protocol.EncodeColumnMetadata(meta)
}
