package bulk

// EncodedRow is one row ready for a loader. Values suits driver based loaders
// and Data is the wire record for protocol loaders.
type EncodedRow struct {
	// Index is the zero-based position of the row in the load.
	Index int64

	// Values holds one value per column, in column order. With row
	// validation enabled the values are converted to their canonical types.
	Values []any

	// Data is the concatenation of every column's encoded value or null
	// indicator.
	Data []byte
}

// rowEncoder encodes rows against the session's own column slice.
type rowEncoder struct {
	cols     []*Column
	validate bool
}

func newRowEncoder(cols []*Column, validate bool) *rowEncoder {
	return &rowEncoder{cols: cols, validate: validate}
}

func (e *rowEncoder) encode(index int64, row any) (*EncodedRow, error) {
	values, err := normalizeRow(e.cols, row)
	if err != nil {
		return nil, err
	}
	if e.validate {
		if values, err = validateValues(e.cols, values); err != nil {
			return nil, err
		}
	}

	var data []byte
	for i, c := range e.cols {
		if values[i] == nil {
			data = c.Type.AppendNull(data, c.Params)
			continue
		}
		if data, err = c.Type.AppendValue(data, values[i], c.Params); err != nil {
			return nil, columnError(c, values[i], err)
		}
	}
	return &EncodedRow{Index: index, Values: values, Data: data}, nil
}
