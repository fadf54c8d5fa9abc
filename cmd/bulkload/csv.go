package main

import (
	"context"
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
	"golang.org/x/time/rate"

	"github.com/dan-strohschein/syndrdb-bulkload/bulk"
	"github.com/dan-strohschein/syndrdb-bulkload/config"
)

// csvRows reads bulk.Row values from CSV input. Fields are passed on as
// strings and converted by the column types; an empty field or the null
// marker becomes a null.
type csvRows struct {
	r       *csv.Reader
	columns []string
	index   []int // CSV field index per column
	null    string
	line    int
}

func newCSVRows(src io.Reader, columns []string, in config.Input) (*csvRows, error) {
	if in.Encoding != "" {
		enc, err := htmlindex.Get(in.Encoding)
		if err != nil {
			return nil, errors.Wrapf(err, "input encoding %q", in.Encoding)
		}
		src = transform.NewReader(src, enc.NewDecoder())
	}

	r := csv.NewReader(src)
	r.ReuseRecord = true
	if in.Delimiter != "" {
		d, _ := utf8.DecodeRuneInString(in.Delimiter)
		r.Comma = d
	}

	rows := &csvRows{r: r, columns: columns, null: in.Null}
	if in.NoHeader {
		rows.index = make([]int, len(columns))
		for i := range columns {
			rows.index[i] = i
		}
		r.FieldsPerRecord = len(columns)
		return rows, nil
	}

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("input is empty")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	rows.line = 1

	pos := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		pos[name] = i
	}
	rows.index = make([]int, len(columns))
	for i, name := range columns {
		p, ok := pos[name]
		if !ok {
			return nil, errors.Newf("column %q is missing from the input header", name)
		}
		rows.index[i] = p
	}
	return rows, nil
}

// Next implements bulk.RowIterator.
func (c *csvRows) Next(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := c.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read input")
	}
	c.line++

	row := make(bulk.Row, len(c.columns))
	for i, name := range c.columns {
		p := c.index[i]
		if p >= len(rec) {
			return nil, errors.Newf("line %d: %d fields, column %q needs field %d", c.line, len(rec), name, p+1)
		}
		v := rec[p]
		if v == "" || (c.null != "" && v == c.null) {
			row[name] = nil
			continue
		}
		row[name] = v
	}
	return row, nil
}

// throttled limits an iterator to the limiter's rate.
type throttled struct {
	bulk.RowIterator
	limiter *rate.Limiter
}

func (t throttled) Next(ctx context.Context) (any, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.RowIterator.Next(ctx)
}
