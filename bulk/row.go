package bulk

import (
	"fmt"
	"sort"
)

// Row is a named row: column name to value. Missing nullable columns are null.
type Row map[string]any

// normalizeRow resolves a named or positional row into one value per column,
// in column order.
func normalizeRow(cols []*Column, row any) ([]any, error) {
	switch r := row.(type) {
	case []any:
		if len(r) != len(cols) {
			return nil, NewValidationError(
				fmt.Sprintf("Row has %d values but the bulk load has %d columns.", len(r), len(cols)),
				nil,
				map[string]interface{}{"values": len(r), "columns": len(cols)})
		}
		out := make([]any, len(r))
		copy(out, r)
		return out, nil
	case Row:
		return normalizeNamed(cols, r)
	case map[string]any:
		return normalizeNamed(cols, r)
	case nil:
		return nil, NewValidationError("Row must not be nil.", nil, nil)
	default:
		return nil, NewValidationError(
			fmt.Sprintf("Row must be a map[string]any or []any, got %T.", row),
			nil, nil)
	}
}

func normalizeNamed(cols []*Column, r map[string]any) ([]any, error) {
	out := make([]any, len(cols))
	seen := 0
	for i, c := range cols {
		v, ok := r[c.Name]
		if !ok {
			if !c.Nullable {
				return nil, NewValidationError(
					fmt.Sprintf("The value for column %q is missing.", c.Name),
					nil,
					map[string]interface{}{"column": c.Name})
			}
			continue
		}
		seen++
		out[i] = v
	}
	if seen != len(r) {
		return nil, NewValidationError(
			fmt.Sprintf("Row names unknown columns: %v.", unknownKeys(cols, r)),
			nil, nil)
	}
	return out, nil
}

func unknownKeys(cols []*Column, r map[string]any) []string {
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c.Name] = true
	}
	var out []string
	for k := range r {
		if !known[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
