package bulk

import (
	"fmt"
)

// validateValues checks nullability and converts each value to its column's
// canonical type. It returns a new slice; values is left untouched.
func validateValues(cols []*Column, values []any) ([]any, error) {
	out := make([]any, len(values))
	for i, c := range cols {
		v := values[i]
		if v == nil {
			if !c.Nullable {
				return nil, NewValidationError(
					fmt.Sprintf("The value for column %q cannot be null.", c.Name),
					nil,
					map[string]interface{}{"column": c.Name})
			}
			continue
		}
		cv, err := c.Type.Validate(v, c.Params)
		if err != nil {
			return nil, columnError(c, v, err)
		}
		out[i] = cv
	}
	return out, nil
}

// columnError turns a codec failure into a validation error whose message is
// the codec's own, e.g. "Invalid date.".
func columnError(c *Column, v any, err error) *RequestError {
	return NewValidationError(err.Error(), err, map[string]interface{}{
		"column": c.Name,
		"type":   c.Type.Name(),
		"value":  fmt.Sprintf("%v", v),
	})
}
