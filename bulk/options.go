package bulk

import (
	"fmt"
	"strings"
	"time"
)

// SortOrder is the direction of an ORDER hint.
type SortOrder string

const (
	Ascending  SortOrder = "ASC"
	Descending SortOrder = "DESC"
)

// Options configures a bulk load.
type Options struct {
	// CheckConstraints enforces CHECK constraints while loading.
	CheckConstraints bool

	// FireTriggers runs insert triggers on the target table.
	FireTriggers bool

	// KeepNulls stores explicit nulls instead of column defaults.
	KeepNulls bool

	// LockTable takes a table lock for the duration of the load.
	LockTable bool

	// Order declares the sort order the rows arrive in, keyed by column name.
	Order map[string]SortOrder

	// ValidateRows converts and range checks each row before encoding.
	ValidateRows bool

	// Timeout bounds the transfer once transmission starts. Zero disables it.
	Timeout time.Duration
}

// DefaultOptions returns options with every hint disabled.
func DefaultOptions() Options {
	return Options{}
}

func (o Options) validate() error {
	for name, dir := range o.Order {
		switch SortOrder(strings.ToUpper(string(dir))) {
		case Ascending, Descending:
		default:
			return newStateError(
				fmt.Sprintf("The value of the %q key in the order option must be ASC or DESC.", name),
				map[string]interface{}{"column": name, "order": string(dir)})
		}
	}
	if o.Timeout < 0 {
		return newStateError("The timeout must not be negative.", nil)
	}
	return nil
}

// hints renders the WITH (...) entries in a stable order: flags first, then
// ORDER following column order.
func (o Options) hints(cols []*Column) []string {
	var out []string
	if o.CheckConstraints {
		out = append(out, "CHECK_CONSTRAINTS")
	}
	if o.FireTriggers {
		out = append(out, "FIRE_TRIGGERS")
	}
	if o.KeepNulls {
		out = append(out, "KEEP_NULLS")
	}
	if o.LockTable {
		out = append(out, "TABLOCK")
	}

	var order []string
	for _, c := range cols {
		if dir, ok := o.Order[c.Name]; ok {
			order = append(order, quoteIdent(c.serverName())+" "+strings.ToUpper(string(dir)))
		}
	}
	if len(order) > 0 {
		out = append(out, "ORDER ("+strings.Join(order, ", ")+")")
	}
	return out
}

// checkOrderColumns reports order keys that name no column.
func (o Options) checkOrderColumns(cols []*Column) error {
	for name := range o.Order {
		found := false
		for _, c := range cols {
			if c.Name == name {
				found = true
				break
			}
		}
		if !found {
			return newStateError(
				fmt.Sprintf("Order column %q is not part of the bulk load.", name),
				map[string]interface{}{"column": name})
		}
	}
	return nil
}
