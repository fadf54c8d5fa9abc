package bulk

import (
	"strings"
)

// quoteIdent brackets a single identifier, doubling any closing bracket.
func quoteIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

// quoteTable quotes a possibly schema-qualified name like "dbo.events" to
// [dbo].[events]. Empty segments are ignored.
func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = strings.TrimSuffix(strings.TrimPrefix(p, "["), "]")
		out = append(out, quoteIdent(p))
	}
	return strings.Join(out, ".")
}

func bulkInsertStatement(table string, cols []*Column, opts Options) string {
	var sb strings.Builder
	sb.WriteString("insert bulk ")
	sb.WriteString(quoteTable(table))
	sb.WriteByte('(')
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteIdent(c.serverName()))
		sb.WriteByte(' ')
		sb.WriteString(c.Declaration())
	}
	sb.WriteByte(')')

	if hints := opts.hints(cols); len(hints) > 0 {
		sb.WriteString(" with (")
		sb.WriteString(strings.Join(hints, ", "))
		sb.WriteByte(')')
	}
	return sb.String()
}

func tableCreationStatement(table string, cols []*Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		null := " NOT NULL"
		if c.Nullable {
			null = " NULL"
		}
		defs[i] = quoteIdent(c.serverName()) + " " + c.Declaration() + null
	}
	return "CREATE TABLE " + quoteTable(table) + "(\n" + strings.Join(defs, ",\n") + "\n)"
}
