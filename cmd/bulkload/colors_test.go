package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func noColor(t *testing.T) {
	t.Helper()
	prev := plain
	plain = true
	t.Cleanup(func() { plain = prev })
}

func TestPrintTable(t *testing.T) {
	noColor(t)
	var buf bytes.Buffer
	printTable(&buf, []string{"COLUMN", "TYPE"}, [][]string{
		{"id", "int"},
		{"name → full_name", "nvarchar(50)"},
	})

	want := "" +
		"COLUMN            TYPE\n" +
		"────────────────  ────────────\n" +
		"id                int\n" +
		"name → full_name  nvarchar(50)\n"
	assert.Equal(t, want, buf.String())
}

func TestPaint(t *testing.T) {
	prev := plain
	t.Cleanup(func() { plain = prev })

	plain = false
	assert.Equal(t, "\033[31mboom\033[0m", red.on("boom"))
	plain = true
	assert.Equal(t, "boom", red.on("boom"))

	var buf bytes.Buffer
	printWarning(&buf, "hints ignored")
	assert.Equal(t, "⚠ hints ignored\n", buf.String())
}
