package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

// paint wraps text in an ANSI SGR sequence unless NO_COLOR is set.
type paint string

const (
	red    paint = "31"
	green  paint = "32"
	yellow paint = "33"
	cyan   paint = "36"
	bold   paint = "1"
	dim    paint = "2"
)

var plain = os.Getenv("NO_COLOR") != ""

func (p paint) on(text string) string {
	if plain {
		return text
	}
	return "\033[" + string(p) + "m" + text + "\033[0m"
}

func status(w io.Writer, mark string, p paint, message string) {
	fmt.Fprintln(w, p.on(mark), message)
}

func printSuccess(w io.Writer, message string) { status(w, "✓", green, message) }
func printError(w io.Writer, message string)   { status(w, "✗", red, message) }
func printWarning(w io.Writer, message string) { status(w, "⚠", yellow, message) }

func printHeader(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n%s\n", bold.on(cyan.on(title)), dim.on(strings.Repeat("─", 40)))
}

// printTable lays out rows in columns two spaces apart. Widths are measured
// on the uncolored text.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	measure := func(row []string) {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}
	measure(headers)
	for _, row := range rows {
		measure(row)
	}

	line := func(cells []string, style func(string) string) {
		var sb strings.Builder
		for i, cell := range cells {
			sb.WriteString(style(cell))
			sb.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell)+2))
		}
		fmt.Fprintln(w, strings.TrimRight(sb.String(), " "))
	}
	line(headers, bold.on)
	rules := make([]string, len(widths))
	for i, n := range widths {
		rules[i] = strings.Repeat("─", n)
	}
	line(rules, func(s string) string { return s })
	for _, row := range rows {
		line(row, func(s string) string { return s })
	}
}
