package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	bold   = color.New(color.Bold)
)

func message(w io.Writer, c *color.Color, mark, format string, args []any) {
	c.Fprintf(w, "%s %s\n", mark, fmt.Sprintf(format, args...))
}

// Success reports a finished batch on stdout.
func Success(format string, args ...any) { message(os.Stdout, green, "✓", format, args) }

// Error writes to stderr.
func Error(format string, args ...any) { message(os.Stderr, red, "✗", format, args) }

func Warning(format string, args ...any) { message(os.Stdout, yellow, "⚠", format, args) }

func Newline() { fmt.Fprintln(os.Stdout) }

// Section prints an underlined bold title.
func Section(title string) {
	bold.Fprintf(os.Stdout, "\n%s\n", title)
	fmt.Fprintf(os.Stdout, "%s\n\n", strings.Repeat("=", len(title)))
}

func KeyValue(key, value string) {
	fmt.Fprintf(os.Stdout, "  %-10s %s\n", key+":", value)
}

// Table prints rows under headers on stdout.
func Table(headers []string, rows [][]string) {
	WriteTable(os.Stdout, headers, rows)
}

// WriteTable writes headers, a dashed rule sized to each header, then rows.
// Colored cells stay aligned only while every cell in the column is colored.
func WriteTable(out io.Writer, headers []string, rows [][]string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	rule := make([]string, len(headers))
	for i, h := range headers {
		rule[i] = strings.Repeat("-", len(h))
	}
	for _, row := range append([][]string{headers, rule}, rows...) {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

// Status colors a document status word.
func Status(status string) string {
	switch status {
	case "completed":
		return green.Sprint(status)
	case "failed":
		return red.Sprint(status)
	case "canceled":
		return yellow.Sprint(status)
	default:
		return status
	}
}

// FormatDuration prints sub-second durations in ms and longer ones to a
// tenth of a second.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Round(100 * time.Millisecond)
	if m := d / time.Minute; m > 0 {
		return fmt.Sprintf("%dm %.1fs", m, (d - m*time.Minute).Seconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// FormatBytes formats a byte count with a binary unit.
func FormatBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
