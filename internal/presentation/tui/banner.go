// Package tui holds terminal presentation helpers for the CLI.
package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the startup banner, colored when the terminal supports
// it. A warm ramp, forge-side.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"   ___ _ __ _   _  ___(_) |__ | | ___ ", "#f59e0b"},
		{"  / __| '__| | | |/ __| | '_ \\| |/ _ \\", "#f97316"},
		{" | (__| |  | |_| | (__| | |_) | |  __/", "#ef4444"},
		{"  \\___|_|   \\__,_|\\___|_|_.__/|_|\\___|", "#dc2626"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
