// Package ui renders run outcomes for terminals.
package ui

import (
	"io"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

// DefaultWidth is used when the writer is not a terminal.
const DefaultWidth = 100

func TerminalWidth(w io.Writer) (int, bool) {
	type fdProvider interface {
		Fd() uintptr
	}
	if v, ok := w.(fdProvider); ok {
		if cols, _, err := term.GetSize(int(v.Fd())); err == nil {
			return cols, true
		}
	}
	return 0, false
}

// IsTerminal reports whether w is attached to a terminal.
func IsTerminal(w io.Writer) bool {
	_, ok := TerminalWidth(w)
	return ok
}

// WidthOr returns the terminal width of w, or fallback.
func WidthOr(w io.Writer, fallback int) int {
	if cols, ok := TerminalWidth(w); ok && cols > 0 {
		return cols
	}
	return fallback
}

// Truncate trims s to width display cells, marking the cut with an ellipsis.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
