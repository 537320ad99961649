package logger

import "golang.org/x/term"

// isTerminal reports whether fd is attached to an interactive terminal.
func isTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}
