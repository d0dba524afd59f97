// Package colors provides terminal colouring for ivaldi-objects output.
//
// Colours are disabled automatically when NO_COLOR is set, when TERM is
// dumb or unset, or when stdout is not a terminal. FORCE_COLOR overrides
// the detection.
package colors

import (
	"os"
	"runtime"
	"strings"
)

// ANSI color codes
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	blue   = "\033[34m"
	cyan   = "\033[36m"
	gray   = "\033[90m"
)

var colorEnabled = shouldUseColor()

func shouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}

	term := strings.ToLower(os.Getenv("TERM"))
	if runtime.GOOS == "windows" {
		return os.Getenv("WT_SESSION") != "" || os.Getenv("VSCODE_PID") != "" ||
			strings.Contains(term, "color") || strings.Contains(term, "xterm")
	}
	if term == "dumb" || term == "" {
		return false
	}
	if fi, err := os.Stdout.Stat(); err == nil {
		return fi.Mode()&os.ModeCharDevice != 0
	}
	return true
}

// SetColorEnabled allows manual control of color output
func SetColorEnabled(enabled bool) {
	colorEnabled = enabled
}

func IsColorEnabled() bool {
	return colorEnabled
}

func colorize(text, code string) string {
	if !colorEnabled {
		return text
	}
	return code + text + reset
}

// Commit colours a commit id or seal name.
func Commit(text string) string { return colorize(text, yellow) }

// Branch colours a branch key or nickname.
func Branch(text string) string { return colorize(text, green) }

// Type colours a type descriptor.
func Type(text string) string { return colorize(text, cyan) }

// Field colours a field name.
func Field(text string) string { return colorize(text, blue) }

func Bold(text string) string { return colorize(text, bold) }
func Dim(text string) string  { return colorize(text, dim) }

// Status colours a repository status line: modified is yellow, up to date
// green, anything else gray.
func Status(status string) string {
	switch status {
	case "modified":
		return colorize(status, yellow)
	case "up to date":
		return colorize(status, green)
	}
	return colorize(status, gray)
}

func ErrorText(text string) string   { return colorize(text, red) }
func SuccessText(text string) string { return colorize(text, green) }
func WarningText(text string) string { return colorize(text, yellow) }
