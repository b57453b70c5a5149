// Package color provides terminal color output for goldgate.
// It respects the NO_COLOR environment variable (https://no-color.org/).
package color

import (
	"os"

	fcolor "github.com/fatih/color"
)

// Init disables color when NO_COLOR is set, TERM is dumb, or noColorFlag is true.
// fatih/color already turns itself off when stdout is not a terminal.
func Init(noColorFlag bool) {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		fcolor.NoColor = true
	}
	if os.Getenv("TERM") == "dumb" {
		fcolor.NoColor = true
	}
	if noColorFlag {
		fcolor.NoColor = true
	}
}

// Enabled returns true if color output is enabled.
func Enabled() bool {
	return !fcolor.NoColor
}

// Disable turns off color output.
func Disable() {
	fcolor.NoColor = true
}

// Enable turns on color output.
func Enable() {
	fcolor.NoColor = false
}

var (
	green  = fcolor.New(fcolor.FgGreen)
	red    = fcolor.New(fcolor.FgRed)
	yellow = fcolor.New(fcolor.FgYellow)
	cyan   = fcolor.New(fcolor.FgCyan)
	bold   = fcolor.New(fcolor.Bold)
	faint  = fcolor.New(fcolor.Faint)
	code   = fcolor.New(fcolor.Bold, fcolor.Faint)
)

// Success formats a success message in green.
func Success(s string) string { return green.Sprint(s) }

// Successf formats a success message with printf-style arguments.
func Successf(format string, args ...any) string { return green.Sprintf(format, args...) }

// Error formats an error message in red.
func Error(s string) string { return red.Sprint(s) }

// Errorf formats an error message with printf-style arguments.
func Errorf(format string, args ...any) string { return red.Sprintf(format, args...) }

// Warning formats a warning message in yellow.
func Warning(s string) string { return yellow.Sprint(s) }

// Warningf formats a warning message with printf-style arguments.
func Warningf(format string, args ...any) string { return yellow.Sprintf(format, args...) }

// Info formats an informational message in cyan.
func Info(s string) string { return cyan.Sprint(s) }

// Infof formats an informational message with printf-style arguments.
func Infof(format string, args ...any) string { return cyan.Sprintf(format, args...) }

// ArtifactID formats an artifact id in cyan.
func ArtifactID(s string) string { return cyan.Sprint(s) }

// Header formats a header in bold.
func Header(s string) string { return bold.Sprint(s) }

// Dim formats dimmed text (for secondary information).
func Dim(s string) string { return faint.Sprint(s) }

// Code formats code/command strings in a distinct style (bold + dim).
func Code(s string) string { return code.Sprint(s) }
