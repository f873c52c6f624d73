// Package output renders command results either as human-readable console text or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Format is the console output format.
type Format string

const (
	FormatDefault Format = "default"
	FormatJSON    Format = "json"
)

// ANSI color codes
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[91m"
	Green  = "\033[92m"
	Yellow = "\033[93m"
	Blue   = "\033[94m"
	Cyan   = "\033[96m"
	Gray   = "\033[90m"
)

var (
	formatMu      sync.RWMutex
	currentFormat = FormatDefault
)

// SetFormat sets the global output format. An empty value selects the default format.
func SetFormat(format string) error {
	f := Format(format)
	if f == "" {
		f = FormatDefault
	}
	if f != FormatDefault && f != FormatJSON {
		return fmt.Errorf("invalid output format %q (valid: default, json)", format)
	}

	formatMu.Lock()
	currentFormat = f
	formatMu.Unlock()
	return nil
}

// GetFormat returns the current output format.
func GetFormat() Format {
	formatMu.RLock()
	defer formatMu.RUnlock()
	return currentFormat
}

// IsJSON reports whether JSON output is selected.
func IsJSON() bool {
	return GetFormat() == FormatJSON
}

// PrintJSON writes data to stdout as indented JSON.
func PrintJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

// PrintDefault runs the formatter only in default mode.
func PrintDefault(formatter func()) {
	if IsJSON() {
		return
	}
	formatter()
}

// Print writes data as JSON in JSON mode, otherwise runs the formatter.
func Print(data interface{}, formatter func()) error {
	if IsJSON() {
		return PrintJSON(data)
	}
	formatter()
	return nil
}

// Header prints a bold title.
func Header(text string) {
	fmt.Fprintf(os.Stdout, "\n%s%s%s\n", Bold, text, Reset)
	Divider()
}

// Section prints a section heading with an icon.
func Section(icon string, text string) {
	fmt.Fprintf(os.Stdout, "\n%s %s%s%s\n", icon, Bold, text, Reset)
}

// Success prints a success line.
func Success(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "%s✓%s %s\n", Green, Reset, fmt.Sprintf(format, args...))
}

// Error prints an error line.
func Error(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "%s✗%s %s\n", Red, Reset, fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func Warning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "%s⚠%s  %s\n", Yellow, Reset, fmt.Sprintf(format, args...))
}

// Info prints an informational line.
func Info(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "%sℹ%s %s\n", Blue, Reset, fmt.Sprintf(format, args...))
}

// Step prints a progress step with an icon.
func Step(icon string, format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "%s %s\n", icon, fmt.Sprintf(format, args...))
}

// Item prints an indented list item.
func Item(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "   • %s\n", fmt.Sprintf(format, args...))
}

// ItemSuccess prints an indented success item.
func ItemSuccess(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "   %s✓%s %s\n", Green, Reset, fmt.Sprintf(format, args...))
}

// ItemError prints an indented error item.
func ItemError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "   %s✗%s %s\n", Red, Reset, fmt.Sprintf(format, args...))
}

// ItemWarning prints an indented warning item.
func ItemWarning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "   %s⚠%s  %s\n", Yellow, Reset, fmt.Sprintf(format, args...))
}

// Divider prints a horizontal rule.
func Divider() {
	fmt.Fprintf(os.Stdout, "%s━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━%s\n", Gray, Reset)
}

// Newline prints an empty line.
func Newline() {
	fmt.Fprintln(os.Stdout)
}

// Label prints a "label: value" pair.
func Label(label string, value string) {
	fmt.Fprintf(os.Stdout, "   %s%s:%s %s\n", Gray, label, Reset, value)
}

// Highlight returns text in cyan.
func Highlight(format string, args ...interface{}) string {
	return Cyan + fmt.Sprintf(format, args...) + Reset
}

// Emphasize returns text in bold.
func Emphasize(format string, args ...interface{}) string {
	return Bold + fmt.Sprintf(format, args...) + Reset
}

// Muted returns text in gray.
func Muted(format string, args ...interface{}) string {
	return Gray + fmt.Sprintf(format, args...) + Reset
}

// URL returns a URL in blue.
func URL(url string) string {
	return Blue + url + Reset
}

// Count returns a number in bold.
func Count(n int) string {
	return fmt.Sprintf("%s%d%s", Bold, n, Reset)
}
