// Package logger provides the colored, leveled console logger used across
// this module, backed by logrus so structured fields and output formatting
// are handled by a real logging library rather than hand-rolled ANSI codes
// plus the standard log package.
package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Log levels, kept for callers that used the old numeric levels directly.
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSuccess
)

// ANSI color codes, still used by Section/Banner which print directly
// rather than going through logrus.
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorWhite  = "\033[37m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[90m"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.DebugLevel)
	return l
}

// SetLevel sets the minimum log level using this package's legacy numeric
// scale.
func SetLevel(level int) {
	switch level {
	case LevelDebug:
		base.SetLevel(logrus.DebugLevel)
	case LevelInfo, LevelSuccess:
		base.SetLevel(logrus.InfoLevel)
	case LevelWarn:
		base.SetLevel(logrus.WarnLevel)
	case LevelError:
		base.SetLevel(logrus.ErrorLevel)
	}
}

// WithField returns a logrus entry with one structured field attached, for
// callers that want structured context instead of a formatted message.
func WithField(key string, value interface{}) *logrus.Entry {
	return base.WithField(key, value)
}

// Debug logs a debug message.
func Debug(format string, args ...interface{}) {
	base.Debugf(format, args...)
}

// Info logs an informational message.
func Info(format string, args ...interface{}) {
	base.Infof(format, args...)
}

// Warn logs a warning message.
func Warn(format string, args ...interface{}) {
	base.Warnf(format, args...)
}

// Error logs an error message.
func Error(format string, args ...interface{}) {
	base.Errorf(format, args...)
}

// Success logs a successful-outcome message at info level, tagged so it is
// easy to grep for separately from routine info logs.
func Success(format string, args ...interface{}) {
	base.WithField("outcome", "success").Infof(format, args...)
}

// Fatal logs a fatal error and exits the process.
func Fatal(format string, args ...interface{}) {
	base.Fatalf(format, args...)
}

// InfoCyan logs an info message tagged for a highlighted console color when
// a terminal formatter is in use.
func InfoCyan(format string, args ...interface{}) {
	base.WithField("highlight", "cyan").Infof(format, args...)
}

// Section prints a section header directly to stdout, outside the logrus
// pipeline — it is decoration, not a log record.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n%s╔%s╗%s\n", ColorCyan, border, ColorReset)
	fmt.Printf("%s║%s %-57s %s║%s\n", ColorCyan, ColorReset, title, ColorCyan, ColorReset)
	fmt.Printf("%s╚%s╝%s\n\n", ColorCyan, border, ColorReset)
}

// Banner prints the application startup banner.
func Banner(title, version string) {
	banner := `
╔═══════════════════════════════════════════════════════════╗
║                                                           ║
║   ██████╗  █████╗ ██╗  ██╗███╗   ██╗███████╗████████╗    ║
║   ██╔══██╗██╔══██╗██║ ██╔╝████╗  ██║██╔════╝╚══██╔══╝    ║
║   ██████╔╝███████║█████╔╝ ██╔██╗ ██║█████╗     ██║       ║
║   ██╔══██╗██╔══██║██╔═██╗ ██║╚██╗██║██╔══╝     ██║       ║
║   ██║  ██║██║  ██║██║  ██╗██║ ╚████║███████╗   ██║       ║
║   ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═══╝╚══════╝   ╚═╝       ║
║                                                           ║
║              %s%-37s%s║
║                    %sVersion %-7s%s                      ║
║                                                           ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, ColorCyan, title, ColorReset, ColorGreen, version, ColorReset)
}
