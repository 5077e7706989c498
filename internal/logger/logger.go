// Package logger holds the process-wide zerolog logger. Logs go to stderr;
// stdout belongs to command output such as "config show".
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

func init() {
	// Info level JSON until Init is called
	setOutput(os.Stderr)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// LogLevel represents the logging level
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

func parseLevel(level string) (zerolog.Level, bool) {
	switch LogLevel(strings.ToLower(level)) {
	case DebugLevel:
		return zerolog.DebugLevel, true
	case InfoLevel:
		return zerolog.InfoLevel, true
	case WarnLevel, "warning":
		return zerolog.WarnLevel, true
	case ErrorLevel:
		return zerolog.ErrorLevel, true
	}
	return zerolog.InfoLevel, false
}

// ValidLevel reports whether level is one Init understands
func ValidLevel(level string) bool {
	_, ok := parseLevel(level)
	return ok
}

// Init sets the global level and output. Unknown levels fall back to info.
// pretty selects the human-readable console writer.
func Init(level string, pretty bool) {
	zlLevel, _ := parseLevel(level)
	zerolog.SetGlobalLevel(zlLevel)

	var output io.Writer = os.Stderr
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}
	setOutput(output)
}

func setOutput(w io.Writer) {
	Logger = zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Logger()
	log.Logger = Logger
}

// WithComponent returns a logger with a component field set
func WithComponent(component string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Logger()
	return &l
}

// Discard silences all output. Used by tests that exercise noisy paths.
func Discard() {
	Logger = zerolog.New(io.Discard)
	log.Logger = Logger
}
