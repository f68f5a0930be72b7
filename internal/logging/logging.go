package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Log output formats.
const (
	FormatJSON   = "json"   // structured output for log aggregation
	FormatPretty = "pretty" // human-readable for local dev
)

// Config holds logger configuration.
type Config struct {
	Level  string // minimum level: debug, info, warn, error, fatal
	Format string // json or pretty
}

// New creates a structured logger. Level is carried on the logger itself
// so independent components can hold differently filtered children.
//
// Example:
//
//	logger := logging.New(logging.Config{Level: "info", Format: "json"})
//	logger.Info().
//	    Str("component", "publisher").
//	    Int("topics", 12).
//	    Msg("Publisher started")
func New(config Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	if config.Format == FormatPretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		Level(parseLevel(config.Level)).
		With().
		Timestamp().
		Caller().
		Str("service", "pulsar-relay").
		Logger()
}

// Nop returns a disabled logger for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// LogPanic logs a recovered panic with the full stack trace. Use in
// defer recover() blocks before returning an error response.
func LogPanic(logger zerolog.Logger, panicValue interface{}, msg string) {
	logger.Error().
		Interface("panic_value", panicValue).
		Str("stack_trace", string(debug.Stack())).
		Msg(msg)
}
