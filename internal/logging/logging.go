// Package logging provides structured logging for the memory subsystem
// using zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level aliases the zerolog level type.
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level to emit.
	Level Level
	// Output defaults to os.Stderr.
	Output io.Writer
	// Pretty enables human-readable console output.
	Pretty bool
}

// Init initializes the global logger. Packages that want a scoped logger
// derive one with With().
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(output).Level(cfg.Level).With().Timestamp().Logger()
}

func init() {
	Init(Config{Level: InfoLevel})
}

// ParseLevel parses a level string, defaulting to info.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Debug starts a debug level message.
func Debug() *zerolog.Event { return Logger.Debug() }

// Info starts an info level message.
func Info() *zerolog.Event { return Logger.Info() }

// Warn starts a warn level message.
func Warn() *zerolog.Event { return Logger.Warn() }

// Error starts an error level message.
func Error() *zerolog.Event { return Logger.Error() }
