package infra

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger aliases zerolog.Logger so adapters can accept a logger without
// importing the third-party module directly.
type Logger = zerolog.Logger

// NewLogger constructs the relay logger. Development builds log at debug level
// through the console writer; everything else emits JSON at info level.
func NewLogger(appEnv string) Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "papercut-relay").
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

// OrNop returns l, or a logger that discards everything when l is nil.
func OrNop(l *Logger) *Logger {
	if l != nil {
		return l
	}
	discard := zerolog.New(io.Discard)
	return &discard
}
