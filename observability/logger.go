package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	globalLogger zerolog.Logger
	initOnce     sync.Once
)

// ParseLevel maps a config level name to a zerolog level. Unknown names fall
// back to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// InitLogger installs the process logger. Only the first call has an effect.
// A nil out writes to stdout.
func InitLogger(level string, pretty bool, out io.Writer) {
	initOnce.Do(func() {
		if out == nil {
			out = os.Stdout
		}

		zerolog.SetGlobalLevel(ParseLevel(level))

		if pretty {
			out = zerolog.ConsoleWriter{
				Out:        out,
				TimeFormat: time.RFC3339,
				NoColor:    out != os.Stdout && out != os.Stderr,
			}
		}
		globalLogger = zerolog.New(out).With().Timestamp().Logger()
		log.Logger = globalLogger
	})
}

// GetLogger returns the process logger, initialising it with defaults if
// InitLogger was never called.
func GetLogger() zerolog.Logger {
	InitLogger("info", false, nil)
	return globalLogger
}

// WithSessionID returns a logger tagged with a session id, generating one if
// id is empty.
func WithSessionID(id string) zerolog.Logger {
	if id == "" {
		id = NewCorrelationID()
	}
	return GetLogger().With().Str("session_id", id).Logger()
}

// NewCorrelationID generates a new correlation id.
func NewCorrelationID() string {
	return uuid.New().String()
}
