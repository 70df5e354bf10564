// Package logger holds the process-wide zerolog.Logger and the
// session/connection-scoped helpers the PTY, broker, registry, and
// workspace packages attach to every hot-path log line.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var Logger zerolog.Logger

func init() {
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	log.Logger = Logger
}

// Configure installs the global logger. level is anything
// zerolog.ParseLevel accepts ("debug", "info", "warn", "error", ...); an
// unparseable value degrades to info rather than aborting startup, since a
// bad LOG_LEVEL value shouldn't be fatal. Call once at process start,
// before any component logs. Level resolution itself lives in
// config.Load, which is the only place environment variables are read.
func Configure(level string, isDev bool) {
	zeroLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		zeroLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(zeroLevel)

	var out io.Writer = os.Stderr
	if isDev {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(out).With().Timestamp().Logger()
	log.Logger = Logger
}

func Debugf(format string, args ...interface{}) { Logger.Debug().Msgf(format, args...) }
func Infof(format string, args ...interface{})  { Logger.Info().Msgf(format, args...) }
func Warnf(format string, args ...interface{})  { Logger.Warn().Msgf(format, args...) }
func Errorf(format string, args ...interface{}) { Logger.Error().Msgf(format, args...) }

// Session returns a logger scoped to a session, the field carried on every
// hot-path log line (PTY, broker, registry, workspace).
func Session(sessionID string) zerolog.Logger {
	return Logger.With().Str("session_id", sessionID).Logger()
}

// Conn returns a logger scoped to a connection within a session.
func Conn(sessionID, connID string) zerolog.Logger {
	return Logger.With().Str("session_id", sessionID).Str("conn_id", connID).Logger()
}
