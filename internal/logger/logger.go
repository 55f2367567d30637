// Package logger wraps zerolog with the package-level Infof/Warnf/Errorf
// call shape the rest of this codebase uses, the same shape the teacher's
// own (unretrieved) logger package exposed to trader/auto_trader.go and
// market/api_client.go.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

// SetLevel adjusts the global minimum log level.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Logger is a named sub-logger carrying structured fields, returned by
// With so call sites can attach instance/trader context once and reuse it.
type Logger struct {
	z zerolog.Logger
}

// With returns a Logger with the given key/value pairs attached to every
// subsequent entry. fields must be an even-length list of alternating
// keys and values.
func With(fields ...interface{}) Logger {
	ctx := base.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key, _ := fields[i].(string)
		if key == "" {
			continue
		}
		ctx = ctx.Interface(key, fields[i+1])
	}
	return Logger{z: ctx.Logger()}
}

func (l Logger) Info(msg string)                       { l.z.Info().Msg(msg) }
func (l Logger) Infof(format string, args ...interface{}) { l.z.Info().Msgf(format, args...) }
func (l Logger) Warnf(format string, args ...interface{}) { l.z.Warn().Msgf(format, args...) }
func (l Logger) Errorf(format string, args ...interface{}) {
	l.z.Error().Msgf(format, args...)
}
func (l Logger) Debugf(format string, args ...interface{}) {
	l.z.Debug().Msgf(format, args...)
}

// package-level convenience functions mirroring the teacher's call sites.

func Info(msg string)                         { base.Info().Msg(msg) }
func Infof(format string, args ...interface{})  { base.Info().Msgf(format, args...) }
func Warnf(format string, args ...interface{})  { base.Warn().Msgf(format, args...) }
func Errorf(format string, args ...interface{}) { base.Error().Msgf(format, args...) }
func Debugf(format string, args ...interface{}) { base.Debug().Msgf(format, args...) }
