package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides structured logging with consistent fields.
type Logger struct {
	base zerolog.Logger
}

// NewLogger creates a logger with component metadata. The level defaults to
// info and can be overridden through LOG_LEVEL.
func NewLogger(component string) *Logger {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL"))); err == nil && parsed != zerolog.NoLevel {
		level = parsed
	}
	l := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("component", component).
		Logger().
		Level(level)
	zerolog.DurationFieldUnit = time.Millisecond
	return &Logger{base: l}
}

// With returns a child logger carrying an extra constant field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{base: l.base.With().Str(key, value).Logger()}
}

// Debug logs debug messages with optional key/value pairs.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.base.Debug().Fields(kvToMap(keyvals...)).Msg(msg)
}

// Info logs informational messages with optional key/value pairs.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.base.Info().Fields(kvToMap(keyvals...)).Msg(msg)
}

// Warn logs warning messages with optional key/value pairs.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.base.Warn().Fields(kvToMap(keyvals...)).Msg(msg)
}

// Error logs error messages with optional key/value pairs.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.base.Error().Fields(kvToMap(keyvals...)).Msg(msg)
}

// kvToMap converts a flat list of key/value pairs into a map for zerolog.
func kvToMap(kv ...interface{}) map[string]interface{} {
	fields := make(map[string]interface{})
	for i := 0; i < len(kv)-1; i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}
