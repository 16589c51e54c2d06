package relay

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the interface for structured logging used throughout the core.
// It is designed to be compatible with *slog.Logger from the standard
// library, so applications that already use slog can pass it directly.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// zerologLogger adapts zerolog.Logger to the Logger interface. zerolog is
// the pack's recurring choice for this kind of system (danmuck/edgectl's
// seed server, HoNfigurator-Portal-energizer's go.mod); this is the
// concrete default in place of a bare slog.Logger.
type zerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger returns the default Logger implementation, writing
// leveled, structured events to stderr.
func NewZerologLogger() Logger {
	return &zerologLogger{log: zerolog.New(os.Stderr).With().Timestamp().Logger()}
}

func (l *zerologLogger) event(e *zerolog.Event, msg string, args ...any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	e.Msg(msg)
}

func (l *zerologLogger) Debug(msg string, args ...any) { l.event(l.log.Debug(), msg, args...) }
func (l *zerologLogger) Info(msg string, args ...any)  { l.event(l.log.Info(), msg, args...) }
func (l *zerologLogger) Warn(msg string, args ...any)  { l.event(l.log.Warn(), msg, args...) }
func (l *zerologLogger) Error(msg string, args ...any) { l.event(l.log.Error(), msg, args...) }

// defaultLogger returns the process default logger.
func defaultLogger() Logger {
	return NewZerologLogger()
}

// SetDefaultLogger installs l as the logger used by the process-wide error
// sink (see signal.go). It does not affect Loggers already bound to a
// Session or Server via options.
func SetDefaultLogger(l Logger) {
	defaultSink.setLogger(l)
}
