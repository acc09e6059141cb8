// Package logger defines the logging abstraction used across the module.
//
// Components accept a Logger so that applications embedding the sync
// layer can route diagnostics into their own logging setup. The default
// implementation is backed by zerolog; tests use Nop.
package logger

import (
	"io"

	"github.com/rs/zerolog"
)

// Logger accepts a message followed by alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	logger zerolog.Logger
}

// New creates a zerolog-backed Logger writing JSON lines to w.
func New(w io.Writer) *ZerologLogger {
	return &ZerologLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// FromZerolog wraps an existing zerolog.Logger.
func FromZerolog(l zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: l}
}

func (z *ZerologLogger) Debug(msg string, args ...any) {
	withFields(z.logger.Debug(), args).Msg(msg)
}

func (z *ZerologLogger) Info(msg string, args ...any) {
	withFields(z.logger.Info(), args).Msg(msg)
}

func (z *ZerologLogger) Warn(msg string, args ...any) {
	withFields(z.logger.Warn(), args).Msg(msg)
}

func (z *ZerologLogger) Error(msg string, args ...any) {
	withFields(z.logger.Error(), args).Msg(msg)
}

// withFields applies alternating key/value args to the event.
// A trailing key without a value is logged under "arg".
func withFields(ev *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "field"
		}
		ev = ev.Interface(key, args[i+1])
	}
	if len(args)%2 != 0 {
		ev = ev.Interface("arg", args[len(args)-1])
	}
	return ev
}

// Nop discards everything. Useful as a default in tests.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...any) {}
func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}
