package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts github.com/rs/zerolog to the Logger port. It is the
// default logger the root main.go runs with; any other Logger implementation
// works equally well since the core only depends on the interface.
type ZerologLogger struct {
	log zerolog.Logger
}

var _ Logger = ZerologLogger{}

// NewZerolog builds a ZerologLogger writing a human-readable console to w
// (os.Stderr if w is nil).
func NewZerolog(w io.Writer) ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	return ZerologLogger{log: zerolog.New(cw).With().Timestamp().Logger()}
}

// NewZerologJSON builds a ZerologLogger emitting structured JSON lines to
// w, suitable for a production daemon whose logs are collected elsewhere.
func NewZerologJSON(w io.Writer) ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	return ZerologLogger{log: zerolog.New(w).With().Timestamp().Logger()}
}

func (z ZerologLogger) event(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

func (z ZerologLogger) Debug(msg string, kv ...any) { z.event(z.log.Debug(), msg, kv) }
func (z ZerologLogger) Info(msg string, kv ...any)  { z.event(z.log.Info(), msg, kv) }
func (z ZerologLogger) Warn(msg string, kv ...any)  { z.event(z.log.Warn(), msg, kv) }
func (z ZerologLogger) Error(msg string, kv ...any) { z.event(z.log.Error(), msg, kv) }

func (z ZerologLogger) With(kv ...any) Logger {
	ctx := z.log.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return ZerologLogger{log: ctx.Logger()}
}
