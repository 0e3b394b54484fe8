package command

import "errors"

// ErrUnknownCommandType is returned for a command file whose "type" isn't
// one of the five supported values; §4.8 requires these to fail with an
// error response rather than being silently dropped.
var ErrUnknownCommandType = errors.New("command: unknown command type")

// ErrHandlerNotConfigured is returned when a Channel is asked to dispatch
// a command whose corresponding Handlers field was left nil.
var ErrHandlerNotConfigured = errors.New("command: handler not configured")
