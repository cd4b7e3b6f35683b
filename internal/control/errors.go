package control

import (
	"context"
	"fmt"

	"github.com/beamroom/beamroomd/internal/wire"
)

// Cancelled is returned (wrapped) when a caller-initiated cancel tore down a
// connection or listener. It is context.Canceled itself rather than a new
// sentinel, since every suspension point in this package is context-based.
var Cancelled = context.Canceled

// InvalidMessageError indicates a wire line failed to decode as any known
// control message variant, or parsed to a variant not valid in the current
// state. It is an alias of wire.InvalidMessageError so callers can match it
// with errors.As regardless of which package raised it.
type InvalidMessageError = wire.InvalidMessageError

// HandshakeRejectedError is terminal on the connection that received it.
type HandshakeRejectedError struct {
	Reason string
}

func (e HandshakeRejectedError) Error() string {
	return fmt.Sprintf("handshake rejected: %s", e.Reason)
}

// ConnectionFailedError wraps a transport-layer failure; recoverable via
// auto-retry on the viewer side.
type ConnectionFailedError struct {
	Op  string
	Err error
}

func (e ConnectionFailedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection failed: %s", e.Op)
	}
	return fmt.Sprintf("connection failed: %s: %v", e.Op, e.Err)
}
func (e ConnectionFailedError) Unwrap() error { return e.Err }

// AlreadyRunningError / NotRunningError signal lifecycle misuse.
type AlreadyRunningError struct{ What string }

func (e AlreadyRunningError) Error() string { return fmt.Sprintf("%s already running", e.What) }

type NotRunningError struct{ What string }

func (e NotRunningError) Error() string { return fmt.Sprintf("%s not running", e.What) }

// EncodeError indicates a serialization failure; terminal on the connection.
type EncodeError struct {
	Op  string
	Err error
}

func (e EncodeError) Error() string {
	return fmt.Sprintf("encode error: %s: %v", e.Op, e.Err)
}
func (e EncodeError) Unwrap() error { return e.Err }
