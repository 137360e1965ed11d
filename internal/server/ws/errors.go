package ws

import (
	"errors"
	"fmt"
)

// Kind classifies how a connection ended.
type Kind uint8

const (
	// Closed is a normal end: the client closed the socket or stopped reading.
	Closed Kind = iota
	// Timeout is a liveness timer expiry.
	Timeout
	// ChannelBroken means the event receiver was taken over by a newer session.
	ChannelBroken
	// Shutdown is a server shutdown observed by the loop.
	Shutdown

	ProtocolError
	Unsupported
	TokenMismatch
	StoreError
	SerializationError
	SendError
	ReceiveError
)

var kindNames = [...]string{
	Closed:             "closed",
	Timeout:            "timeout",
	ChannelBroken:      "channel_broken",
	Shutdown:           "shutdown",
	ProtocolError:      "protocol_error",
	Unsupported:        "unsupported",
	TokenMismatch:      "token_mismatch",
	StoreError:         "store_error",
	SerializationError: "serialization_error",
	SendError:          "send_error",
	ReceiveError:       "receive_error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Graceful reports whether the kind is a normal disconnect.
func (k Kind) Graceful() bool {
	return k <= Shutdown
}

// Logout reports whether a session ending with k must revoke the token pair.
// rotated tells whether a new pair was already issued on this connection.
func (k Kind) Logout(rotated bool) bool {
	switch {
	case k == TokenMismatch || k == Unsupported:
		return true
	case k.Graceful():
		return false
	default:
		return rotated
	}
}

// Error is the terminal error of a connection.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(k Kind, err error) *Error { return &Error{Kind: k, Err: err} }

func protocolErrorf(format string, args ...any) *Error {
	return newError(ProtocolError, fmt.Errorf(format, args...))
}

// KindOf extracts the kind of err. Nil is a normal close and errors without
// a kind count as receive errors.
func KindOf(err error) Kind {
	if err == nil {
		return Closed
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ReceiveError
}
