package control

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no terminal response arrived before the deadline
	ErrTimeout = errors.New("control: timed out waiting for response")

	// ErrMalformedResponse is returned when a datagram is not a valid response object
	ErrMalformedResponse = errors.New("control: malformed response")

	// ErrTransport wraps socket send/receive failures other than timeouts
	ErrTransport = errors.New("control: transport failure")

	// ErrClosed is returned when calling a client whose socket was released
	ErrClosed = errors.New("control: client closed")
)

// RemoteError is an explicit error reported by the edge management port.
// Its message is the payload's error field, unchanged.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// ProtocolError is returned for a response type the client does not understand
type ProtocolError struct {
	Type string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("control: unknown response type %q", e.Type)
}
