package dap

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrTimeout resolves a request that got no response in time. Its
	// message is the literal "timeout".
	ErrTimeout = errors.New("timeout")

	// ErrConnectionClosed resolves requests still pending when the
	// transport goes away, and requests sent after it has.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrMalformed is wrapped by decode errors for messages that are not
	// DAP envelopes.
	ErrMalformed = errors.New("malformed message")

	// ErrUnknownResponse is returned by Decode for a response whose
	// request_seq matches no request still in flight.
	ErrUnknownResponse = errors.New("response to unknown request")
)

// ErrorResponse is a response the adapter sent with success=false.
type ErrorResponse struct {
	Command string
	Message string
	Body    json.RawMessage
}

func (e *ErrorResponse) Error() string {
	if e.Command == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// IsTimeout reports whether err resolved a request by timing out.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
