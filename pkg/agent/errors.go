package agent

import "errors"

var (
	// ErrDisconnected is returned for requests that were pending or issued
	// after the connection to the agent went away.
	ErrDisconnected = errors.New("agent disconnected")
	// ErrTimeout is returned when the agent did not answer in time.
	ErrTimeout = errors.New("agent request timeout")
	// ErrUnknownMessage is returned for envelopes of an unknown type.
	ErrUnknownMessage = errors.New("unknown agent message")
)
