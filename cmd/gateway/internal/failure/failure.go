// Package failure classifies the ways a relay session can end.
package failure

import (
	"context"
	"errors"
)

// Kind is the terminal cause of a session.
type Kind string

const (
	None                  Kind = "none"
	ClientDisconnect      Kind = "client_disconnect"
	UpstreamConnectError  Kind = "upstream_connect_error"
	UpstreamProtocolError Kind = "upstream_protocol_error"
	UpstreamClosed        Kind = "upstream_closed"
	GeneratorFault        Kind = "generator_fault"
)

var (
	ErrClientDisconnect = errors.New("client disconnected")
	ErrUpstreamConnect  = errors.New("failed to connect to market data")
	ErrUpstreamProtocol = errors.New("upstream feed error")
	ErrUpstreamClosed   = errors.New("upstream feed closed")
	ErrGeneratorFault   = errors.New("synthetic feed error")
)

// Classify maps an error returned by a session delegate to its Kind.
// Context cancellation means the session was torn down from the client
// side. Anything unrecognised is a delegate fault.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return None
	case errors.Is(err, ErrUpstreamConnect):
		return UpstreamConnectError
	case errors.Is(err, ErrUpstreamProtocol):
		return UpstreamProtocolError
	case errors.Is(err, ErrUpstreamClosed):
		return UpstreamClosed
	case errors.Is(err, ErrGeneratorFault):
		return GeneratorFault
	case errors.Is(err, ErrClientDisconnect), errors.Is(err, context.Canceled):
		return ClientDisconnect
	default:
		return GeneratorFault
	}
}

// Surfaced reports whether the client is told about this kind with an
// error frame. The peer already knows about the other kinds.
func (k Kind) Surfaced() bool {
	switch k {
	case UpstreamConnectError, UpstreamProtocolError, GeneratorFault:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }
