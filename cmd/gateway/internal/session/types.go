package session

import (
	"context"

	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/failure"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/price-relay/pkg/models"
)

// State is a step of the session lifecycle.
type State string

const (
	Accepting    State = "ACCEPTING"
	ModeSelected State = "MODE_SELECTED"
	Streaming    State = "STREAMING"
	Draining     State = "DRAINING"
	Closed       State = "CLOSED"
)

// ClientConn is one client stream. Close must unblock pending Receive and
// Send calls from other goroutines.
type ClientConn interface {
	protocol.Sink
	ID() string
	Receive() ([]byte, error)
	SendClose() error
	Close() error
}

// Delegate produces the session's outbound frames until it fails or ctx is
// cancelled. Implemented by the synthetic generator and the upstream bridge.
type Delegate interface {
	Run(ctx context.Context, symbol string, mode models.Mode, sink protocol.Sink) error
}

// Outcome summarises a finished session.
type Outcome struct {
	SessionID string
	Symbol    string
	Mode      models.Mode
	Source    models.Source
	Reason    failure.Kind
	ErrorSent bool
	States    []State
}
