package session

import (
	"time"

	"github.com/dmitrijs2005/circle/internal/protocol"
)

// State is the connection state. Only the session loop changes it.
type State int32

const (
	Disconnected State = iota
	Connecting
	ConnectedUnauthenticated
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case ConnectedUnauthenticated:
		return "connected"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	// EventState reports a state transition. UserID is set when the new
	// state is Authenticated.
	EventState EventKind = iota
	// EventFrame carries an inbound server frame.
	EventFrame
	// EventReconnect reports a scheduled reconnect attempt.
	EventReconnect
	// EventError reports an authentication or connection failure.
	EventError
)

// Event is delivered on the session's single ordered event stream.
type Event struct {
	Kind    EventKind
	State   State
	UserID  string
	Frame   protocol.Frame
	Err     error
	Attempt int
	Delay   time.Duration
}
