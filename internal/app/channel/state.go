package channel

import "github.com/dkeye/videoroom/internal/core"

// State of the signaling channel. States only move forward.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSessionPending
	StatePublisherAttaching
	StateJoining
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSessionPending:
		return "session_pending"
	case StatePublisherAttaching:
		return "publisher_attaching"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// advance moves the channel to next if that is a step forward.
func (c *Channel) advance(next State) bool {
	for {
		cur := State(c.state.Load())
		if cur >= next {
			return false
		}
		if c.state.CompareAndSwap(int32(cur), int32(next)) {
			c.log.Debug().Str("from", cur.String()).Str("to", next.String()).Msg("state changed")
			return true
		}
	}
}

func (c *Channel) State() State {
	return State(c.state.Load())
}

// usable reports whether requests may still go out.
func (c *Channel) usable() error {
	switch st := c.State(); {
	case st >= StateClosing:
		return core.ErrClosed
	case c.SessionID().IsZero():
		return core.ErrNotConnected
	default:
		return nil
	}
}
