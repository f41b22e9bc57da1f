// Package sync implements the push/pull engine on top of the wire
// protocol: a client side that drives transfers and a server session
// that serves them.
package sync

import (
	"errors"
	"fmt"

	"github.com/odvcencio/hx/pkg/protocol"
)

// ErrNonFastForward reports a ref update that would discard commits:
// the current tip is not an ancestor of the proposed tip.
var ErrNonFastForward = errors.New("non-fast-forward update")

// State is a sync session phase. Transfers move strictly forward;
// Aborted is reachable from every live phase.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateTransferring
	StateFinalizing
	StateComplete
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateTransferring:
		return "transferring"
	case StateFinalizing:
		return "finalizing"
	case StateComplete:
		return "complete"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// machine tracks the session phase and attributes failures to the phase
// they happened in.
type machine struct {
	state State
}

var validNext = map[State][]State{
	StateIdle:         {StateNegotiating, StateAborted},
	StateNegotiating:  {StateTransferring, StateFinalizing, StateAborted},
	StateTransferring: {StateFinalizing, StateAborted},
	StateFinalizing:   {StateComplete, StateAborted},
}

func (m *machine) to(next State) error {
	for _, ok := range validNext[m.state] {
		if next == ok {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid state transition %s -> %s", m.state, next)
}

// fail marks the session aborted and wraps err with the phase it died in.
func (m *machine) fail(err error) error {
	phase := m.state
	m.state = StateAborted
	return fmt.Errorf("%s: %w", phase, err)
}

// RemoteError is an ERROR frame surfaced by the peer.
type RemoteError struct {
	Code    protocol.ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote: %s (code %d)", e.Message, e.Code)
}
