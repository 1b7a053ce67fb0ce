// Package order implements the lifecycle of one placed rung and its reversing
// exit order.
package order

import (
	"errors"
	"fmt"
)

type State string

const (
	Created       State = "CREATED"
	Submitting    State = "SUBMITTING"
	Rejected      State = "REJECTED"
	Skipped       State = "SKIPPED"
	Transit       State = "TRANSIT"
	Cancelled     State = "CANCELLED"
	Abandoned     State = "ABANDONED"
	Traded        State = "TRADED"
	Exiting       State = "EXITING"
	ExitTraded    State = "EXIT_TRADED"
	ExitCancelled State = "EXIT_CANCELLED"
)

type Role string

const (
	Entry Role = "entry"
	Exit  Role = "exit"
)

var (
	ErrInvalidTransition = errors.New("order: invalid transition")
	ErrNoBrokerID        = errors.New("order: no broker order id")
	ErrNotCancellable    = errors.New("order: not cancellable in current state")
)

// Forward edges only. An exit order reports its own fill or cancel as
// EXIT_TRADED / EXIT_CANCELLED straight from TRANSIT.
var (
	entryTransitions = map[State][]State{
		Created:    {Submitting},
		Submitting: {Rejected, Transit, Skipped},
		Transit:    {Cancelled, Traded, Abandoned},
		Traded:     {Exiting},
		Exiting:    {ExitTraded, ExitCancelled},
	}
	exitTransitions = map[State][]State{
		Created:    {Submitting},
		Submitting: {Rejected, Transit, Skipped},
		Transit:    {ExitTraded, ExitCancelled},
	}
)

func (s State) Terminal() bool {
	switch s {
	case Rejected, Skipped, Cancelled, Abandoned, ExitTraded, ExitCancelled:
		return true
	}
	return false
}

func canTransition(role Role, from, to State) error {
	table := entryTransitions
	if role == Exit {
		table = exitTransitions
	}
	for _, next := range table[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, role, from, to)
}
