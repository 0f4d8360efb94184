package ticket

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"ParlayPool/internal/market"
	"ParlayPool/internal/risk"
)

// State is the lifecycle state of a ticket. Resolved, Cancelled, and
// MarkedLost are terminal: the first terminal state recorded wins and all
// later attempts to change it fail.
type State int32

const (
	StateTrading State = iota
	StateExercisable
	StateResolved
	StateCancelled
	StateMarkedLost
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateTrading:
		return "Trading"
	case StateExercisable:
		return "Exercisable"
	case StateResolved:
		return "Resolved"
	case StateCancelled:
		return "Cancelled"
	case StateMarkedLost:
		return "MarkedLost"
	case StatePaused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// Terminal reports whether a state is a one-way latch.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateCancelled || s == StateMarkedLost
}

// Ticket is a bettor's claim across one or more market legs, bound to
// exactly one round for funding and settlement. ExpectedPayout is
// committed at creation (payout plus fees): later balance top-ups to the
// ticket's escrow can never be paid out beyond it.
type Ticket struct {
	ID    uuid.UUID
	Owner uuid.UUID

	Legs            []market.Leg
	IsSystem        bool
	RequiredCorrect int

	BuyIn          int64 // what the bettor paid
	ExpectedPayout int64 // committed payout incl. fees (escrow size)
	Fee            int64 // fee component of ExpectedPayout
	PoolDebit      int64 // ExpectedPayout - BuyIn, drawn from the funding round

	Round       uint64    // owning round for funding/settlement
	BackstopRef uuid.UUID // non-nil origin when the default provider funded the shortfall
	State       State

	// Reservation holds the exposure deltas applied for this ticket so
	// resolution releases exactly what was reserved.
	Reservation *risk.Reservation

	CreatedAt time.Time
}

// Transition moves the ticket to a new state, enforcing the terminal
// latch and the pause rules.
func (t *Ticket) Transition(next State) error {
	if t.State.Terminal() {
		return fmt.Errorf("ticket %s is %s: terminal state cannot change", t.ID, t.State)
	}

	switch next {
	case StateExercisable:
		if t.State != StateTrading {
			return fmt.Errorf("ticket %s: %s -> Exercisable not allowed", t.ID, t.State)
		}
	case StateResolved:
		if t.State != StateTrading && t.State != StateExercisable {
			return fmt.Errorf("ticket %s: %s -> Resolved not allowed", t.ID, t.State)
		}
	case StateCancelled, StateMarkedLost:
		if t.State != StateTrading && t.State != StatePaused {
			return fmt.Errorf("ticket %s: %s -> %s not allowed", t.ID, t.State, next)
		}
	case StatePaused:
		if t.State != StateTrading {
			return fmt.Errorf("ticket %s: %s -> Paused not allowed", t.ID, t.State)
		}
	case StateTrading:
		if t.State != StatePaused {
			return fmt.Errorf("ticket %s: %s -> Trading not allowed", t.ID, t.State)
		}
	default:
		return fmt.Errorf("ticket %s: unknown state %d", t.ID, next)
	}

	t.State = next
	return nil
}

// IsBackstopFunded reports whether the default liquidity provider covered
// part of this ticket's pool debit.
func (t *Ticket) IsBackstopFunded() bool {
	return t.BackstopRef != uuid.Nil
}
