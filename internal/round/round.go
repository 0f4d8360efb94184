package round

import (
	"time"

	"github.com/google/uuid"

	fpmath "ParlayPool/internal/math"
)

// Lifecycle is a round's position in the pool epoch cycle.
type Lifecycle int32

const (
	LifecycleFunded Lifecycle = iota // pre-start, collecting deposits
	LifecycleActive
	LifecycleClosingPrepared
	LifecycleClosed
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleFunded:
		return "Funded"
	case LifecycleActive:
		return "Active"
	case LifecycleClosingPrepared:
		return "ClosingPrepared"
	case LifecycleClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Round owns one epoch's capital: LP balances, the allocation assigned at
// open (plus mid-round top-ups from cross-round funding), the pool
// balance that mutates with trades and settlements, and the realized PnL
// ratios. Rounds are created at pool start or at the previous round's
// close and are never destroyed; closed rounds remain for audit.
type Round struct {
	ID        uint64
	StartTime time.Time
	EndTime   time.Time

	Allocation  int64 // total capital assigned to this round
	PoolBalance int64 // actual collateral attributed, mutates with trades

	// OutstandingLiability is the sum of committed escrows of trading
	// tickets bound to this round; migration moves it between rounds.
	OutstandingLiability int64

	PnL           int64 // ratio, RatioConfig scale; set when closing is prepared
	CumulativePnL int64 // product of all prior round ratios

	// ClosingBalance is the pool balance snapshot frozen when closing is
	// prepared, after the safe-box skim. The PnL ratio and every LP's
	// closing balance derive from it.
	ClosingBalance int64

	ClosingPrepared bool
	UsersProcessed  int
	Closed          bool

	balances map[uuid.UUID]int64 // LP -> deposited balance for this round
	roster   []uuid.UUID         // insertion order, walked by closing batches

	// carriedTotal accumulates the balances staged for the next round
	// while closing batches run.
	carriedTotal int64
}

func newRound(id uint64) *Round {
	return &Round{
		ID:            id,
		PnL:           fpmath.RatioConfig.Scale,
		CumulativePnL: fpmath.RatioConfig.Scale,
		balances:      make(map[uuid.UUID]int64),
	}
}

// credit adds balance for a provider, registering it in the roster on
// first contact.
func (r *Round) credit(provider uuid.UUID, amount int64) {
	if _, ok := r.balances[provider]; !ok {
		r.roster = append(r.roster, provider)
	}
	r.balances[provider] += amount
}

// BalanceOf returns a provider's deposited balance for this round.
func (r *Round) BalanceOf(provider uuid.UUID) int64 {
	return r.balances[provider]
}

// TotalUsers returns the roster size walked by closing batches.
func (r *Round) TotalUsers() int {
	return len(r.roster)
}

// Lifecycle derives the round's lifecycle state.
func (r *Round) Lifecycle(started bool, current uint64) Lifecycle {
	switch {
	case r.Closed:
		return LifecycleClosed
	case r.ClosingPrepared:
		return LifecycleClosingPrepared
	case started && r.ID == current:
		return LifecycleActive
	default:
		return LifecycleFunded
	}
}
