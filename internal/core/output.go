package core

import (
	"time"

	"github.com/google/uuid"
)

// OutputKind tags an audit record emitted by the engine.
type OutputKind int32

const (
	OutputTradePlaced OutputKind = iota
	OutputTicketSettled
	OutputRoundClosed
)

func (k OutputKind) String() string {
	switch k {
	case OutputTradePlaced:
		return "TradePlaced"
	case OutputTicketSettled:
		return "TicketSettled"
	case OutputRoundClosed:
		return "RoundClosed"
	default:
		return "Unknown"
	}
}

// TradeRecord is the audit row for an accepted trade.
type TradeRecord struct {
	TicketID       uuid.UUID
	Owner          uuid.UUID
	Round          uint64
	BuyIn          int64
	ExpectedPayout int64
	Fee            int64
	Legs           int
	IsSystem       bool
	FundingSource  string
	FromBackstop   int64
}

// SettlementRecord is the audit row for a ticket reaching a terminal state.
type SettlementRecord struct {
	TicketID uuid.UUID
	Owner    uuid.UUID
	Round    uint64
	Outcome  string // exercised | lost | cancelled | marked_lost
	Paid     int64  // amount released to the bettor
	ToPool   int64  // amount swept back to the round pool
	Fee      int64
}

// RoundCloseRecord is the audit row for a finalized round.
type RoundCloseRecord struct {
	Round          uint64
	Allocation     int64
	ClosingBalance int64
	PnL            int64
	CumulativePnL  int64
	SafeBoxSkim    int64
	UsersProcessed int
	CarriedForward int64
}

// Output is one audit record. The engine emits them on a blocking channel
// drained by the persistence worker; nothing is lost under backpressure.
type Output struct {
	Kind      OutputKind
	Timestamp time.Time

	Trade      *TradeRecord
	Settlement *SettlementRecord
	RoundClose *RoundCloseRecord
}
