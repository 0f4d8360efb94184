package query

import (
	"time"

	"github.com/google/uuid"
)

// TradeResponse is the API view of one accepted trade.
type TradeResponse struct {
	TicketID       uuid.UUID `json:"ticket_id"`
	Owner          uuid.UUID `json:"owner"`
	Round          int64     `json:"round"`
	BuyIn          int64     `json:"buy_in"`
	ExpectedPayout int64     `json:"expected_payout"`
	Fee            int64     `json:"fee"`
	Legs           int       `json:"legs"`
	IsSystem       bool      `json:"is_system"`
	FundingSource  string    `json:"funding_source"`
	FromBackstop   int64     `json:"from_backstop"`
	PlacedAt       time.Time `json:"placed_at"`
}

// SettlementResponse is the API view of one terminal ticket.
type SettlementResponse struct {
	TicketID  uuid.UUID `json:"ticket_id"`
	Owner     uuid.UUID `json:"owner"`
	Round     int64     `json:"round"`
	Outcome   string    `json:"outcome"`
	Paid      int64     `json:"paid"`
	ToPool    int64     `json:"to_pool"`
	Fee       int64     `json:"fee"`
	SettledAt time.Time `json:"settled_at"`
}

// RoundCloseResponse is the API view of one finalized round.
type RoundCloseResponse struct {
	Round          int64     `json:"round"`
	Allocation     int64     `json:"allocation"`
	ClosingBalance int64     `json:"closing_balance"`
	PnL            int64     `json:"pnl"`
	CumulativePnL  int64     `json:"cumulative_pnl"`
	SafeBoxSkim    int64     `json:"safe_box_skim"`
	UsersProcessed int       `json:"users_processed"`
	CarriedForward int64     `json:"carried_forward"`
	ClosedAt       time.Time `json:"closed_at"`
}
