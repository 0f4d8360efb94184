package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Service provides read-only access to the audit tables. Live pool and
// ticket state is served by the engine directly; this surface answers
// historical questions without touching the engine's lock.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// TradesByOwner returns a bettor's accepted trades, newest first.
func (s *Service) TradesByOwner(ctx context.Context, owner uuid.UUID, limit, offset int) ([]TradeResponse, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, owner, round, buy_in, expected_payout, fee, legs,
		       is_system, funding_source, from_backstop, placed_at
		FROM pool_log.trades
		WHERE owner = $1
		ORDER BY placed_at DESC
		LIMIT $2 OFFSET $3`,
		owner, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("trades by owner: %w", err)
	}
	defer rows.Close()

	var trades []TradeResponse
	for rows.Next() {
		var t TradeResponse
		if err := rows.Scan(
			&t.TicketID, &t.Owner, &t.Round, &t.BuyIn, &t.ExpectedPayout, &t.Fee,
			&t.Legs, &t.IsSystem, &t.FundingSource, &t.FromBackstop, &t.PlacedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Settlement returns the terminal record for one ticket.
func (s *Service) Settlement(ctx context.Context, ticketID uuid.UUID) (*SettlementResponse, error) {
	var r SettlementResponse
	err := s.db.QueryRowContext(ctx, `
		SELECT ticket_id, owner, round, outcome, paid, to_pool, fee, settled_at
		FROM pool_log.settlements
		WHERE ticket_id = $1`,
		ticketID,
	).Scan(&r.TicketID, &r.Owner, &r.Round, &r.Outcome, &r.Paid, &r.ToPool, &r.Fee, &r.SettledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settlement: %w", err)
	}
	return &r, nil
}

// SettlementsByRound returns every settlement attributed to one round.
func (s *Service) SettlementsByRound(ctx context.Context, round int64, limit, offset int) ([]SettlementResponse, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, owner, round, outcome, paid, to_pool, fee, settled_at
		FROM pool_log.settlements
		WHERE round = $1
		ORDER BY settled_at
		LIMIT $2 OFFSET $3`,
		round, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("settlements by round: %w", err)
	}
	defer rows.Close()

	var settlements []SettlementResponse
	for rows.Next() {
		var r SettlementResponse
		if err := rows.Scan(
			&r.TicketID, &r.Owner, &r.Round, &r.Outcome, &r.Paid, &r.ToPool, &r.Fee, &r.SettledAt,
		); err != nil {
			return nil, err
		}
		settlements = append(settlements, r)
	}
	return settlements, rows.Err()
}

// RoundHistory returns finalized rounds, newest first.
func (s *Service) RoundHistory(ctx context.Context, limit, offset int) ([]RoundCloseResponse, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT round, allocation, closing_balance, pnl, cumulative_pnl,
		       safe_box_skim, users_processed, carried_forward, closed_at
		FROM pool_log.round_closes
		ORDER BY round DESC
		LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("round history: %w", err)
	}
	defer rows.Close()

	var closes []RoundCloseResponse
	for rows.Next() {
		var r RoundCloseResponse
		if err := rows.Scan(
			&r.Round, &r.Allocation, &r.ClosingBalance, &r.PnL, &r.CumulativePnL,
			&r.SafeBoxSkim, &r.UsersProcessed, &r.CarriedForward, &r.ClosedAt,
		); err != nil {
			return nil, err
		}
		closes = append(closes, r)
	}
	return closes, rows.Err()
}
