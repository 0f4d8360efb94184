package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditLogWriter writes the engine's audit records to Postgres using
// multi-row INSERT. Writes are idempotent: replays after a crash hit the
// primary-key conflict and are dropped.
type AuditLogWriter struct {
	db *sql.DB
}

// TradeRow represents a row in pool_log.trades
type TradeRow struct {
	TicketID       uuid.UUID
	Owner          uuid.UUID
	Round          int64
	BuyIn          int64
	ExpectedPayout int64
	Fee            int64
	Legs           int
	IsSystem       bool
	FundingSource  string
	FromBackstop   int64
	PlacedAt       time.Time
}

// SettlementRow represents a row in pool_log.settlements
type SettlementRow struct {
	TicketID  uuid.UUID
	Owner     uuid.UUID
	Round     int64
	Outcome   string
	Paid      int64
	ToPool    int64
	Fee       int64
	SettledAt time.Time
}

// RoundCloseRow represents a row in pool_log.round_closes
type RoundCloseRow struct {
	Round          int64
	Allocation     int64
	ClosingBalance int64
	PnL            int64
	CumulativePnL  int64
	SafeBoxSkim    int64
	UsersProcessed int
	CarriedForward int64
	ClosedAt       time.Time
}

func NewAuditLogWriter(db *sql.DB) *AuditLogWriter {
	return &AuditLogWriter{db: db}
}

// WriteTradeBatch inserts a batch of trades inside the given transaction.
func (w *AuditLogWriter) WriteTradeBatch(ctx context.Context, tx *sql.Tx, trades []TradeRow) error {
	if len(trades) == 0 {
		return nil
	}

	query := `INSERT INTO pool_log.trades
		(ticket_id, owner, round, buy_in, expected_payout, fee, legs, is_system, funding_source, from_backstop, placed_at)
		VALUES `

	values := make([]string, 0, len(trades))
	args := make([]interface{}, 0, len(trades)*11)

	for i, t := range trades {
		base := i * 11
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11,
		))
		args = append(args,
			t.TicketID, t.Owner, t.Round, t.BuyIn, t.ExpectedPayout, t.Fee,
			t.Legs, t.IsSystem, t.FundingSource, t.FromBackstop, t.PlacedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (ticket_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteSettlementBatch inserts a batch of settlements inside the given transaction.
func (w *AuditLogWriter) WriteSettlementBatch(ctx context.Context, tx *sql.Tx, settlements []SettlementRow) error {
	if len(settlements) == 0 {
		return nil
	}

	query := `INSERT INTO pool_log.settlements
		(ticket_id, owner, round, outcome, paid, to_pool, fee, settled_at)
		VALUES `

	values := make([]string, 0, len(settlements))
	args := make([]interface{}, 0, len(settlements)*8)

	for i, s := range settlements {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			s.TicketID, s.Owner, s.Round, s.Outcome, s.Paid, s.ToPool, s.Fee, s.SettledAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (ticket_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteRoundCloseBatch inserts a batch of round closes inside the given transaction.
func (w *AuditLogWriter) WriteRoundCloseBatch(ctx context.Context, tx *sql.Tx, closes []RoundCloseRow) error {
	if len(closes) == 0 {
		return nil
	}

	query := `INSERT INTO pool_log.round_closes
		(round, allocation, closing_balance, pnl, cumulative_pnl, safe_box_skim, users_processed, carried_forward, closed_at)
		VALUES `

	values := make([]string, 0, len(closes))
	args := make([]interface{}, 0, len(closes)*9)

	for i, c := range closes {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			c.Round, c.Allocation, c.ClosingBalance, c.PnL, c.CumulativePnL,
			c.SafeBoxSkim, c.UsersProcessed, c.CarriedForward, c.ClosedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (round) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
