package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"ParlayPool/internal/market"
	fpmath "ParlayPool/internal/math"
	"ParlayPool/internal/risk"
	"ParlayPool/internal/round"
	"ParlayPool/internal/ticket"
)

// TradeRequest is the full input for one trade.
type TradeRequest struct {
	Owner           uuid.UUID
	Legs            []market.Leg
	BuyIn           int64
	IsSystem        bool
	RequiredCorrect int
}

// PlaceTrade runs the acceptance pipeline: authenticate markets, quote,
// reserve exposure, route to a round by maturity, fund the escrow, and
// register the ticket. Any failure unwinds everything done so far; an
// accepted trade is fully booked before the lock is released.
func (e *Engine) PlaceTrade(req TradeRequest) (*ticket.Ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	t, err := e.placeTrade(req)
	if e.metrics != nil {
		e.metrics.TradeDuration.Observe(time.Since(start).Seconds())
	}
	return t, err
}

func (e *Engine) placeTrade(req TradeRequest) (*ticket.Ticket, error) {
	for _, leg := range req.Legs {
		if !e.auth.Authenticate(leg.Key()) {
			e.rejectTrade("unauthenticated")
			return nil, fmt.Errorf("%w: %s", ErrUnauthentic, leg.Key())
		}
	}

	quote, err := e.quoter.QuoteTrade(req.Legs, req.BuyIn, req.IsSystem, req.RequiredCorrect)
	if err != nil {
		e.rejectTrade("quote")
		return nil, fmt.Errorf("quote: %w", err)
	}
	escrow := quote.Escrow()
	poolDebit := escrow - req.BuyIn
	if poolDebit < 0 {
		poolDebit = 0
	}

	reservation, status := e.exposure.Reserve(req.Legs, req.BuyIn, req.IsSystem, req.RequiredCorrect)
	if status != risk.StatusNoRisk {
		e.rejectTrade(status.String())
		return nil, fmt.Errorf("trade rejected: %s", status)
	}

	maturity, err := e.catalog.LatestMaturity(req.Legs)
	if err != nil {
		e.releaseReservation(reservation)
		e.rejectTrade("unknown_game")
		return nil, err
	}
	target := e.rounds.RoundForMaturity(maturity)

	// Bettor's stake into escrow first; funding draws the rest.
	if err := e.vault.Transfer(round.UserAccount(req.Owner), round.AccountEscrow, req.BuyIn); err != nil {
		e.releaseReservation(reservation)
		e.rejectTrade("insufficient_funds")
		return nil, fmt.Errorf("buy-in transfer: %w", err)
	}

	funding, err := e.rounds.FundTicket(target, poolDebit, escrow)
	if err != nil {
		if rbErr := e.vault.Transfer(round.AccountEscrow, round.UserAccount(req.Owner), req.BuyIn); rbErr != nil {
			e.log.Error().Err(rbErr).Stringer("owner", req.Owner).Msg("buy-in rollback failed")
		}
		e.releaseReservation(reservation)
		e.rejectTrade("funding")
		return nil, fmt.Errorf("funding: %w", err)
	}

	t := &ticket.Ticket{
		ID:              uuid.New(),
		Owner:           req.Owner,
		Legs:            req.Legs,
		IsSystem:        req.IsSystem,
		RequiredCorrect: req.RequiredCorrect,
		BuyIn:           req.BuyIn,
		ExpectedPayout:  escrow,
		Fee:             quote.Fee,
		PoolDebit:       poolDebit,
		Round:           funding.Round,
		State:           ticket.StateTrading,
		Reservation:     reservation,
		CreatedAt:       e.now(),
	}
	if funding.FromBackstop > 0 {
		t.BackstopRef = e.cfg.Round.DefaultProvider
	}

	if err := e.registry.Register(t); err != nil {
		// Duplicate uuid is effectively unreachable; unwind anyway.
		if rbErr := e.rounds.CreditPool(t.Round, poolDebit); rbErr != nil {
			e.log.Error().Err(rbErr).Msg("funding rollback failed")
		}
		if rbErr := e.rounds.ReleaseLiability(t.Round, escrow); rbErr != nil {
			e.log.Error().Err(rbErr).Msg("liability rollback failed")
		}
		if rbErr := e.vault.Transfer(round.AccountEscrow, round.UserAccount(req.Owner), req.BuyIn); rbErr != nil {
			e.log.Error().Err(rbErr).Msg("buy-in rollback failed")
		}
		e.releaseReservation(reservation)
		e.rejectTrade("registry")
		return nil, fmt.Errorf("register ticket: %w", err)
	}

	if e.metrics != nil {
		e.metrics.TradesAccepted.WithLabelValues(funding.Source.String()).Inc()
		e.metrics.BuyInTotal.Add(float64(req.BuyIn))
		e.metrics.TicketsActive.Set(float64(e.registry.ActiveCount()))
		if funding.FromBackstop > 0 {
			e.metrics.BackstopDrawnTotal.Add(float64(funding.FromBackstop))
		}
	}
	e.updateRoundGauges()
	e.log.Info().Stringer("ticket", t.ID).
		Stringer("owner", t.Owner).
		Uint64("round", t.Round).
		Int64("buy_in", t.BuyIn).
		Int64("escrow", escrow).
		Int("legs", len(t.Legs)).
		Bool("system", t.IsSystem).
		Str("funding", funding.Source.String()).
		Msg("trade placed")

	e.emit(Output{
		Kind:      OutputTradePlaced,
		Timestamp: t.CreatedAt,
		Trade: &TradeRecord{
			TicketID:       t.ID,
			Owner:          t.Owner,
			Round:          t.Round,
			BuyIn:          t.BuyIn,
			ExpectedPayout: t.ExpectedPayout,
			Fee:            t.Fee,
			Legs:           len(t.Legs),
			IsSystem:       t.IsSystem,
			FundingSource:  funding.Source.String(),
			FromBackstop:   funding.FromBackstop,
		},
	})
	return t, nil
}

func (e *Engine) rejectTrade(reason string) {
	if e.metrics != nil {
		e.metrics.TradesRejected.WithLabelValues(reason).Inc()
	}
}

func (e *Engine) releaseReservation(res *risk.Reservation) {
	if err := e.exposure.Release(res); err != nil {
		e.log.Error().Err(err).Msg("exposure release failed")
	}
}

// CancelTrade unwinds a trading or paused ticket at current odds. The
// refund is the buy-in scaled down pro-rata when the committed payout
// exceeds what the same legs would pay now, less a doubled fee on the
// refunded base; everything else in escrow goes back to the funding
// round's pool.
func (e *Engine) CancelTrade(ticketID uuid.UUID, currentOdds []int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.registry.Get(ticketID)
	if !ok {
		return 0, ErrUnknownTicket
	}
	if t.State != ticket.StateTrading && t.State != ticket.StatePaused {
		return 0, fmt.Errorf("ticket %s is %s: not cancellable", t.ID, t.State)
	}
	if len(currentOdds) != len(t.Legs) {
		return 0, fmt.Errorf("%w: ticket has %d legs, got %d odds", ErrLegCountChange, len(t.Legs), len(currentOdds))
	}

	repriced := make([]market.Leg, len(t.Legs))
	copy(repriced, t.Legs)
	for i, odds := range currentOdds {
		repriced[i].Odds = odds
	}
	current, err := e.quoter.QuoteTrade(repriced, t.BuyIn, t.IsSystem, t.RequiredCorrect)
	if err != nil {
		return 0, fmt.Errorf("repricing: %w", err)
	}

	committedPayout := t.ExpectedPayout - t.Fee
	refundBase := t.BuyIn
	if current.Payout > committedPayout {
		refundBase = fpmath.MulDiv(t.BuyIn, committedPayout, current.Payout)
	}
	cancelFee := 2 * fpmath.ApplyRatio(refundBase, e.cfg.FeeFraction)
	refund := refundBase - cancelFee
	if refund < 0 {
		refund = 0
	}
	remainder := t.ExpectedPayout - refund - cancelFee

	if err := e.rounds.CanCreditPool(t.Round); err != nil {
		return 0, fmt.Errorf("cancel during closing: %w", err)
	}

	// The vault transfers come before the terminal latch: a vault
	// failure leaves the ticket live so the cancel can be retried.
	if refund > 0 {
		if err := e.vault.Transfer(round.AccountEscrow, round.UserAccount(t.Owner), refund); err != nil {
			return 0, fmt.Errorf("refund transfer: %w", err)
		}
	}
	if cancelFee > 0 {
		if err := e.vault.Transfer(round.AccountEscrow, round.AccountFees, cancelFee); err != nil {
			return 0, fmt.Errorf("fee transfer: %w", err)
		}
	}
	if err := t.Transition(ticket.StateCancelled); err != nil {
		return 0, err
	}
	if err := e.rounds.CreditPool(t.Round, remainder); err != nil {
		return 0, fmt.Errorf("escrow return: %w", err)
	}
	if err := e.rounds.ReleaseLiability(t.Round, t.ExpectedPayout); err != nil {
		return 0, err
	}
	e.releaseReservation(t.Reservation)
	if err := e.registry.Remove(t); err != nil {
		return 0, err
	}
	e.history[t.ID] = t

	if e.metrics != nil {
		e.metrics.TradesCancelled.Inc()
		e.metrics.TicketsActive.Set(float64(e.registry.ActiveCount()))
	}
	e.updateRoundGauges()
	e.log.Info().Stringer("ticket", t.ID).
		Int64("refund", refund).
		Int64("fee", cancelFee).
		Int64("to_pool", remainder).
		Msg("trade cancelled")

	e.emit(Output{
		Kind:      OutputTicketSettled,
		Timestamp: e.now(),
		Settlement: &SettlementRecord{
			TicketID: t.ID,
			Owner:    t.Owner,
			Round:    t.Round,
			Outcome:  "cancelled",
			Paid:     refund,
			ToPool:   remainder,
			Fee:      cancelFee,
		},
	})
	return refund, nil
}

// PauseTicket suspends cancellation and settlement for a trading ticket.
func (e *Engine) PauseTicket(ticketID uuid.UUID) error {
	return e.transitionTicket(ticketID, ticket.StatePaused)
}

// ResumeTicket returns a paused ticket to trading.
func (e *Engine) ResumeTicket(ticketID uuid.UUID) error {
	return e.transitionTicket(ticketID, ticket.StateTrading)
}

func (e *Engine) transitionTicket(ticketID uuid.UUID, next ticket.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.registry.Get(ticketID)
	if !ok {
		return ErrUnknownTicket
	}
	return t.Transition(next)
}
