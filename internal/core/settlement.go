package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ParlayPool/internal/market"
	fpmath "ParlayPool/internal/math"
	"ParlayPool/internal/round"
	"ParlayPool/internal/ticket"
)

var ErrBatchSizeZero = errors.New("core: batch size must be positive")

// outcome is the engine's verdict for a fully resolved ticket.
type outcome struct {
	ready  bool
	won    bool
	payout int64 // gross amount owed the bettor, capped at committed payout
}

// evaluate resolves a ticket against the result book. A ticket is ready
// only when no leg it still depends on is pending. Voided legs drop out
// at stake odds: their pricing factor is undone rather than treated as a
// win or loss.
func (e *Engine) evaluate(t *ticket.Ticket) outcome {
	resolved := make([]market.LegOutcome, len(t.Legs))
	for i, leg := range t.Legs {
		resolved[i] = e.results.ResolveLeg(leg)
		if resolved[i] == market.LegOutcomePending {
			return outcome{}
		}
	}
	if t.IsSystem {
		return e.evaluateSystem(t, resolved)
	}
	return e.evaluateParlay(t, resolved)
}

func (e *Engine) evaluateParlay(t *ticket.Ticket, resolved []market.LegOutcome) outcome {
	committed := t.ExpectedPayout - t.Fee
	payout := committed
	voided := 0
	for i, r := range resolved {
		switch r {
		case market.LegOutcomeLost:
			return outcome{ready: true, won: false}
		case market.LegOutcomeVoided:
			// Undo this leg's 1/odds factor from the committed payout.
			payout = fpmath.MulDiv(payout, t.Legs[i].Odds, fpmath.OddsConfig.Scale)
			voided++
		}
	}
	if voided == len(t.Legs) {
		// Nothing left to bet on: return the stake.
		return outcome{ready: true, won: true, payout: t.BuyIn}
	}
	if payout > committed {
		payout = committed
	}
	return outcome{ready: true, won: true, payout: payout}
}

// evaluateSystem settles a k-of-n ticket as C(n,k) mini-parlays with the
// stake split evenly across them. Each combination free of lost legs pays
// its stake at the product of its won legs' odds; voided legs contribute
// factor one. The total never exceeds the committed payout.
func (e *Engine) evaluateSystem(t *ticket.Ticket, resolved []market.LegOutcome) outcome {
	n := len(t.Legs)
	k := t.RequiredCorrect
	combos := fpmath.Combinations(int64(n), int64(k), 1<<20)
	if combos <= 0 {
		return outcome{ready: true, won: false}
	}
	stakes := fpmath.SplitEvenly(t.BuyIn, int(combos))

	var total int64
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	combo := 0
	for {
		total += comboPayout(t, resolved, idx, stakes[combo])
		combo++

		// Next k-combination in lexicographic order.
		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			break
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}

	committed := t.ExpectedPayout - t.Fee
	if total > committed {
		total = committed
	}
	if total <= 0 {
		return outcome{ready: true, won: false}
	}
	return outcome{ready: true, won: true, payout: total}
}

func comboPayout(t *ticket.Ticket, resolved []market.LegOutcome, idx []int, stake int64) int64 {
	payout := stake
	for _, i := range idx {
		switch resolved[i] {
		case market.LegOutcomeLost:
			return 0
		case market.LegOutcomeWon:
			payout = fpmath.ComputePayout(payout, t.Legs[i].Odds)
		}
		// Voided legs multiply by one.
	}
	return payout
}

// ExerciseTicketsReadyBatch examines up to batchSize active tickets from
// a persistent wrap-around cursor and settles every one whose legs have
// all resolved. Returns how many tickets reached a terminal state.
func (e *Engine) ExerciseTicketsReadyBatch(batchSize int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if batchSize <= 0 {
		return 0, ErrBatchSizeZero
	}

	settled := 0
	for examined := 0; examined < batchSize; examined++ {
		count := e.registry.ActiveCount()
		if count == 0 {
			break
		}
		if e.exerciseCursor >= count {
			e.exerciseCursor = 0
		}
		page := e.registry.GetActiveTickets(e.exerciseCursor, 1)
		if len(page) == 0 {
			e.exerciseCursor = 0
			continue
		}
		t := page[0]
		if t.State != ticket.StateTrading {
			e.exerciseCursor++
			continue
		}

		verdict := e.evaluate(t)
		if !verdict.ready {
			e.exerciseCursor++
			continue
		}

		// Removal swaps the last ticket into the cursor slot, so the
		// cursor stays put after a settlement.
		if err := e.settle(t, verdict); err != nil {
			return settled, err
		}
		settled++
	}
	return settled, nil
}

// settle moves a resolved ticket to its terminal state and disperses the
// escrow: payout to the bettor and fee to the fee account on a win, the
// whole escrow back to the funding round's pool on a loss.
func (e *Engine) settle(t *ticket.Ticket, verdict outcome) error {
	if err := e.rounds.CanCreditPool(t.Round); err != nil {
		return fmt.Errorf("settle ticket %s: %w", t.ID, err)
	}

	paid, fee := int64(0), int64(0)
	outcomeLabel := "lost"
	if verdict.won {
		paid, fee = verdict.payout, t.Fee
		outcomeLabel = "exercised"
	}

	// The vault transfers come before the terminal latch: a vault
	// failure leaves the ticket trading so the sweep retries it.
	if paid > 0 {
		if err := e.vault.Transfer(round.AccountEscrow, round.UserAccount(t.Owner), paid); err != nil {
			return fmt.Errorf("payout transfer: %w", err)
		}
	}
	if fee > 0 {
		if err := e.vault.Transfer(round.AccountEscrow, round.AccountFees, fee); err != nil {
			return fmt.Errorf("fee transfer: %w", err)
		}
	}
	if verdict.won {
		if err := t.Transition(ticket.StateExercisable); err != nil {
			return err
		}
	}
	if err := t.Transition(ticket.StateResolved); err != nil {
		return err
	}
	toPool := t.ExpectedPayout - paid - fee
	if err := e.rounds.CreditPool(t.Round, toPool); err != nil {
		return fmt.Errorf("escrow return: %w", err)
	}
	if err := e.rounds.ReleaseLiability(t.Round, t.ExpectedPayout); err != nil {
		return err
	}
	e.releaseReservation(t.Reservation)
	if err := e.registry.Remove(t); err != nil {
		return err
	}
	e.history[t.ID] = t

	if e.metrics != nil {
		if verdict.won {
			e.metrics.TicketsExercised.Inc()
			e.metrics.PayoutTotal.Add(float64(paid))
		}
		e.metrics.TicketsActive.Set(float64(e.registry.ActiveCount()))
	}
	e.updateRoundGauges()
	e.log.Info().Stringer("ticket", t.ID).
		Str("outcome", outcomeLabel).
		Int64("paid", paid).
		Int64("to_pool", toPool).
		Msg("ticket settled")

	e.emit(Output{
		Kind:      OutputTicketSettled,
		Timestamp: e.now(),
		Settlement: &SettlementRecord{
			TicketID: t.ID,
			Owner:    t.Owner,
			Round:    t.Round,
			Outcome:  outcomeLabel,
			Paid:     paid,
			ToPool:   toPool,
			Fee:      fee,
		},
	})
	return nil
}

// MarkTicketLost force-resolves a trading or paused ticket as lost. The
// escrow is swept to the funding round's pool in full; administrative
// path for tickets whose markets will never report.
func (e *Engine) MarkTicketLost(ticketID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.registry.Get(ticketID)
	if !ok {
		return ErrUnknownTicket
	}
	if err := e.rounds.CanCreditPool(t.Round); err != nil {
		return fmt.Errorf("mark lost %s: %w", t.ID, err)
	}
	if err := t.Transition(ticket.StateMarkedLost); err != nil {
		return err
	}

	if err := e.rounds.CreditPool(t.Round, t.ExpectedPayout); err != nil {
		return fmt.Errorf("escrow return: %w", err)
	}
	if err := e.rounds.ReleaseLiability(t.Round, t.ExpectedPayout); err != nil {
		return err
	}
	e.releaseReservation(t.Reservation)
	if err := e.registry.Remove(t); err != nil {
		return err
	}
	e.history[t.ID] = t

	if e.metrics != nil {
		e.metrics.TicketsMarkedLost.Inc()
		e.metrics.TicketsActive.Set(float64(e.registry.ActiveCount()))
	}
	e.updateRoundGauges()
	e.log.Warn().Stringer("ticket", t.ID).Uint64("round", t.Round).Msg("ticket marked lost")

	e.emit(Output{
		Kind:      OutputTicketSettled,
		Timestamp: e.now(),
		Settlement: &SettlementRecord{
			TicketID: t.ID,
			Owner:    t.Owner,
			Round:    t.Round,
			Outcome:  "marked_lost",
			ToPool:   t.ExpectedPayout,
		},
	})
	return nil
}
