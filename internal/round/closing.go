package round

import (
	"fmt"

	fpmath "ParlayPool/internal/math"
)

// CanCloseCurrentRound reports whether the active round is past its end
// time with no unresolved trading ticket bound to it. A stuck ticket
// blocks closing indefinitely until the mark-lost admin path resolves it.
func (l *Ledger) CanCloseCurrentRound() bool {
	if !l.started {
		return false
	}
	cur := l.rounds[l.current]
	if l.now().Before(cur.EndTime) {
		return false
	}
	return l.registry.TradingCountForRound(l.current) == 0
}

// PrepareRoundClosing freezes the active round: the safe-box skim is
// taken, the PnL ratio is fixed from the frozen balance, and deposits,
// withdrawals, and trades against the round are barred until the round
// closes. Profit is skimmed; losses are not — LPs carry 100% of the
// downside and (1 - safeBoxImpact) of the upside.
func (l *Ledger) PrepareRoundClosing() (skimmed int64, err error) {
	cur := l.rounds[l.current]
	if cur.ClosingPrepared {
		return 0, ErrAlreadyPrepared
	}
	if !l.CanCloseCurrentRound() {
		return 0, ErrRoundNotClosable
	}

	if cur.PoolBalance > cur.Allocation && l.cfg.SafeBoxImpact > 0 {
		profit := cur.PoolBalance - cur.Allocation
		skimmed = fpmath.ApplyRatio(profit, l.cfg.SafeBoxImpact)
		if skimmed > 0 {
			if err := l.vault.Transfer(AccountPool, AccountSafeBox, skimmed); err != nil {
				return 0, fmt.Errorf("safe box skim: %w", err)
			}
			cur.PoolBalance -= skimmed
		}
	}

	cur.ClosingBalance = cur.PoolBalance
	cur.PnL = fpmath.ComputeRatio(cur.ClosingBalance, cur.Allocation)
	cur.ClosingPrepared = true
	return skimmed, nil
}

// ProcessRoundClosingBatch walks a bounded slice of the frozen round's
// roster: each provider's closing balance is its deposit rebased by the
// round PnL, any pending withdrawal share is paid out, and the remainder
// is staged as next-round balance. Callable repeatedly until every user
// is processed; partial progress is safe to resume. Returns the users
// processed and the total withdrawal amount paid out.
func (l *Ledger) ProcessRoundClosingBatch(batchSize int) (processed int, paid int64, err error) {
	cur := l.rounds[l.current]
	if !cur.ClosingPrepared {
		return 0, 0, ErrNotPrepared
	}
	if batchSize <= 0 {
		return 0, 0, ErrBatchSizeZero
	}
	if cur.UsersProcessed >= len(cur.roster) {
		return 0, 0, ErrAllUsersProcessed
	}

	next := l.ensureRound(l.current + 1)

	end := cur.UsersProcessed + batchSize
	if end > len(cur.roster) {
		end = len(cur.roster)
	}

	for _, provider := range cur.roster[cur.UsersProcessed:end] {
		closing := fpmath.ApplyRatio(cur.balances[provider], cur.PnL)

		var withdrawn int64
		if req, ok := l.withdrawals[provider]; ok {
			withdrawn = fpmath.ApplyShare(closing, req.Share)
			if withdrawn > 0 {
				if err := l.vault.Transfer(AccountPool, UserAccount(provider), withdrawn); err != nil {
					return processed, paid, fmt.Errorf("withdrawal payout: %w", err)
				}
			}
			// The request is consumed only after the payout lands, so
			// a vault failure leaves it pending for the resumed batch.
			delete(l.withdrawals, provider)
			paid += withdrawn
		}

		carry := closing - withdrawn
		if carry > 0 {
			next.credit(provider, carry)
			next.Allocation += carry
			cur.carriedTotal += carry
		}

		cur.PoolBalance -= closing
		cur.UsersProcessed++
		processed++
	}

	return processed, paid, nil
}

// CloseRound finalizes the frozen round once every user is processed:
// cumulative PnL compounds, the round advances, and the carried balances
// (plus any fixed-point dust) transfer into the new round's pool.
func (l *Ledger) CloseRound() error {
	cur := l.rounds[l.current]
	if !cur.ClosingPrepared {
		return ErrNotPrepared
	}
	if cur.UsersProcessed < len(cur.roster) {
		return ErrNotFullyProcessed
	}

	next := l.ensureRound(l.current + 1)

	// Rounding dust left after per-provider rebasing stays in the pool
	// and rides into the new round unattributed.
	dust := cur.PoolBalance
	next.PoolBalance += cur.carriedTotal + dust
	cur.PoolBalance = 0

	next.CumulativePnL = fpmath.CompoundRatio(cur.CumulativePnL, cur.PnL)
	cur.Closed = true
	l.current++
	return nil
}
