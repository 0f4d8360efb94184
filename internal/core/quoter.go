package core

import (
	"fmt"

	"ParlayPool/internal/market"
	fpmath "ParlayPool/internal/math"
)

// Quote is the pricing surface's answer for one trade: the gross payout
// committed to the bettor and the venue fee on top. The curve math behind
// it is out of scope; the engine treats the quoter as a pure function.
type Quote struct {
	Payout int64
	Fee    int64
}

// Escrow is the committed amount held for the ticket: payout plus fee.
func (q Quote) Escrow() int64 {
	return q.Payout + q.Fee
}

// Quoter converts trade inputs into a payout and fee breakdown.
type Quoter interface {
	QuoteTrade(legs []market.Leg, buyIn int64, isSystem bool, requiredCorrect int) (Quote, error)
}

// FractionalFeeQuoter is the default quoter: legs multiply as independent
// implied probabilities, system bets scale by requiredCorrect/len(legs),
// and the fee is a fixed fraction of the payout. FeeFraction is
// RatioConfig scale (40_000 = 4%).
type FractionalFeeQuoter struct {
	FeeFraction int64
	MaxPayout   int64 // single-ticket payout ceiling; 0 disables
}

func NewFractionalFeeQuoter(feeFraction, maxPayout int64) *FractionalFeeQuoter {
	return &FractionalFeeQuoter{FeeFraction: feeFraction, MaxPayout: maxPayout}
}

func (q *FractionalFeeQuoter) QuoteTrade(legs []market.Leg, buyIn int64, isSystem bool, requiredCorrect int) (Quote, error) {
	if buyIn <= 0 {
		return Quote{}, fmt.Errorf("buy-in must be positive, got %d", buyIn)
	}
	if len(legs) == 0 {
		return Quote{}, fmt.Errorf("no legs to quote")
	}

	combined := fpmath.OddsConfig.Scale
	for _, leg := range legs {
		if leg.Odds <= 0 || leg.Odds > fpmath.OddsConfig.Scale {
			return Quote{}, fmt.Errorf("leg odds out of range: %d", leg.Odds)
		}
		combined = fpmath.MulDiv(combined, leg.Odds, fpmath.OddsConfig.Scale)
		if combined == 0 {
			return Quote{}, fmt.Errorf("combined odds underflow across %d legs", len(legs))
		}
	}

	payout := fpmath.ComputePayout(buyIn, combined)
	if isSystem {
		// A k-of-n system splits the stake across C(n,k) mini-parlays;
		// its headline payout scales with k/n of the full parlay.
		payout = fpmath.MulDiv(payout, int64(requiredCorrect), int64(len(legs)))
	}
	if q.MaxPayout > 0 && payout > q.MaxPayout {
		return Quote{}, fmt.Errorf("payout %d exceeds ceiling %d", payout, q.MaxPayout)
	}

	fee := fpmath.ApplyRatio(payout, q.FeeFraction)
	return Quote{Payout: payout, Fee: fee}, nil
}
