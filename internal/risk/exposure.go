package risk

import (
	"fmt"

	"ParlayPool/internal/market"
	fpmath "ParlayPool/internal/math"
)

// PositionKey addresses one side of one market.
type PositionKey struct {
	Market   market.Key
	Position market.Position
}

// Reservation records the exact exposure deltas applied for one accepted
// ticket so that Release can reverse them precisely on resolution,
// cancellation, or mark-lost.
type Reservation struct {
	positions  map[PositionKey]int64
	gameSpend  map[market.GameID]int64
	sportSpend map[string]int64
	sgpSpend   map[[32]byte]int64
	released   bool
}

// ExposureLedger tracks signed risk per market position plus aggregate
// spend per game, per sport, and per SGP combination bucket, and enforces
// the configured caps. Positive per-position risk is pool liability if
// that position wins; the negative sibling entries are the offsetting
// stakes, so a market's position ledger always nets to the pool's true
// liability.
type ExposureLedger struct {
	perPosition map[PositionKey]int64
	gameSpend   map[market.GameID]int64
	sportSpend  map[string]int64
	sgpSpend    map[[32]byte]int64

	catalog   *market.Catalog
	caps      *CapsManager
	validator *CombinationValidator
}

func NewExposureLedger(catalog *market.Catalog, caps *CapsManager) *ExposureLedger {
	return &ExposureLedger{
		perPosition: make(map[PositionKey]int64),
		gameSpend:   make(map[market.GameID]int64),
		sportSpend:  make(map[string]int64),
		sgpSpend:    make(map[[32]byte]int64),
		catalog:     catalog,
		caps:        caps,
		validator:   NewCombinationValidator(catalog, caps),
	}
}

// CheckRisks validates a proposed ticket without mutating any state.
func (el *ExposureLedger) CheckRisks(legs []market.Leg, buyIn int64, isSystem bool, requiredCorrect int) Status {
	_, status := el.buildReservation(legs, buyIn, isSystem, requiredCorrect)
	return status
}

// Reserve validates and, on acceptance, applies the exposure for a ticket.
// Rejections are total: no state changes unless StatusNoRisk is returned.
func (el *ExposureLedger) Reserve(legs []market.Leg, buyIn int64, isSystem bool, requiredCorrect int) (*Reservation, Status) {
	res, status := el.buildReservation(legs, buyIn, isSystem, requiredCorrect)
	if status != StatusNoRisk {
		return nil, status
	}
	el.apply(res, 1)
	return res, StatusNoRisk
}

// buildReservation computes the would-be deltas and checks every cap
// against current state plus delta.
func (el *ExposureLedger) buildReservation(legs []market.Leg, buyIn int64, isSystem bool, requiredCorrect int) (*Reservation, Status) {
	if buyIn <= 0 {
		return nil, StatusInvalidCombination
	}
	if status := el.validator.Validate(legs, isSystem, requiredCorrect); status != StatusNoRisk {
		return nil, status
	}

	res := &Reservation{
		positions:  make(map[PositionKey]int64),
		gameSpend:  make(map[market.GameID]int64),
		sportSpend: make(map[string]int64),
		sgpSpend:   make(map[[32]byte]int64),
	}

	shares := fpmath.SplitEvenly(buyIn, len(legs))

	for i, leg := range legs {
		share := shares[i]
		if isSystem {
			// For a k-of-n system bet only k/n of the per-leg share rides
			// on each individual leg in expectation across qualifying
			// combinations.
			share = fpmath.MulDiv(share, int64(requiredCorrect), int64(len(legs)))
		}

		legRisk := fpmath.ComputeLegRisk(share, leg.Odds)

		info, ok := el.catalog.Get(leg.Game)
		if !ok {
			return nil, StatusUnknownMarket
		}

		selected := PositionKey{Market: leg.Key(), Position: leg.Position}
		res.positions[selected] += legRisk

		// Debit the stake share from every sibling position so the market
		// nets to the pool's true liability.
		for p := 0; p < info.PositionCount; p++ {
			if market.Position(p) == leg.Position {
				continue
			}
			sibling := PositionKey{Market: leg.Key(), Position: market.Position(p)}
			res.positions[sibling] -= share
		}

		res.gameSpend[leg.Game] += legRisk
		res.sportSpend[info.Sport] += legRisk
	}

	// Cap checks: per position, per game, per sport.
	for key, delta := range res.positions {
		caps := el.caps.For(el.catalog.Sport(key.Market.Game))
		if el.perPosition[key]+delta > caps.MaxRiskPerPosition {
			return nil, StatusCapExceeded
		}
	}
	for game, delta := range res.gameSpend {
		caps := el.caps.For(el.catalog.Sport(game))
		if el.gameSpend[game]+delta > caps.MaxSpendPerGame {
			return nil, StatusCapExceeded
		}
	}
	for sport, delta := range res.sportSpend {
		if el.sportSpend[sport]+delta > el.caps.For(sport).MaxSpendPerSport {
			return nil, StatusCapExceeded
		}
	}

	// SGP buckets: full buy-in counts against each same-game group's cap.
	for game, hash := range SGPGroups(legs) {
		caps := el.caps.For(el.catalog.Sport(game))
		if el.sgpSpend[hash]+buyIn > caps.SGPCap() {
			return nil, StatusSGPCapExceeded
		}
		res.sgpSpend[hash] += buyIn
	}

	return res, StatusNoRisk
}

// Release reverses a reservation when its ticket resolves, cancels, or is
// marked lost. Releasing twice is an error.
func (el *ExposureLedger) Release(res *Reservation) error {
	if res == nil {
		return fmt.Errorf("nil reservation")
	}
	if res.released {
		return fmt.Errorf("reservation already released")
	}
	el.apply(res, -1)
	res.released = true
	return nil
}

func (el *ExposureLedger) apply(res *Reservation, sign int64) {
	for key, delta := range res.positions {
		el.perPosition[key] += sign * delta
		if el.perPosition[key] == 0 {
			delete(el.perPosition, key)
		}
	}
	for game, delta := range res.gameSpend {
		el.gameSpend[game] += sign * delta
		if el.gameSpend[game] == 0 {
			delete(el.gameSpend, game)
		}
	}
	for sport, delta := range res.sportSpend {
		el.sportSpend[sport] += sign * delta
		if el.sportSpend[sport] == 0 {
			delete(el.sportSpend, sport)
		}
	}
	for hash, delta := range res.sgpSpend {
		el.sgpSpend[hash] += sign * delta
		if el.sgpSpend[hash] == 0 {
			delete(el.sgpSpend, hash)
		}
	}
}

// RiskPerPosition returns the signed exposure on one market position.
func (el *ExposureLedger) RiskPerPosition(key market.Key, pos market.Position) int64 {
	return el.perPosition[PositionKey{Market: key, Position: pos}]
}

// SpentOnGame returns the aggregate risk credited to a game.
func (el *ExposureLedger) SpentOnGame(game market.GameID) int64 {
	return el.gameSpend[game]
}

// SpentOnSport returns the aggregate risk across a sport.
func (el *ExposureLedger) SpentOnSport(sport string) int64 {
	return el.sportSpend[sport]
}

// SGPSpent returns the buy-in sum recorded against one SGP bucket.
func (el *ExposureLedger) SGPSpent(hash [32]byte) int64 {
	return el.sgpSpend[hash]
}

// RemainingCapacity returns how much additional risk a single position can
// absorb before the tightest of the per-position, per-game, and per-sport
// caps binds. Zero-floored.
func (el *ExposureLedger) RemainingCapacity(key market.Key, pos market.Position) int64 {
	sport := el.catalog.Sport(key.Game)
	caps := el.caps.For(sport)

	remaining := caps.MaxRiskPerPosition - el.perPosition[PositionKey{Market: key, Position: pos}]
	if gameRoom := caps.MaxSpendPerGame - el.gameSpend[key.Game]; gameRoom < remaining {
		remaining = gameRoom
	}
	if sportRoom := caps.MaxSpendPerSport - el.sportSpend[sport]; sportRoom < remaining {
		remaining = sportRoom
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
