package market

import (
	"fmt"
)

// LegOutcome is the resolution state of a single leg.
type LegOutcome int32

const (
	LegOutcomePending LegOutcome = iota // no result reported yet
	LegOutcomeWon
	LegOutcomeLost
	LegOutcomeVoided // game or market cancelled; leg drops out at stake odds
)

// ResultBook consumes the oracle feed: result-kind registration per market
// type, final results per market, and game/market cancellations.
// Results and cancellations are one-shot; reporting twice is rejected.
type ResultBook struct {
	kinds            map[TypeID]ResultKind
	results          map[Key][]Position
	cancelledGames   map[GameID]bool
	cancelledMarkets map[Key]bool
}

func NewResultBook() *ResultBook {
	return &ResultBook{
		kinds:            make(map[TypeID]ResultKind),
		results:          make(map[Key][]Position),
		cancelledGames:   make(map[GameID]bool),
		cancelledMarkets: make(map[Key]bool),
	}
}

// SetResultTypeForMarketType registers how the oracle reports outcomes for
// a market type. Re-registering with a different kind is rejected.
func (rb *ResultBook) SetResultTypeForMarketType(typeID TypeID, kind ResultKind) error {
	if kind == ResultKindUnset {
		return fmt.Errorf("result kind for type %d must be set", typeID)
	}
	if existing, ok := rb.kinds[typeID]; ok && existing != kind {
		return fmt.Errorf("result kind for type %d already set to %s", typeID, existing)
	}
	rb.kinds[typeID] = kind
	return nil
}

// ResultKindFor returns the registered result kind for a market type.
func (rb *ResultBook) ResultKindFor(typeID TypeID) (ResultKind, bool) {
	kind, ok := rb.kinds[typeID]
	return kind, ok
}

// SetResultsForMarket records the final outcome indices for a market.
// Setting results twice for the same market fails, as does reporting into
// a cancelled game or market.
func (rb *ResultBook) SetResultsForMarket(key Key, resultIndices []Position) error {
	if _, ok := rb.kinds[key.TypeID]; !ok {
		return fmt.Errorf("no result kind registered for type %d", key.TypeID)
	}
	if rb.cancelledGames[key.Game] {
		return fmt.Errorf("game %s is cancelled", key.Game)
	}
	if rb.cancelledMarkets[key] {
		return fmt.Errorf("market %s is cancelled", key)
	}
	if _, ok := rb.results[key]; ok {
		return fmt.Errorf("results already set for market %s", key)
	}
	if len(resultIndices) == 0 {
		return fmt.Errorf("empty result set for market %s", key)
	}
	stored := make([]Position, len(resultIndices))
	copy(stored, resultIndices)
	rb.results[key] = stored
	return nil
}

// CancelGame voids every market of a game. Cancelling twice fails.
func (rb *ResultBook) CancelGame(game GameID) error {
	if rb.cancelledGames[game] {
		return fmt.Errorf("game %s already cancelled", game)
	}
	rb.cancelledGames[game] = true
	return nil
}

// CancelMarket voids a single market. Cancelling twice fails, as does
// cancelling a market that already has results.
func (rb *ResultBook) CancelMarket(key Key) error {
	if rb.cancelledMarkets[key] {
		return fmt.Errorf("market %s already cancelled", key)
	}
	if _, ok := rb.results[key]; ok {
		return fmt.Errorf("market %s already has results", key)
	}
	rb.cancelledMarkets[key] = true
	return nil
}

// IsGameCancelled reports whether a game has been cancelled.
func (rb *ResultBook) IsGameCancelled(game GameID) bool {
	return rb.cancelledGames[game]
}

// ResolveLeg determines the outcome of one leg against the recorded
// results. A leg with no result yet is Pending; a leg whose game or
// market was cancelled is Voided regardless of any result.
func (rb *ResultBook) ResolveLeg(leg Leg) LegOutcome {
	key := leg.Key()

	if rb.cancelledGames[leg.Game] || rb.cancelledMarkets[key] {
		return LegOutcomeVoided
	}

	indices, ok := rb.results[key]
	if !ok {
		return LegOutcomePending
	}

	kind := rb.kinds[key.TypeID]
	if kind == ResultKindCombinedPositions {
		for _, idx := range indices {
			if leg.CombinedMask&(1<<uint32(idx)) != 0 {
				return LegOutcomeWon
			}
		}
		return LegOutcomeLost
	}

	// ExactPosition, OverUnder, Spread: the reported indices are the winning
	// positions for this (game, type, player, line); membership decides.
	for _, idx := range indices {
		if idx == leg.Position {
			return LegOutcomeWon
		}
	}
	return LegOutcomeLost
}

// HasResult reports whether a market has final results recorded.
func (rb *ResultBook) HasResult(key Key) bool {
	_, ok := rb.results[key]
	return ok
}
