package risk

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"ParlayPool/internal/market"
	fpmath "ParlayPool/internal/math"
)

// Status is the outcome of risk acceptance for a proposed ticket.
type Status int32

const (
	StatusNoRisk Status = iota // accepted
	StatusInvalidCombination
	StatusDuplicatePlayer
	StatusUnknownMarket
	StatusCapExceeded
	StatusSGPCapExceeded
	StatusTooManyCombinations
	StatusInvalidOdds
)

func (s Status) String() string {
	switch s {
	case StatusNoRisk:
		return "NoRisk"
	case StatusInvalidCombination:
		return "InvalidCombination"
	case StatusDuplicatePlayer:
		return "DuplicatePlayer"
	case StatusUnknownMarket:
		return "UnknownMarket"
	case StatusCapExceeded:
		return "CapExceeded"
	case StatusSGPCapExceeded:
		return "SGPCapExceeded"
	case StatusTooManyCombinations:
		return "TooManyCombinations"
	case StatusInvalidOdds:
		return "InvalidOdds"
	default:
		return "Unknown"
	}
}

// CombinationValidator decides whether a proposed multi-leg ticket is a
// legal combination and computes the canonical SGP bucket hash for
// same-game groups.
type CombinationValidator struct {
	catalog *market.Catalog
	caps    *CapsManager
}

func NewCombinationValidator(catalog *market.Catalog, caps *CapsManager) *CombinationValidator {
	return &CombinationValidator{catalog: catalog, caps: caps}
}

// Validate checks combination legality. Same-game legs are allowed only
// where the sport has combining enabled. The same (game, player) pair may
// never appear twice — that rule is not overridable even with combining on.
func (cv *CombinationValidator) Validate(legs []market.Leg, isSystem bool, requiredCorrect int) Status {
	if len(legs) == 0 {
		return StatusInvalidCombination
	}

	seenGames := make(map[market.GameID]bool, len(legs))
	type gamePlayer struct {
		game   market.GameID
		player string
	}
	seenPlayers := make(map[gamePlayer]bool, len(legs))

	for _, leg := range legs {
		if leg.Odds <= 0 || leg.Odds > fpmath.OddsConfig.Scale {
			return StatusInvalidOdds
		}
		if !cv.catalog.Authenticate(leg.Key()) {
			return StatusUnknownMarket
		}

		if leg.Player != "" {
			gp := gamePlayer{game: leg.Game, player: leg.Player}
			if seenPlayers[gp] {
				return StatusDuplicatePlayer
			}
			seenPlayers[gp] = true
		}

		if seenGames[leg.Game] {
			sport := cv.catalog.Sport(leg.Game)
			if !cv.caps.For(sport).CombiningEnabled {
				return StatusInvalidCombination
			}
		}
		seenGames[leg.Game] = true
	}

	if isSystem {
		if requiredCorrect < 1 || requiredCorrect > len(legs) {
			return StatusInvalidCombination
		}
		limit := cv.caps.MaxSystemCombinations
		if fpmath.Combinations(int64(len(legs)), int64(requiredCorrect), limit) > limit {
			return StatusTooManyCombinations
		}
	}

	return StatusNoRisk
}

// SGPHash computes the canonical hash for a same-game combination bucket.
// Legs are sorted by a stable key before hashing so the same combination
// submitted in any order maps to the same bucket.
func SGPHash(game market.GameID, legs []market.Leg) [32]byte {
	keys := make([]string, 0, len(legs))
	for _, leg := range legs {
		if leg.Game != game {
			continue
		}
		keys = append(keys, fmt.Sprintf("%d:%s:%d:%d:%d",
			leg.TypeID, leg.Player, leg.Line, leg.Position, leg.CombinedMask))
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(game))
	for _, k := range keys {
		h.Write([]byte{byte(len(k))})
		h.Write([]byte(k))
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// SGPGroups returns, per game that appears in two or more legs, the
// canonical bucket hash for that game's leg subset.
func SGPGroups(legs []market.Leg) map[market.GameID][32]byte {
	counts := make(map[market.GameID]int, len(legs))
	for _, leg := range legs {
		counts[leg.Game]++
	}

	groups := make(map[market.GameID][32]byte)
	for game, n := range counts {
		if n >= 2 {
			groups[game] = SGPHash(game, legs)
		}
	}
	return groups
}
