package market

import (
	"fmt"
	"time"
)

// GameID identifies a single game/event in the catalog.
type GameID string

// TypeID identifies a market type (moneyline, totals, player props, ...).
type TypeID uint16

// Position is an outcome index within a market (0-based).
type Position uint8

// ResultKind describes how the oracle reports outcomes for a market type.
type ResultKind int32

const (
	ResultKindUnset ResultKind = iota
	ResultKindExactPosition
	ResultKindOverUnder
	ResultKindSpread
	ResultKindCombinedPositions
)

func (k ResultKind) String() string {
	switch k {
	case ResultKindExactPosition:
		return "ExactPosition"
	case ResultKindOverUnder:
		return "OverUnder"
	case ResultKindSpread:
		return "Spread"
	case ResultKindCombinedPositions:
		return "CombinedPositions"
	default:
		return "Unset"
	}
}

// Key identifies a single market: one priced question within a game.
// Player is empty for team-level markets. Line is fixed-point (quote scale)
// and zero for markets without a line.
type Key struct {
	Game   GameID
	TypeID TypeID
	Player string
	Line   int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%s:%d", k.Game, k.TypeID, k.Player, k.Line)
}

// Leg is one selection inside a ticket: a market plus the position taken
// and the odds it was priced at. CombinedMask is a bitmask of positions for
// legs on CombinedPositions market types (the leg wins if any masked
// position is among the reported results).
type Leg struct {
	Game         GameID
	TypeID       TypeID
	Player       string
	Line         int64
	Position     Position
	Odds         int64 // implied probability, OddsConfig scale
	CombinedMask uint32
}

// Key returns the market this leg selects into.
func (l Leg) Key() Key {
	return Key{Game: l.Game, TypeID: l.TypeID, Player: l.Player, Line: l.Line}
}

// GameInfo is the catalog entry for a game: which sport it belongs to and
// when its last market matures (used for round routing).
type GameInfo struct {
	Game     GameID
	Sport    string
	Maturity time.Time
	// PositionCount is the number of outcomes per market in this game's
	// default market shape; individual market types may override.
	PositionCount int
}

// Authenticator is the opaque market-legitimacy predicate. The catalog
// proof scheme behind it is out of scope; the engine only asks yes/no.
type Authenticator interface {
	Authenticate(key Key) bool
}

// Catalog tracks known games. It doubles as the default Authenticator:
// a market reference is valid when its game is registered.
type Catalog struct {
	games map[GameID]*GameInfo
}

func NewCatalog() *Catalog {
	return &Catalog{games: make(map[GameID]*GameInfo)}
}

// RegisterGame adds or replaces a catalog entry.
func (c *Catalog) RegisterGame(info GameInfo) error {
	if info.Game == "" {
		return fmt.Errorf("game id required")
	}
	if info.Maturity.IsZero() {
		return fmt.Errorf("game %s has no maturity timestamp", info.Game)
	}
	if info.PositionCount < 2 {
		info.PositionCount = 2
	}
	g := info
	c.games[info.Game] = &g
	return nil
}

// Get returns the catalog entry for a game.
func (c *Catalog) Get(game GameID) (*GameInfo, bool) {
	info, ok := c.games[game]
	return info, ok
}

// Sport returns the sport for a game, or "" if unknown.
func (c *Catalog) Sport(game GameID) string {
	if info, ok := c.games[game]; ok {
		return info.Sport
	}
	return ""
}

// Maturity returns the maturity timestamp for a game.
func (c *Catalog) Maturity(game GameID) (time.Time, bool) {
	info, ok := c.games[game]
	if !ok {
		return time.Time{}, false
	}
	return info.Maturity, true
}

// Authenticate implements Authenticator: the market is valid when its game
// is a registered catalog entry.
func (c *Catalog) Authenticate(key Key) bool {
	_, ok := c.games[key.Game]
	return ok
}

// LatestMaturity returns the latest maturity across a ticket's legs.
// A multi-leg ticket settles only when its last game resolves, so the
// latest maturity decides which round funds it.
func (c *Catalog) LatestMaturity(legs []Leg) (time.Time, error) {
	var latest time.Time
	for _, leg := range legs {
		m, ok := c.Maturity(leg.Game)
		if !ok {
			return time.Time{}, fmt.Errorf("unknown game %s", leg.Game)
		}
		if m.After(latest) {
			latest = m
		}
	}
	return latest, nil
}
