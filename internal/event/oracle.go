package event

import (
	"fmt"
	"time"

	"ParlayPool/internal/market"
)

// GameRegistered announces a game to the catalog before its markets trade
type GameRegistered struct {
	Game          market.GameID
	Sport         string
	Maturity      time.Time
	PositionCount int
	Sequence      int64
}

func (g *GameRegistered) IdempotencyKey() string {
	return fmt.Sprintf("game:%s:reg:%d", g.Game, g.Sequence)
}

func (g *GameRegistered) EventType() EventType { return EventTypeGameRegistered }

func (g *GameRegistered) SourceSequence() int64 { return g.Sequence }

// ResultTypeRegistered binds a market type to the shape its results take
type ResultTypeRegistered struct {
	TypeID   market.TypeID
	Kind     market.ResultKind
	Sequence int64
}

func (r *ResultTypeRegistered) IdempotencyKey() string {
	return fmt.Sprintf("type:%d:kind:%d", r.TypeID, r.Kind)
}

func (r *ResultTypeRegistered) EventType() EventType { return EventTypeResultTypeRegistered }

func (r *ResultTypeRegistered) SourceSequence() int64 { return r.Sequence }

// MarketResults carries the oracle's final outcomes for one market
type MarketResults struct {
	Key       market.Key
	Results   []market.Position
	Sequence  int64
	Timestamp time.Time
}

func (m *MarketResults) IdempotencyKey() string {
	return fmt.Sprintf("result:%s:%d", m.Key, m.Sequence)
}

func (m *MarketResults) EventType() EventType { return EventTypeMarketResults }

func (m *MarketResults) SourceSequence() int64 { return m.Sequence }

// GameCancelled voids every market of a game
type GameCancelled struct {
	Game      market.GameID
	Sequence  int64
	Timestamp time.Time
}

func (g *GameCancelled) IdempotencyKey() string {
	return fmt.Sprintf("cancel:game:%s", g.Game)
}

func (g *GameCancelled) EventType() EventType { return EventTypeGameCancelled }

func (g *GameCancelled) SourceSequence() int64 { return g.Sequence }

// MarketCancelled voids one market
type MarketCancelled struct {
	Key       market.Key
	Sequence  int64
	Timestamp time.Time
}

func (m *MarketCancelled) IdempotencyKey() string {
	return fmt.Sprintf("cancel:market:%s", m.Key)
}

func (m *MarketCancelled) EventType() EventType { return EventTypeMarketCancelled }

func (m *MarketCancelled) SourceSequence() int64 { return m.Sequence }
