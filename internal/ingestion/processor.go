package ingestion

import (
	"fmt"

	"github.com/rs/zerolog"

	"ParlayPool/internal/core"
	"ParlayPool/internal/event"
	"ParlayPool/internal/market"
	"ParlayPool/internal/risk"
)

// Processor applies typed oracle events to the engine, deduplicating on
// idempotency keys. Redeliveries from JetStream are absorbed here so the
// engine sees each oracle fact at most once.
type Processor struct {
	engine *core.Engine
	dedup  *DedupLRU
	log    zerolog.Logger
}

func NewProcessor(engine *core.Engine, dedupCapacity int, log zerolog.Logger) *Processor {
	return &Processor{
		engine: engine,
		dedup:  NewDedupLRU(dedupCapacity),
		log:    log,
	}
}

// ProcessEvent dispatches one typed event to the engine. Duplicates are
// dropped silently; engine rejections (double-set results, double
// cancellation) are returned to the caller for logging, never retried.
func (p *Processor) ProcessEvent(evt event.Event) error {
	key := composite(evt.EventType().String(), evt.IdempotencyKey())
	if p.dedup.Contains(key) {
		p.log.Debug().Str("key", evt.IdempotencyKey()).Msg("duplicate event dropped")
		return nil
	}

	var err error
	switch e := evt.(type) {
	case *event.GameRegistered:
		err = p.engine.RegisterGame(market.GameInfo{
			Game:          e.Game,
			Sport:         e.Sport,
			Maturity:      e.Maturity,
			PositionCount: e.PositionCount,
		})
	case *event.ResultTypeRegistered:
		err = p.engine.SetResultTypeForMarketType(e.TypeID, e.Kind)
	case *event.MarketResults:
		err = p.engine.SetResultsForMarket(e.Key, e.Results)
	case *event.GameCancelled:
		err = p.engine.CancelGame(e.Game)
	case *event.MarketCancelled:
		err = p.engine.CancelMarket(e.Key)
	case *event.CapsUpdated:
		err = p.engine.UpdateCaps(&risk.SportCaps{
			Sport:              e.Sport,
			MaxRiskPerPosition: e.MaxRiskPerPosition,
			MaxSpendPerGame:    e.MaxSpendPerGame,
			MaxSpendPerSport:   e.MaxSpendPerSport,
			SGPCapDivider:      e.SGPCapDivider,
			CombiningEnabled:   e.CombiningEnabled,
		})
	default:
		return fmt.Errorf("unhandled event type %s", evt.EventType())
	}
	if err != nil {
		return err
	}

	p.dedup.Add(key)
	return nil
}
