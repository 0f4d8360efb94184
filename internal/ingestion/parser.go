package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"ParlayPool/internal/event"
	"ParlayPool/internal/market"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into
// a typed event.Event. The ingestion shell validates, parses, and
// converts raw oracle messages before handing them to the engine.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "GameRegistered":
		return parseGameRegistered(raw.Data)
	case "ResultTypeRegistered":
		return parseResultTypeRegistered(raw.Data)
	case "MarketResults":
		return parseMarketResults(raw.Data)
	case "GameCancelled":
		return parseGameCancelled(raw.Data)
	case "MarketCancelled":
		return parseMarketCancelled(raw.Data)
	case "CapsUpdated":
		return parseCapsUpdated(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match the upstream oracle producers.

type gameRegisteredJSON struct {
	GameID        string `json:"game_id"`
	Sport         string `json:"sport"`
	MaturityUs    int64  `json:"maturity_us"`
	PositionCount int    `json:"position_count"`
	Sequence      int64  `json:"sequence"`
}

func parseGameRegistered(data []byte) (*event.GameRegistered, error) {
	var j gameRegisteredJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse GameRegistered: %w", err)
	}
	if j.GameID == "" {
		return nil, fmt.Errorf("parse GameRegistered: game_id required")
	}
	if j.Sport == "" {
		return nil, fmt.Errorf("parse GameRegistered: sport required")
	}
	if j.MaturityUs <= 0 {
		return nil, fmt.Errorf("parse GameRegistered: maturity_us required")
	}
	return &event.GameRegistered{
		Game:          market.GameID(j.GameID),
		Sport:         j.Sport,
		Maturity:      time.UnixMicro(j.MaturityUs),
		PositionCount: j.PositionCount,
		Sequence:      j.Sequence,
	}, nil
}

type resultTypeJSON struct {
	TypeID   uint32 `json:"type_id"`
	Kind     string `json:"kind"` // exact_position | over_under | spread | combined_positions
	Sequence int64  `json:"sequence"`
}

func parseResultTypeRegistered(data []byte) (*event.ResultTypeRegistered, error) {
	var j resultTypeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ResultTypeRegistered: %w", err)
	}
	kind, err := resultKindFromWire(j.Kind)
	if err != nil {
		return nil, fmt.Errorf("parse ResultTypeRegistered: %w", err)
	}
	return &event.ResultTypeRegistered{
		TypeID:   market.TypeID(j.TypeID),
		Kind:     kind,
		Sequence: j.Sequence,
	}, nil
}

func resultKindFromWire(s string) (market.ResultKind, error) {
	switch s {
	case "exact_position":
		return market.ResultKindExactPosition, nil
	case "over_under":
		return market.ResultKindOverUnder, nil
	case "spread":
		return market.ResultKindSpread, nil
	case "combined_positions":
		return market.ResultKindCombinedPositions, nil
	default:
		return market.ResultKindUnset, fmt.Errorf("unknown result kind %q", s)
	}
}

type marketKeyJSON struct {
	GameID string `json:"game_id"`
	TypeID uint32 `json:"type_id"`
	Player string `json:"player,omitempty"`
	Line   int64  `json:"line,omitempty"`
}

func (j marketKeyJSON) toKey() (market.Key, error) {
	if j.GameID == "" {
		return market.Key{}, fmt.Errorf("game_id required")
	}
	return market.Key{
		Game:   market.GameID(j.GameID),
		TypeID: market.TypeID(j.TypeID),
		Player: j.Player,
		Line:   j.Line,
	}, nil
}

type marketResultsJSON struct {
	Market      marketKeyJSON `json:"market"`
	Results     []uint32      `json:"results"`
	Sequence    int64         `json:"sequence"`
	TimestampUs int64         `json:"timestamp_us"`
}

func parseMarketResults(data []byte) (*event.MarketResults, error) {
	var j marketResultsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarketResults: %w", err)
	}
	key, err := j.Market.toKey()
	if err != nil {
		return nil, fmt.Errorf("parse MarketResults: %w", err)
	}
	if len(j.Results) == 0 {
		return nil, fmt.Errorf("parse MarketResults: results required")
	}
	results := make([]market.Position, len(j.Results))
	for i, r := range j.Results {
		results[i] = market.Position(r)
	}
	return &event.MarketResults{
		Key:       key,
		Results:   results,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type gameCancelledJSON struct {
	GameID      string `json:"game_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseGameCancelled(data []byte) (*event.GameCancelled, error) {
	var j gameCancelledJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse GameCancelled: %w", err)
	}
	if j.GameID == "" {
		return nil, fmt.Errorf("parse GameCancelled: game_id required")
	}
	return &event.GameCancelled{
		Game:      market.GameID(j.GameID),
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type marketCancelledJSON struct {
	Market      marketKeyJSON `json:"market"`
	Sequence    int64         `json:"sequence"`
	TimestampUs int64         `json:"timestamp_us"`
}

func parseMarketCancelled(data []byte) (*event.MarketCancelled, error) {
	var j marketCancelledJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarketCancelled: %w", err)
	}
	key, err := j.Market.toKey()
	if err != nil {
		return nil, fmt.Errorf("parse MarketCancelled: %w", err)
	}
	return &event.MarketCancelled{
		Key:       key,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type capsUpdatedJSON struct {
	Sport              string `json:"sport"`
	MaxRiskPerPosition int64  `json:"max_risk_per_position"`
	MaxSpendPerGame    int64  `json:"max_spend_per_game"`
	MaxSpendPerSport   int64  `json:"max_spend_per_sport"`
	SGPCapDivider      int64  `json:"sgp_cap_divider"`
	CombiningEnabled   bool   `json:"combining_enabled"`
	Sequence           int64  `json:"sequence"`
}

func parseCapsUpdated(data []byte) (*event.CapsUpdated, error) {
	var j capsUpdatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CapsUpdated: %w", err)
	}
	if j.Sport == "" {
		return nil, fmt.Errorf("parse CapsUpdated: sport required")
	}
	return &event.CapsUpdated{
		Sport:              j.Sport,
		MaxRiskPerPosition: j.MaxRiskPerPosition,
		MaxSpendPerGame:    j.MaxSpendPerGame,
		MaxSpendPerSport:   j.MaxSpendPerSport,
		SGPCapDivider:      j.SGPCapDivider,
		CombiningEnabled:   j.CombiningEnabled,
		Sequence:           j.Sequence,
	}, nil
}
