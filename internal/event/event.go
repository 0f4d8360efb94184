package event

// EventType discriminator for oracle feed payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeGameRegistered
	EventTypeResultTypeRegistered
	EventTypeMarketResults
	EventTypeGameCancelled
	EventTypeMarketCancelled
	EventTypeCapsUpdated
)

func (et EventType) String() string {
	switch et {
	case EventTypeGameRegistered:
		return "GameRegistered"
	case EventTypeResultTypeRegistered:
		return "ResultTypeRegistered"
	case EventTypeMarketResults:
		return "MarketResults"
	case EventTypeGameCancelled:
		return "GameCancelled"
	case EventTypeMarketCancelled:
		return "MarketCancelled"
	case EventTypeCapsUpdated:
		return "CapsUpdated"
	default:
		return "Unknown"
	}
}

// Event is the interface all oracle feed payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}
