package event

import "fmt"

// CapsUpdated installs new risk caps for a sport. Published by the risk
// desk on the admin subject; the engine validates before applying.
type CapsUpdated struct {
	Sport              string
	MaxRiskPerPosition int64
	MaxSpendPerGame    int64
	MaxSpendPerSport   int64
	SGPCapDivider      int64
	CombiningEnabled   bool
	Sequence           int64
}

func (c *CapsUpdated) IdempotencyKey() string {
	return fmt.Sprintf("caps:%s:%d", c.Sport, c.Sequence)
}

func (c *CapsUpdated) EventType() EventType { return EventTypeCapsUpdated }

func (c *CapsUpdated) SourceSequence() int64 { return c.Sequence }
