package risk

import "fmt"

// SportCaps defines risk limits for one sport. Amounts are fixed-point
// quote units (scale 1_000_000).
type SportCaps struct {
	Sport              string
	MaxRiskPerPosition int64 // cap on signed exposure per (game, type, player, position)
	MaxSpendPerGame    int64 // cap on aggregate risk credited to one game
	MaxSpendPerSport   int64 // cap on aggregate risk across the sport
	SGPCapDivider      int64 // SGP bucket cap = MaxSpendPerGame / SGPCapDivider
	CombiningEnabled   bool  // same-game legs allowed on one ticket (SGP)
}

var DefaultSportCaps = map[string]*SportCaps{
	"basketball": {
		Sport:              "basketball",
		MaxRiskPerPosition: 5_000_000_000,  // 5,000
		MaxSpendPerGame:    20_000_000_000, // 20,000
		MaxSpendPerSport:   200_000_000_000,
		SGPCapDivider:      4,
		CombiningEnabled:   true,
	},
	"football": {
		Sport:              "football",
		MaxRiskPerPosition: 5_000_000_000,
		MaxSpendPerGame:    20_000_000_000,
		MaxSpendPerSport:   200_000_000_000,
		SGPCapDivider:      4,
		CombiningEnabled:   true,
	},
}

// ValidateSportCaps checks that cap parameters are internally consistent.
func ValidateSportCaps(caps *SportCaps) error {
	if caps.Sport == "" {
		return fmt.Errorf("sport name required")
	}
	if caps.MaxRiskPerPosition <= 0 {
		return fmt.Errorf("max_risk_per_position must be > 0, got %d", caps.MaxRiskPerPosition)
	}
	if caps.MaxSpendPerGame < caps.MaxRiskPerPosition {
		return fmt.Errorf("max_spend_per_game (%d) must be >= max_risk_per_position (%d)",
			caps.MaxSpendPerGame, caps.MaxRiskPerPosition)
	}
	if caps.MaxSpendPerSport < caps.MaxSpendPerGame {
		return fmt.Errorf("max_spend_per_sport (%d) must be >= max_spend_per_game (%d)",
			caps.MaxSpendPerSport, caps.MaxSpendPerGame)
	}
	if caps.SGPCapDivider <= 0 {
		return fmt.Errorf("sgp_cap_divider must be > 0, got %d", caps.SGPCapDivider)
	}
	return nil
}

// CapsManager manages per-sport risk caps and the system-bet combination
// bound. Unknown sports fall back to Fallback.
type CapsManager struct {
	caps     map[string]*SportCaps
	fallback *SportCaps

	// MaxSystemCombinations bounds C(n, k) for k-of-n system bets so that
	// worst-case settlement work stays bounded.
	MaxSystemCombinations int64
}

func NewCapsManager() *CapsManager {
	caps := make(map[string]*SportCaps)
	for k, v := range DefaultSportCaps {
		c := *v
		caps[k] = &c
	}
	return &CapsManager{
		caps: caps,
		fallback: &SportCaps{
			Sport:              "*",
			MaxRiskPerPosition: 1_000_000_000, // 1,000
			MaxSpendPerGame:    5_000_000_000,
			MaxSpendPerSport:   50_000_000_000,
			SGPCapDivider:      4,
			CombiningEnabled:   false,
		},
		MaxSystemCombinations: 500,
	}
}

// For returns the caps for a sport, falling back to defaults.
func (cm *CapsManager) For(sport string) *SportCaps {
	if caps, ok := cm.caps[sport]; ok {
		return caps
	}
	return cm.fallback
}

// Update installs new caps for a sport after validation.
func (cm *CapsManager) Update(caps *SportCaps) error {
	if err := ValidateSportCaps(caps); err != nil {
		return fmt.Errorf("invalid caps for %s: %w", caps.Sport, err)
	}
	c := *caps
	cm.caps[caps.Sport] = &c
	return nil
}

// SGPCap returns the aggregate cap for one SGP combination bucket.
func (c *SportCaps) SGPCap() int64 {
	return c.MaxSpendPerGame / c.SGPCapDivider
}
