package risk_test

import (
	"fmt"
	"testing"
	"time"

	"ParlayPool/internal/market"
	"ParlayPool/internal/risk"
)

func newTestCatalog(t *testing.T, games ...market.GameInfo) *market.Catalog {
	t.Helper()
	catalog := market.NewCatalog()
	for _, g := range games {
		if g.Maturity.IsZero() {
			g.Maturity = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
		}
		if err := catalog.RegisterGame(g); err != nil {
			t.Fatalf("register game %s: %v", g.Game, err)
		}
	}
	return catalog
}

func basketballGame(id string) market.GameInfo {
	return market.GameInfo{Game: market.GameID(id), Sport: "basketball", PositionCount: 2}
}

// ============================================================
// Reserve / Release symmetry
// ============================================================

func TestReserveSingleLeg(t *testing.T) {
	catalog := newTestCatalog(t, basketballGame("g1"))
	ledger := risk.NewExposureLedger(catalog, risk.NewCapsManager())

	leg := market.Leg{Game: "g1", TypeID: 1, Position: 0, Odds: 500_000}
	res, status := ledger.Reserve([]market.Leg{leg}, 10_000_000, false, 0)
	if status != risk.StatusNoRisk {
		t.Fatalf("reserve status = %s, want NoRisk", status)
	}

	// Odds 0.5 on a 10 buy-in: payout 20, leg risk 10 on the selected
	// position, -10 stake debit on the sibling.
	if got := ledger.RiskPerPosition(leg.Key(), 0); got != 10_000_000 {
		t.Errorf("selected position risk = %d, want 10_000_000", got)
	}
	if got := ledger.RiskPerPosition(leg.Key(), 1); got != -10_000_000 {
		t.Errorf("sibling position risk = %d, want -10_000_000", got)
	}
	if got := ledger.SpentOnGame("g1"); got != 10_000_000 {
		t.Errorf("game spend = %d, want 10_000_000", got)
	}
	if got := ledger.SpentOnSport("basketball"); got != 10_000_000 {
		t.Errorf("sport spend = %d, want 10_000_000", got)
	}

	if err := ledger.Release(res); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := ledger.RiskPerPosition(leg.Key(), 0); got != 0 {
		t.Errorf("position risk after release = %d, want 0", got)
	}
	if got := ledger.SpentOnGame("g1"); got != 0 {
		t.Errorf("game spend after release = %d, want 0", got)
	}
	if got := ledger.SpentOnSport("basketball"); got != 0 {
		t.Errorf("sport spend after release = %d, want 0", got)
	}
}

func TestReleaseTwiceFails(t *testing.T) {
	catalog := newTestCatalog(t, basketballGame("g1"))
	ledger := risk.NewExposureLedger(catalog, risk.NewCapsManager())

	leg := market.Leg{Game: "g1", TypeID: 1, Position: 0, Odds: 500_000}
	res, status := ledger.Reserve([]market.Leg{leg}, 10_000_000, false, 0)
	if status != risk.StatusNoRisk {
		t.Fatalf("reserve status = %s", status)
	}
	if err := ledger.Release(res); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := ledger.Release(res); err == nil {
		t.Error("second release succeeded, want error")
	}
	if err := ledger.Release(nil); err == nil {
		t.Error("nil release succeeded, want error")
	}
}

func TestReserveParlaySplitsShares(t *testing.T) {
	catalog := newTestCatalog(t, basketballGame("g1"), basketballGame("g2"))
	ledger := risk.NewExposureLedger(catalog, risk.NewCapsManager())

	legs := []market.Leg{
		{Game: "g1", TypeID: 1, Position: 0, Odds: 500_000},
		{Game: "g2", TypeID: 1, Position: 1, Odds: 250_000},
	}
	_, status := ledger.Reserve(legs, 10_000_000, false, 0)
	if status != risk.StatusNoRisk {
		t.Fatalf("reserve status = %s", status)
	}

	// Buy-in splits 5 + 5. Leg one risks 5 at odds 0.5; leg two risks 15
	// at odds 0.25.
	if got := ledger.RiskPerPosition(legs[0].Key(), 0); got != 5_000_000 {
		t.Errorf("g1 position risk = %d, want 5_000_000", got)
	}
	if got := ledger.RiskPerPosition(legs[1].Key(), 1); got != 15_000_000 {
		t.Errorf("g2 position risk = %d, want 15_000_000", got)
	}
	if got := ledger.SpentOnGame("g2"); got != 15_000_000 {
		t.Errorf("g2 spend = %d, want 15_000_000", got)
	}
	if got := ledger.SpentOnSport("basketball"); got != 20_000_000 {
		t.Errorf("sport spend = %d, want 20_000_000", got)
	}
}

func TestReserveSystemScalesShares(t *testing.T) {
	catalog := newTestCatalog(t, basketballGame("g1"), basketballGame("g2"))
	ledger := risk.NewExposureLedger(catalog, risk.NewCapsManager())

	legs := []market.Leg{
		{Game: "g1", TypeID: 1, Position: 0, Odds: 500_000},
		{Game: "g2", TypeID: 1, Position: 0, Odds: 500_000},
	}
	// 1-of-2 system: only half of each per-leg share rides on each leg.
	_, status := ledger.Reserve(legs, 10_000_000, true, 1)
	if status != risk.StatusNoRisk {
		t.Fatalf("reserve status = %s", status)
	}
	if got := ledger.RiskPerPosition(legs[0].Key(), 0); got != 2_500_000 {
		t.Errorf("system leg risk = %d, want 2_500_000", got)
	}
}

// ============================================================
// Rejection totality
// ============================================================

func TestReserveCapExceededLeavesNoTrace(t *testing.T) {
	catalog := newTestCatalog(t, basketballGame("g1"))
	caps := risk.NewCapsManager()
	ledger := risk.NewExposureLedger(catalog, caps)

	// Per-position cap for basketball is 5,000. Odds 0.5 risks the full
	// buy-in, so a 6,000 buy-in busts it.
	leg := market.Leg{Game: "g1", TypeID: 1, Position: 0, Odds: 500_000}
	res, status := ledger.Reserve([]market.Leg{leg}, 6_000_000_000, false, 0)
	if status != risk.StatusCapExceeded {
		t.Fatalf("reserve status = %s, want CapExceeded", status)
	}
	if res != nil {
		t.Error("rejected reserve returned a reservation")
	}
	if got := ledger.RiskPerPosition(leg.Key(), 0); got != 0 {
		t.Errorf("position risk after rejection = %d, want 0", got)
	}
	if got := ledger.SpentOnGame("g1"); got != 0 {
		t.Errorf("game spend after rejection = %d, want 0", got)
	}
}

func TestReserveValidationRejections(t *testing.T) {
	catalog := newTestCatalog(t, basketballGame("g1"))
	ledger := risk.NewExposureLedger(catalog, risk.NewCapsManager())

	valid := market.Leg{Game: "g1", TypeID: 1, Position: 0, Odds: 500_000}

	if _, status := ledger.Reserve(nil, 10_000_000, false, 0); status != risk.StatusInvalidCombination {
		t.Errorf("empty legs status = %s, want InvalidCombination", status)
	}
	if _, status := ledger.Reserve([]market.Leg{valid}, 0, false, 0); status != risk.StatusInvalidCombination {
		t.Errorf("zero buy-in status = %s, want InvalidCombination", status)
	}

	badOdds := valid
	badOdds.Odds = 0
	if _, status := ledger.Reserve([]market.Leg{badOdds}, 10_000_000, false, 0); status != risk.StatusInvalidOdds {
		t.Errorf("zero odds status = %s, want InvalidOdds", status)
	}
	badOdds.Odds = 1_000_001
	if _, status := ledger.Reserve([]market.Leg{badOdds}, 10_000_000, false, 0); status != risk.StatusInvalidOdds {
		t.Errorf("odds above 1.0 status = %s, want InvalidOdds", status)
	}

	unknown := valid
	unknown.Game = "nope"
	if _, status := ledger.Reserve([]market.Leg{unknown}, 10_000_000, false, 0); status != risk.StatusUnknownMarket {
		t.Errorf("unknown game status = %s, want UnknownMarket", status)
	}
}

func TestReserveDuplicatePlayer(t *testing.T) {
	catalog := newTestCatalog(t, basketballGame("g1"))
	ledger := risk.NewExposureLedger(catalog, risk.NewCapsManager())

	legs := []market.Leg{
		{Game: "g1", TypeID: 10, Player: "jones", Position: 0, Odds: 500_000},
		{Game: "g1", TypeID: 11, Player: "jones", Position: 1, Odds: 500_000},
	}
	if _, status := ledger.Reserve(legs, 10_000_000, false, 0); status != risk.StatusDuplicatePlayer {
		t.Errorf("duplicate player status = %s, want DuplicatePlayer", status)
	}
}

func TestReserveCombiningDisabledSport(t *testing.T) {
	// Unknown sports use the fallback caps, which disallow combining.
	catalog := newTestCatalog(t, market.GameInfo{Game: "g1", Sport: "curling", PositionCount: 2})
	ledger := risk.NewExposureLedger(catalog, risk.NewCapsManager())

	legs := []market.Leg{
		{Game: "g1", TypeID: 1, Position: 0, Odds: 500_000},
		{Game: "g1", TypeID: 2, Position: 0, Odds: 500_000},
	}
	if _, status := ledger.Reserve(legs, 10_000_000, false, 0); status != risk.StatusInvalidCombination {
		t.Errorf("same-game legs without combining status = %s, want InvalidCombination", status)
	}
}

func TestReserveSystemValidation(t *testing.T) {
	games := make([]market.GameInfo, 20)
	for i := range games {
		games[i] = basketballGame(fmt.Sprintf("g%d", i))
	}
	catalog := newTestCatalog(t, games...)
	ledger := risk.NewExposureLedger(catalog, risk.NewCapsManager())

	legs := make([]market.Leg, 20)
	for i := range legs {
		legs[i] = market.Leg{Game: market.GameID(fmt.Sprintf("g%d", i)), TypeID: 1, Position: 0, Odds: 900_000}
	}

	if _, status := ledger.Reserve(legs[:3], 10_000_000, true, 0); status != risk.StatusInvalidCombination {
		t.Errorf("k=0 status = %s, want InvalidCombination", status)
	}
	if _, status := ledger.Reserve(legs[:3], 10_000_000, true, 4); status != risk.StatusInvalidCombination {
		t.Errorf("k>n status = %s, want InvalidCombination", status)
	}
	// C(20,10) = 184756 blows past the combination bound.
	if _, status := ledger.Reserve(legs, 10_000_000, true, 10); status != risk.StatusTooManyCombinations {
		t.Errorf("C(20,10) status = %s, want TooManyCombinations", status)
	}
}

// ============================================================
// SGP buckets
// ============================================================

func TestSGPBucketCap(t *testing.T) {
	catalog := newTestCatalog(t, basketballGame("g1"))
	ledger := risk.NewExposureLedger(catalog, risk.NewCapsManager())

	legs := []market.Leg{
		{Game: "g1", TypeID: 10, Player: "jones", Position: 0, Odds: 800_000},
		{Game: "g1", TypeID: 11, Player: "smith", Position: 0, Odds: 800_000},
	}

	// SGP bucket cap for basketball is 20,000 / 4 = 5,000. The full
	// buy-in counts against the bucket, not the leg risk.
	if _, status := ledger.Reserve(legs, 6_000_000_000, false, 0); status != risk.StatusSGPCapExceeded {
		t.Fatalf("over-cap SGP status = %s, want SGPCapExceeded", status)
	}

	res, status := ledger.Reserve(legs, 4_000_000_000, false, 0)
	if status != risk.StatusNoRisk {
		t.Fatalf("under-cap SGP status = %s", status)
	}
	hash := risk.SGPHash("g1", legs)
	if got := ledger.SGPSpent(hash); got != 4_000_000_000 {
		t.Errorf("SGP bucket spend = %d, want 4_000_000_000", got)
	}

	// A second ticket on the same combination shares the bucket and may
	// not push it past the cap.
	if _, status := ledger.Reserve(legs, 2_000_000_000, false, 0); status != risk.StatusSGPCapExceeded {
		t.Errorf("second ticket status = %s, want SGPCapExceeded", status)
	}

	if err := ledger.Release(res); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := ledger.SGPSpent(hash); got != 0 {
		t.Errorf("SGP bucket spend after release = %d, want 0", got)
	}
}

func TestSGPHashOrderIndependent(t *testing.T) {
	legs := []market.Leg{
		{Game: "g1", TypeID: 10, Player: "jones", Position: 0, Odds: 800_000},
		{Game: "g1", TypeID: 11, Player: "smith", Position: 1, Odds: 700_000},
	}
	reversed := []market.Leg{legs[1], legs[0]}
	if risk.SGPHash("g1", legs) != risk.SGPHash("g1", reversed) {
		t.Error("SGP hash depends on leg order")
	}

	other := []market.Leg{legs[0], {Game: "g1", TypeID: 11, Player: "smith", Position: 0, Odds: 700_000}}
	if risk.SGPHash("g1", legs) == risk.SGPHash("g1", other) {
		t.Error("distinct combinations share an SGP hash")
	}
}

func TestSGPGroupsOnlyMultiLegGames(t *testing.T) {
	legs := []market.Leg{
		{Game: "g1", TypeID: 10, Player: "jones", Position: 0, Odds: 800_000},
		{Game: "g1", TypeID: 11, Player: "smith", Position: 0, Odds: 800_000},
		{Game: "g2", TypeID: 1, Position: 0, Odds: 500_000},
	}
	groups := risk.SGPGroups(legs)
	if len(groups) != 1 {
		t.Fatalf("group count = %d, want 1", len(groups))
	}
	if _, ok := groups["g1"]; !ok {
		t.Error("g1 missing from SGP groups")
	}
}

// ============================================================
// Remaining capacity
// ============================================================

func TestRemainingCapacity(t *testing.T) {
	catalog := newTestCatalog(t, basketballGame("g1"))
	ledger := risk.NewExposureLedger(catalog, risk.NewCapsManager())

	key := market.Key{Game: "g1", TypeID: 1}
	if got := ledger.RemainingCapacity(key, 0); got != 5_000_000_000 {
		t.Errorf("fresh capacity = %d, want 5_000_000_000", got)
	}

	leg := market.Leg{Game: "g1", TypeID: 1, Position: 0, Odds: 500_000}
	if _, status := ledger.Reserve([]market.Leg{leg}, 1_000_000_000, false, 0); status != risk.StatusNoRisk {
		t.Fatalf("reserve status = %s", status)
	}
	if got := ledger.RemainingCapacity(key, 0); got != 4_000_000_000 {
		t.Errorf("capacity after 1,000 risk = %d, want 4_000_000_000", got)
	}
	// The sibling position carries negative exposure, so its own headroom
	// grows, but game and sport room cap what it reports.
	if got := ledger.RemainingCapacity(key, 1); got != 6_000_000_000 {
		t.Errorf("sibling capacity = %d, want 6_000_000_000", got)
	}
}

func TestCapsManagerUpdate(t *testing.T) {
	caps := risk.NewCapsManager()

	bad := &risk.SportCaps{Sport: "hockey", MaxRiskPerPosition: 0}
	if err := caps.Update(bad); err == nil {
		t.Error("update with zero position cap succeeded, want error")
	}

	good := &risk.SportCaps{
		Sport:              "hockey",
		MaxRiskPerPosition: 1_000_000_000,
		MaxSpendPerGame:    4_000_000_000,
		MaxSpendPerSport:   40_000_000_000,
		SGPCapDivider:      4,
		CombiningEnabled:   true,
	}
	if err := caps.Update(good); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := caps.For("hockey").MaxSpendPerGame; got != 4_000_000_000 {
		t.Errorf("hockey game cap = %d, want 4_000_000_000", got)
	}
	if got := caps.For("hockey").SGPCap(); got != 1_000_000_000 {
		t.Errorf("hockey SGP cap = %d, want 1_000_000_000", got)
	}
}
