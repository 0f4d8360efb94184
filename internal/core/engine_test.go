package core_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"ParlayPool/internal/core"
	"ParlayPool/internal/market"
	"ParlayPool/internal/round"
	"ParlayPool/internal/ticket"
)

var (
	defaultProvider = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	providerA       = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	bettor          = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testEngineConfig() core.Config {
	return core.Config{
		Round: round.Config{
			RoundLength:     168 * time.Hour,
			MinDeposit:      100_000_000,
			MaxTotalDeposit: 10_000_000_000_000,
			MaxUsers:        100,
			SafeBoxImpact:   100_000, // 10%
			DefaultProvider: defaultProvider,
		},
		FeeFraction: 40_000, // 4%
		MaxPayout:   1_000_000_000_000,
	}
}

func newTestEngine(t *testing.T, outputs chan<- core.Output) (*core.Engine, *round.MemoryVault, *clock) {
	t.Helper()
	vault := round.NewMemoryVault()
	clk := &clock{t: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)}
	e := core.NewEngine(testEngineConfig(), core.Deps{
		Vault:   vault,
		Outputs: outputs,
		Now:     clk.now,
	})
	return e, vault, clk
}

func fund(t *testing.T, vault *round.MemoryVault, owner uuid.UUID, amount int64) {
	t.Helper()
	if err := vault.Transfer(round.AccountExternal, round.UserAccount(owner), amount); err != nil {
		t.Fatalf("fund %s: %v", owner, err)
	}
}

// startPool seeds one LP with 1,000 and opens the pool.
func startPool(t *testing.T, e *core.Engine, vault *round.MemoryVault) {
	t.Helper()
	fund(t, vault, providerA, 1_000_000_000)
	if err := e.Deposit(providerA, 1_000_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := e.StartPool(); err != nil {
		t.Fatalf("start pool: %v", err)
	}
}

func registerGame(t *testing.T, e *core.Engine, clk *clock, id string, maturityOffset time.Duration) {
	t.Helper()
	err := e.RegisterGame(market.GameInfo{
		Game:          market.GameID(id),
		Sport:         "basketball",
		Maturity:      clk.t.Add(maturityOffset),
		PositionCount: 2,
	})
	if err != nil {
		t.Fatalf("register game %s: %v", id, err)
	}
}

func singleLeg(game string, pos market.Position, odds int64) []market.Leg {
	return []market.Leg{{Game: market.GameID(game), TypeID: 1, Position: pos, Odds: odds}}
}

// placeBet funds the bettor and places a single-leg trade.
func placeBet(t *testing.T, e *core.Engine, vault *round.MemoryVault, legs []market.Leg, buyIn int64) *ticket.Ticket {
	t.Helper()
	fund(t, vault, bettor, buyIn)
	tk, err := e.PlaceTrade(core.TradeRequest{Owner: bettor, Legs: legs, BuyIn: buyIn})
	if err != nil {
		t.Fatalf("place trade: %v", err)
	}
	return tk
}

// reportWinner registers the result kind and reports one winning position.
func reportWinner(t *testing.T, e *core.Engine, game string, winner market.Position) {
	t.Helper()
	if err := e.SetResultTypeForMarketType(1, market.ResultKindExactPosition); err != nil {
		t.Fatalf("set result kind: %v", err)
	}
	key := market.Key{Game: market.GameID(game), TypeID: 1}
	if err := e.SetResultsForMarket(key, []market.Position{winner}); err != nil {
		t.Fatalf("set results: %v", err)
	}
}

// ============================================================
// Trade placement
// ============================================================

func TestPlaceTradeArithmetic(t *testing.T) {
	e, vault, clk := newTestEngine(t, nil)
	startPool(t, e, vault)
	registerGame(t, e, clk, "g1", 24*time.Hour)

	// Odds 0.5 on a 10 buy-in: payout 20, 4% fee 0.8, escrow 20.8,
	// pool debit 10.8.
	tk := placeBet(t, e, vault, singleLeg("g1", 0, 500_000), 10_000_000)

	if tk.ExpectedPayout != 20_800_000 {
		t.Errorf("escrow = %d, want 20_800_000", tk.ExpectedPayout)
	}
	if tk.Fee != 800_000 {
		t.Errorf("fee = %d, want 800_000", tk.Fee)
	}
	if tk.PoolDebit != 10_800_000 {
		t.Errorf("pool debit = %d, want 10_800_000", tk.PoolDebit)
	}
	if tk.Round != 1 {
		t.Errorf("round = %d, want 1", tk.Round)
	}
	if tk.State != ticket.StateTrading {
		t.Errorf("state = %s, want Trading", tk.State)
	}
	if tk.IsBackstopFunded() {
		t.Error("active-round ticket reports backstop funding")
	}

	info, ok := e.GetRoundInfo(1)
	if !ok {
		t.Fatal("round 1 missing")
	}
	if info.PoolBalance != 989_200_000 {
		t.Errorf("pool balance = %d, want 989_200_000", info.PoolBalance)
	}
	if info.OutstandingLiability != 20_800_000 {
		t.Errorf("liability = %d, want 20_800_000", info.OutstandingLiability)
	}
	if got := vault.Balance(round.AccountEscrow); got != 20_800_000 {
		t.Errorf("escrow account = %d, want 20_800_000", got)
	}
	if got := vault.Balance(round.UserAccount(bettor)); got != 0 {
		t.Errorf("bettor account = %d, want 0", got)
	}

	if got, ok := e.GetTicket(tk.ID); !ok || got.ID != tk.ID {
		t.Errorf("GetTicket = %v, %v", got, ok)
	}
	if r, ok := e.GetTicketRound(tk.ID); !ok || r != 1 {
		t.Errorf("GetTicketRound = %d, %v", r, ok)
	}
	if got := e.GetNumberOfTradingTicketsPerRound(1); got != 1 {
		t.Errorf("trading count = %d, want 1", got)
	}
}

func TestPlaceTradeRejectionLeavesNoTrace(t *testing.T) {
	e, vault, clk := newTestEngine(t, nil)
	startPool(t, e, vault)
	registerGame(t, e, clk, "g1", 24*time.Hour)

	fund(t, vault, bettor, 100_000_000)

	// Unknown game fails authentication.
	if _, err := e.PlaceTrade(core.TradeRequest{
		Owner: bettor, Legs: singleLeg("nope", 0, 500_000), BuyIn: 10_000_000,
	}); !errors.Is(err, core.ErrUnauthentic) {
		t.Errorf("unknown game: %v, want ErrUnauthentic", err)
	}

	// Out-of-range odds fail at the quote.
	if _, err := e.PlaceTrade(core.TradeRequest{
		Owner: bettor, Legs: singleLeg("g1", 0, 0), BuyIn: 10_000_000,
	}); err == nil {
		t.Error("zero odds accepted, want error")
	}

	// Per-position cap rejection: odds 0.5 risks the full buy-in against
	// the 5,000 basketball cap.
	fund(t, vault, bettor, 6_000_000_000)
	if _, err := e.PlaceTrade(core.TradeRequest{
		Owner: bettor, Legs: singleLeg("g1", 0, 500_000), BuyIn: 6_000_000_000,
	}); err == nil {
		t.Error("over-cap trade accepted, want error")
	}

	// Rejections are total: nothing moved, nothing reserved.
	if got := vault.Balance(round.UserAccount(bettor)); got != 6_100_000_000 {
		t.Errorf("bettor account = %d, want 6_100_000_000", got)
	}
	if got := vault.Balance(round.AccountEscrow); got != 0 {
		t.Errorf("escrow account = %d, want 0", got)
	}
	info, _ := e.GetRoundInfo(1)
	if info.PoolBalance != 1_000_000_000 || info.OutstandingLiability != 0 {
		t.Errorf("round state = %d/%d, want untouched", info.PoolBalance, info.OutstandingLiability)
	}
	if got := e.GetNumberOfTradingTicketsPerRound(1); got != 0 {
		t.Errorf("trading count = %d, want 0", got)
	}
}

func TestPlaceTradeInsufficientLiquidity(t *testing.T) {
	e, vault, clk := newTestEngine(t, nil)
	fund(t, vault, providerA, 100_000_000)
	if err := e.Deposit(providerA, 100_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := e.StartPool(); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	registerGame(t, e, clk, "g1", 24*time.Hour)

	// Escrow 416, debit 216 against a 100 pool.
	fund(t, vault, bettor, 200_000_000)
	_, err := e.PlaceTrade(core.TradeRequest{
		Owner: bettor, Legs: singleLeg("g1", 0, 500_000), BuyIn: 200_000_000,
	})
	if !errors.Is(err, round.ErrInsufficientLiquidity) {
		t.Fatalf("thin-pool trade: %v, want ErrInsufficientLiquidity", err)
	}

	// Buy-in rolled back, exposure released.
	if got := vault.Balance(round.UserAccount(bettor)); got != 200_000_000 {
		t.Errorf("bettor account = %d, want 200_000_000", got)
	}
	results := e.GetMaxStakeAndLiquidityBatch([]core.CapacityQuery{
		{Market: market.Key{Game: "g1", TypeID: 1}, Position: 0, Odds: 500_000},
	})
	if results[0].RiskCapacity != 5_000_000_000 {
		t.Errorf("risk capacity = %d, want full 5_000_000_000", results[0].RiskCapacity)
	}
}

func TestPlaceTradeFutureRoundDrawsBackstop(t *testing.T) {
	e, vault, clk := newTestEngine(t, nil)
	startPool(t, e, vault)
	// The game matures after round 1 ends, so round 2 funds the ticket.
	registerGame(t, e, clk, "g-next", 169*time.Hour)

	tk := placeBet(t, e, vault, singleLeg("g-next", 0, 500_000), 10_000_000)

	if tk.Round != 2 {
		t.Errorf("round = %d, want 2", tk.Round)
	}
	if !tk.IsBackstopFunded() || tk.BackstopRef != defaultProvider {
		t.Errorf("backstop ref = %s, want default provider", tk.BackstopRef)
	}
	// Round 2 had no deposits: the whole 10.8 debit is a backstop draw
	// booked as the default provider's stake.
	if got := e.ProviderBalance(2, defaultProvider); got != 10_800_000 {
		t.Errorf("default provider stake = %d, want 10_800_000", got)
	}
	if got := vault.Balance(round.AccountBackstop); got != -10_800_000 {
		t.Errorf("backstop account = %d, want -10_800_000", got)
	}
	// Round 1 untouched.
	info, _ := e.GetRoundInfo(1)
	if info.PoolBalance != 1_000_000_000 {
		t.Errorf("round 1 pool = %d, want 1_000_000_000", info.PoolBalance)
	}
}

// ============================================================
// Settlement
// ============================================================

func TestLossSettlementSweepsEscrowToPool(t *testing.T) {
	e, vault, clk := newTestEngine(t, nil)
	startPool(t, e, vault)
	registerGame(t, e, clk, "g1", 24*time.Hour)

	tk := placeBet(t, e, vault, singleLeg("g1", 0, 500_000), 10_000_000)
	reportWinner(t, e, "g1", 1)

	settled, err := e.ExerciseTicketsReadyBatch(10)
	if err != nil {
		t.Fatalf("exercise: %v", err)
	}
	if settled != 1 {
		t.Fatalf("settled = %d, want 1", settled)
	}

	// The whole escrow returns: the round nets +10, the bettor's stake.
	info, _ := e.GetRoundInfo(1)
	if info.PoolBalance != 1_010_000_000 {
		t.Errorf("pool balance = %d, want 1_010_000_000", info.PoolBalance)
	}
	if info.OutstandingLiability != 0 {
		t.Errorf("liability = %d, want 0", info.OutstandingLiability)
	}
	if got := vault.Balance(round.AccountEscrow); got != 0 {
		t.Errorf("escrow account = %d, want 0", got)
	}
	if got := vault.Balance(round.UserAccount(bettor)); got != 0 {
		t.Errorf("bettor account = %d, want 0", got)
	}

	got, ok := e.GetTicket(tk.ID)
	if !ok || got.State != ticket.StateResolved {
		t.Errorf("ticket after loss: %v, %v, want Resolved in history", got, ok)
	}
	if e.GetNumberOfTradingTicketsPerRound(1) != 0 {
		t.Error("trading count nonzero after settlement")
	}
}

func TestWinSettlementPaysCommittedPayout(t *testing.T) {
	e, vault, clk := newTestEngine(t, nil)
	startPool(t, e, vault)
	registerGame(t, e, clk, "g1", 24*time.Hour)

	placeBet(t, e, vault, singleLeg("g1", 0, 500_000), 10_000_000)
	reportWinner(t, e, "g1", 0)

	settled, err := e.ExerciseTicketsReadyBatch(10)
	if err != nil {
		t.Fatalf("exercise: %v", err)
	}
	if settled != 1 {
		t.Fatalf("settled = %d, want 1", settled)
	}

	// Bettor receives the 20 committed payout, the fee lands in the fee
	// account, and the pool eats the 10.8 debit it funded.
	if got := vault.Balance(round.UserAccount(bettor)); got != 20_000_000 {
		t.Errorf("bettor account = %d, want 20_000_000", got)
	}
	if got := vault.Balance(round.AccountFees); got != 800_000 {
		t.Errorf("fee account = %d, want 800_000", got)
	}
	info, _ := e.GetRoundInfo(1)
	if info.PoolBalance != 989_200_000 {
		t.Errorf("pool balance = %d, want 989_200_000", info.PoolBalance)
	}
	if got := vault.Balance(round.AccountEscrow); got != 0 {
		t.Errorf("escrow account = %d, want 0", got)
	}
}

func TestVoidedLegDropsOutAtStakeOdds(t *testing.T) {
	e, vault, clk := newTestEngine(t, nil)
	startPool(t, e, vault)
	registerGame(t, e, clk, "g1", 24*time.Hour)
	registerGame(t, e, clk, "g2", 24*time.Hour)

	// Two legs at 0.5 each: payout 40, fee 1.6, escrow 41.6.
	legs := []market.Leg{
		{Game: "g1", TypeID: 1, Position: 0, Odds: 500_000},
		{Game: "g2", TypeID: 1, Position: 0, Odds: 500_000},
	}
	placeBet(t, e, vault, legs, 10_000_000)

	reportWinner(t, e, "g1", 0)
	if err := e.CancelGame("g2"); err != nil {
		t.Fatalf("cancel game: %v", err)
	}

	if _, err := e.ExerciseTicketsReadyBatch(10); err != nil {
		t.Fatalf("exercise: %v", err)
	}

	// The voided leg's 1/0.5 factor is undone: 40 * 0.5 = 20 paid.
	if got := vault.Balance(round.UserAccount(bettor)); got != 20_000_000 {
		t.Errorf("bettor account = %d, want 20_000_000", got)
	}
	if got := vault.Balance(round.AccountFees); got != 1_600_000 {
		t.Errorf("fee account = %d, want 1_600_000", got)
	}
}

func TestAllVoidedRefundsBuyIn(t *testing.T) {
	e, vault, clk := newTestEngine(t, nil)
	startPool(t, e, vault)
	registerGame(t, e, clk, "g1", 24*time.Hour)

	placeBet(t, e, vault, singleLeg("g1", 0, 500_000), 10_000_000)
	if err := e.CancelGame("g1"); err != nil {
		t.Fatalf("cancel game: %v", err)
	}

	if _, err := e.ExerciseTicketsReadyBatch(10); err != nil {
		t.Fatalf("exercise: %v", err)
	}
	if got := vault.Balance(round.UserAccount(bettor)); got != 10_000_000 {
		t.Errorf("refund = %d, want buy-in 10_000_000", got)
	}
}

func TestSystemSettlement(t *testing.T) {
	e, vault, clk := newTestEngine(t, nil)
	startPool(t, e, vault)
	registerGame(t, e, clk, "g1", 24*time.Hour)
	registerGame(t, e, clk, "g2", 24*time.Hour)

	// 1-of-2 system at 0.5 each: headline payout 40 * 1/2 = 20, fee 0.8.
	legs := []market.Leg{
		{Game: "g1", TypeID: 1, Position: 0, Odds: 500_000},
		{Game: "g2", TypeID: 1, Position: 0, Odds: 500_000},
	}
	fund(t, vault, bettor, 10_000_000)
	tk, err := e.PlaceTrade(core.TradeRequest{
		Owner: bettor, Legs: legs, BuyIn: 10_000_000, IsSystem: true, RequiredCorrect: 1,
	})
	if err != nil {
		t.Fatalf("place trade: %v", err)
	}
	if tk.ExpectedPayout != 20_800_000 {
		t.Errorf("escrow = %d, want 20_800_000", tk.ExpectedPayout)
	}

	// Leg one wins, leg two loses: the {g1} mini-parlay pays its 5 stake
	// at 0.5 = 10, the {g2} one pays nothing.
	reportWinner(t, e, "g1", 0)
	key := market.Key{Game: "g2", TypeID: 1}
	if err := e.SetResultsForMarket(key, []market.Position{1}); err != nil {
		t.Fatalf("set results: %v", err)
	}

	if _, err := e.ExerciseTicketsReadyBatch(10); err != nil {
		t.Fatalf("exercise: %v", err)
	}
	if got := vault.Balance(round.UserAccount(bettor)); got != 10_000_000 {
		t.Errorf("bettor account = %d, want 10_000_000", got)
	}
	if got := vault.Balance(round.AccountFees); got != 800_000 {
		t.Errorf("fee account = %d, want 800_000", got)
	}
}

func TestExerciseBatchSkipsPendingTickets(t *testing.T) {
	e, vault, clk := newTestEngine(t, nil)
	startPool(t, e, vault)
	registerGame(t, e, clk, "g1", 24*time.Hour)
	registerGame(t, e, clk, "g2", 24*time.Hour)

	placeBet(t, e, vault, singleLeg("g1", 0, 500_000), 10_000_000)
	placeBet(t, e, vault, singleLeg("g2", 0, 500_000), 10_000_000)

	reportWinner(t, e, "g1", 1)
	settled, err := e.ExerciseTicketsReadyBatch(10)
	if err != nil {
		t.Fatalf("exercise: %v", err)
	}
	if settled != 1 {
		t.Errorf("settled = %d, want 1", settled)
	}
	if got := e.GetNumberOfTradingTicketsPerRound(1); got != 1 {
		t.Errorf("pending tickets = %d, want 1", got)
	}

	key := market.Key{Game: "g2", TypeID: 1}
	if err := e.SetResultsForMarket(key, []market.Position{1}); err != nil {
		t.Fatalf("set results: %v", err)
	}
	if settled, err = e.ExerciseTicketsReadyBatch(10); err != nil || settled != 1 {
		t.Errorf("second batch = %d, %v, want 1", settled, err)
	}

	if _, err := e.ExerciseTicketsReadyBatch(0); !errors.Is(err, core.ErrBatchSizeZero) {
		t.Errorf("zero batch: %v, want ErrBatchSizeZero", err)
	}
}

func TestMarkTicketLost(t *testing.T) {
	e, vault, clk := newTestEngine(t, nil)
	startPool(t, e, vault)
	registerGame(t, e, clk, "g1", 24*time.Hour)

	tk := placeBet(t, e, vault, singleLeg("g1", 0, 500_000), 10_000_000)

	if err := e.MarkTicketLost(uuid.New()); !errors.Is(err, core.ErrUnknownTicket) {
		t.Errorf("unknown ticket: %v, want ErrUnknownTicket", err)
	}
	if err := e.MarkTicketLost(tk.ID); err != nil {
		t.Fatalf("mark lost: %v", err)
	}

	info, _ := e.GetRoundInfo(1)
	if info.PoolBalance != 1_010_000_000 {
		t.Errorf("pool balance = %d, want 1_010_000_000", info.PoolBalance)
	}
	got, ok := e.GetTicket(tk.ID)
	if !ok || got.State != ticket.StateMarkedLost {
		t.Errorf("ticket state = %v, %v, want MarkedLost", got, ok)
	}
	if err := e.MarkTicketLost(tk.ID); !errors.Is(err, core.ErrUnknownTicket) {
		t.Errorf("marking twice: %v, want ErrUnknownTicket", err)
	}
}

// ============================================================
// Cancellation
// ============================================================

func TestCancelTradeAtUnchangedOdds(t *testing.T) {
	e, vault, clk := newTestEngine(t, nil)
	startPool(t, e, vault)
	registerGame(t, e, clk, "g1", 24*time.Hour)

	tk := placeBet(t, e, vault, singleLeg("g1", 0, 500_000), 10_000_000)

	if _, err := e.CancelTrade(uuid.New(), []int64{500_000}); !errors.Is(err, core.ErrUnknownTicket) {
		t.Errorf("unknown ticket: %v, want ErrUnknownTicket", err)
	}
	if _, err := e.CancelTrade(tk.ID, []int64{500_000, 400_000}); !errors.Is(err, core.ErrLegCountChange) {
		t.Errorf("leg count mismatch: %v, want ErrLegCountChange", err)
	}

	// Same odds: refund the buy-in less a doubled 4% fee.
	refund, err := e.CancelTrade(tk.ID, []int64{500_000})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if refund != 9_200_000 {
		t.Errorf("refund = %d, want 9_200_000", refund)
	}
	if got := vault.Balance(round.UserAccount(bettor)); got != 9_200_000 {
		t.Errorf("bettor account = %d, want 9_200_000", got)
	}
	if got := vault.Balance(round.AccountFees); got != 800_000 {
		t.Errorf("fee account = %d, want 800_000", got)
	}
	// The remainder restores the pool to its pre-trade balance.
	info, _ := e.GetRoundInfo(1)
	if info.PoolBalance != 1_000_000_000 {
		t.Errorf("pool balance = %d, want 1_000_000_000", info.PoolBalance)
	}
	got, ok := e.GetTicket(tk.ID)
	if !ok || got.State != ticket.StateCancelled {
		t.Errorf("ticket state = %v, %v, want Cancelled", got, ok)
	}
}

func TestCancelTradeScalesRefundWhenOddsImprove(t *testing.T) {
	e, vault, clk := newTestEngine(t, nil)
	startPool(t, e, vault)
	registerGame(t, e, clk, "g1", 24*time.Hour)

	tk := placeBet(t, e, vault, singleLeg("g1", 0, 500_000), 10_000_000)

	// Odds shortened to 0.4: the same legs would now pay 25, above the
	// 20 committed, so the refund base scales down to 10 * 20/25 = 8.
	refund, err := e.CancelTrade(tk.ID, []int64{400_000})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if refund != 7_360_000 {
		t.Errorf("refund = %d, want 7_360_000 (8 less doubled fee)", refund)
	}
	if got := vault.Balance(round.AccountFees); got != 640_000 {
		t.Errorf("fee account = %d, want 640_000", got)
	}
}

func TestCancelTradeKeepsBaseWhenOddsWorsen(t *testing.T) {
	e, vault, clk := newTestEngine(t, nil)
	startPool(t, e, vault)
	registerGame(t, e, clk, "g1", 24*time.Hour)

	tk := placeBet(t, e, vault, singleLeg("g1", 0, 500_000), 10_000_000)

	// Odds drifted to 0.6: the current payout is below the committed one,
	// so the full buy-in stays the refund base.
	refund, err := e.CancelTrade(tk.ID, []int64{600_000})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if refund != 9_200_000 {
		t.Errorf("refund = %d, want 9_200_000", refund)
	}
}

// ============================================================
// Vault failure recovery
// ============================================================

// faultyVault wraps the memory vault and fails every transfer while
// tripped.
type faultyVault struct {
	*round.MemoryVault
	tripped bool
}

func (v *faultyVault) Transfer(from, to round.Account, amount int64) error {
	if v.tripped {
		return errors.New("collateral ledger unavailable")
	}
	return v.MemoryVault.Transfer(from, to, amount)
}

func newFaultyVaultEngine(t *testing.T) (*core.Engine, *faultyVault, *clock) {
	t.Helper()
	vault := &faultyVault{MemoryVault: round.NewMemoryVault()}
	clk := &clock{t: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)}
	e := core.NewEngine(testEngineConfig(), core.Deps{
		Vault: vault,
		Now:   clk.now,
	})
	return e, vault, clk
}

func TestCancelTradeVaultFailureLeavesTicketLive(t *testing.T) {
	e, vault, clk := newFaultyVaultEngine(t)
	startPool(t, e, vault.MemoryVault)
	registerGame(t, e, clk, "g1", 24*time.Hour)

	tk := placeBet(t, e, vault.MemoryVault, singleLeg("g1", 0, 500_000), 10_000_000)

	vault.tripped = true
	if _, err := e.CancelTrade(tk.ID, []int64{500_000}); err == nil {
		t.Fatal("cancel succeeded with a failing vault")
	}
	if tk.State != ticket.StateTrading {
		t.Fatalf("state after failed cancel = %s, want Trading", tk.State)
	}
	if got := e.GetNumberOfTradingTicketsPerRound(1); got != 1 {
		t.Errorf("trading count after failed cancel = %d, want 1", got)
	}

	// The retry against a healthy vault completes the cancel.
	vault.tripped = false
	refund, err := e.CancelTrade(tk.ID, []int64{500_000})
	if err != nil {
		t.Fatalf("retried cancel: %v", err)
	}
	if refund != 9_200_000 {
		t.Errorf("refund = %d, want 9_200_000", refund)
	}
	if tk.State != ticket.StateCancelled {
		t.Errorf("state after retry = %s, want Cancelled", tk.State)
	}
}

func TestSettlementVaultFailureLeavesTicketRetryable(t *testing.T) {
	e, vault, clk := newFaultyVaultEngine(t)
	startPool(t, e, vault.MemoryVault)
	registerGame(t, e, clk, "g1", 24*time.Hour)

	tk := placeBet(t, e, vault.MemoryVault, singleLeg("g1", 0, 500_000), 10_000_000)
	reportWinner(t, e, "g1", 0)

	vault.tripped = true
	if _, err := e.ExerciseTicketsReadyBatch(10); err == nil {
		t.Fatal("settlement succeeded with a failing vault")
	}
	if tk.State != ticket.StateTrading {
		t.Fatalf("state after failed settlement = %s, want Trading", tk.State)
	}

	// The next sweep picks the ticket up again and pays out normally.
	vault.tripped = false
	settled, err := e.ExerciseTicketsReadyBatch(10)
	if err != nil {
		t.Fatalf("retried settlement: %v", err)
	}
	if settled != 1 {
		t.Errorf("settled = %d, want 1", settled)
	}
	if got := vault.Balance(round.UserAccount(bettor)); got != 20_000_000 {
		t.Errorf("bettor payout = %d, want 20_000_000", got)
	}
}

// ============================================================
// Pause / resume
// ============================================================

func TestPauseBlocksSettlement(t *testing.T) {
	e, vault, clk := newTestEngine(t, nil)
	startPool(t, e, vault)
	registerGame(t, e, clk, "g1", 24*time.Hour)

	tk := placeBet(t, e, vault, singleLeg("g1", 0, 500_000), 10_000_000)
	reportWinner(t, e, "g1", 0)

	if err := e.PauseTicket(tk.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	settled, err := e.ExerciseTicketsReadyBatch(10)
	if err != nil {
		t.Fatalf("exercise: %v", err)
	}
	if settled != 0 {
		t.Errorf("paused ticket settled: %d", settled)
	}

	if err := e.ResumeTicket(tk.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if settled, err = e.ExerciseTicketsReadyBatch(10); err != nil || settled != 1 {
		t.Errorf("after resume = %d, %v, want 1", settled, err)
	}
}

// ============================================================
// Round closing end to end
// ============================================================

func TestRoundCloseRebasesAndEmits(t *testing.T) {
	outputs := make(chan core.Output, 16)
	e, vault, clk := newTestEngine(t, outputs)
	startPool(t, e, vault)
	registerGame(t, e, clk, "g1", 24*time.Hour)

	// One losing ticket leaves the round 10 in profit.
	placeBet(t, e, vault, singleLeg("g1", 0, 500_000), 10_000_000)
	reportWinner(t, e, "g1", 1)
	if _, err := e.ExerciseTicketsReadyBatch(10); err != nil {
		t.Fatalf("exercise: %v", err)
	}

	clk.advance(169 * time.Hour)
	if !e.CanCloseCurrentRound() {
		t.Fatal("round not closable")
	}

	skim, err := e.PrepareRoundClosing()
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if skim != 1_000_000 {
		t.Errorf("skim = %d, want 1_000_000 (10%% of 10 profit)", skim)
	}
	if processed, err := e.ProcessRoundClosingBatch(10); err != nil || processed != 1 {
		t.Fatalf("process = %d, %v", processed, err)
	}
	if err := e.CloseRound(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if e.CurrentRoundID() != 2 {
		t.Errorf("current round = %d, want 2", e.CurrentRoundID())
	}
	// The LP's 1,000 rebased by 1.009 rides into round 2.
	if got := e.ProviderBalance(2, providerA); got != 1_009_000_000 {
		t.Errorf("carried stake = %d, want 1_009_000_000", got)
	}

	var closeRec *core.RoundCloseRecord
	for len(outputs) > 0 {
		o := <-outputs
		if o.Kind == core.OutputRoundClosed {
			closeRec = o.RoundClose
		}
	}
	if closeRec == nil {
		t.Fatal("no round-close record emitted")
	}
	if closeRec.Round != 1 || closeRec.Allocation != 1_000_000_000 {
		t.Errorf("record round/allocation = %d/%d", closeRec.Round, closeRec.Allocation)
	}
	if closeRec.ClosingBalance != 1_009_000_000 || closeRec.PnL != 1_009_000 {
		t.Errorf("record balance/pnl = %d/%d", closeRec.ClosingBalance, closeRec.PnL)
	}
	if closeRec.CumulativePnL != 1_009_000 {
		t.Errorf("record cumulative pnl = %d", closeRec.CumulativePnL)
	}
	if closeRec.SafeBoxSkim != 1_000_000 {
		t.Errorf("record skim = %d, want 1_000_000", closeRec.SafeBoxSkim)
	}
	if closeRec.UsersProcessed != 1 || closeRec.CarriedForward != 1_009_000_000 {
		t.Errorf("record users/carried = %d/%d", closeRec.UsersProcessed, closeRec.CarriedForward)
	}
}

// ============================================================
// Capacity queries
// ============================================================

func TestGetMaxStakeAndLiquidityBatch(t *testing.T) {
	e, vault, clk := newTestEngine(t, nil)
	startPool(t, e, vault)
	registerGame(t, e, clk, "g1", 24*time.Hour)

	key := market.Key{Game: "g1", TypeID: 1}
	results := e.GetMaxStakeAndLiquidityBatch([]core.CapacityQuery{
		{Market: key, Position: 0, Odds: 500_000},
		{Market: key, Position: 0, Odds: 0},
	})

	if results[0].RiskCapacity != 5_000_000_000 {
		t.Errorf("risk capacity = %d, want 5_000_000_000", results[0].RiskCapacity)
	}
	if results[0].PoolLiquidity != 1_000_000_000 {
		t.Errorf("pool liquidity = %d, want 1_000_000_000", results[0].PoolLiquidity)
	}
	// At odds 0.5 each stake unit risks one unit against the cap and
	// debits 1.08 units of liquidity: liquidity binds first.
	if results[0].MaxStake != 925_925_926 {
		t.Errorf("max stake = %d, want 925_925_926", results[0].MaxStake)
	}
	if results[1].MaxStake != 0 {
		t.Errorf("max stake at invalid odds = %d, want 0", results[1].MaxStake)
	}

	// A max-stake trade must actually be placeable.
	fund(t, vault, bettor, results[0].MaxStake)
	if _, err := e.PlaceTrade(core.TradeRequest{
		Owner: bettor, Legs: singleLeg("g1", 0, 920_000), BuyIn: 100_000_000,
	}); err != nil {
		t.Errorf("follow-up trade: %v", err)
	}
}
