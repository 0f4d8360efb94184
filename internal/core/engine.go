package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ParlayPool/internal/market"
	fpmath "ParlayPool/internal/math"
	"ParlayPool/internal/observability"
	"ParlayPool/internal/risk"
	"ParlayPool/internal/round"
	"ParlayPool/internal/ticket"
)

var (
	ErrUnknownTicket  = errors.New("core: unknown ticket")
	ErrLegCountChange = errors.New("core: leg count mismatch")
	ErrUnauthentic    = errors.New("core: market failed authentication")
)

// Config holds the engine's parameters beyond the round ledger's own.
type Config struct {
	Round       round.Config
	FeeFraction int64 // RatioConfig scale, fee as fraction of payout
	MaxPayout   int64 // single-ticket payout ceiling, 0 disables
}

// Engine is the trade orchestrator and the single owner of all mutable
// venue state. Every external entry point is serialized under one mutex
// and either completes fully or fails fully with no state change; the
// batched closing and exercise operations are the only ones with
// deliberate, resumable partial progress.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	log      zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	catalog  *market.Catalog
	results  *market.ResultBook
	caps     *risk.CapsManager
	exposure *risk.ExposureLedger
	registry *ticket.Registry
	rounds   *round.Ledger
	vault    round.Vault
	quoter   Quoter
	auth     market.Authenticator

	// history retains terminal tickets; the registry only tracks active ones.
	history map[uuid.UUID]*ticket.Ticket

	// exerciseCursor is the resumable scan position for batch exercise.
	exerciseCursor int

	// pendingSkim carries the safe-box skim from prepare to the close record.
	pendingSkim int64

	outputs chan<- Output
}

// Deps are the pluggable collaborators. Nil Quoter and Authenticator fall
// back to the fractional-fee quoter and the catalog predicate; nil
// Metrics and Outputs disable those sinks.
type Deps struct {
	Vault   round.Vault
	Quoter  Quoter
	Auth    market.Authenticator
	Metrics *observability.Metrics
	Outputs chan<- Output
	Logger  *zerolog.Logger
	Now     func() time.Time
}

func NewEngine(cfg Config, deps Deps) *Engine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	vault := deps.Vault
	if vault == nil {
		vault = round.NewMemoryVault()
	}

	catalog := market.NewCatalog()
	caps := risk.NewCapsManager()
	registry := ticket.NewRegistry()

	quoter := deps.Quoter
	if quoter == nil {
		quoter = NewFractionalFeeQuoter(cfg.FeeFraction, cfg.MaxPayout)
	}
	auth := deps.Auth
	if auth == nil {
		auth = catalog
	}
	var logger zerolog.Logger
	if deps.Logger != nil {
		logger = *deps.Logger
	} else {
		logger = zerolog.Nop()
	}

	return &Engine{
		cfg:      cfg,
		log:      logger,
		metrics:  deps.Metrics,
		now:      now,
		catalog:  catalog,
		results:  market.NewResultBook(),
		caps:     caps,
		exposure: risk.NewExposureLedger(catalog, caps),
		registry: registry,
		rounds:   round.NewLedger(cfg.Round, vault, registry, now),
		vault:    vault,
		quoter:   quoter,
		auth:     auth,
		history:  make(map[uuid.UUID]*ticket.Ticket),
		outputs:  deps.Outputs,
	}
}

// emit sends an audit record on the output channel. Blocking send: the
// engine stalls rather than lose a record under backpressure.
func (e *Engine) emit(o Output) {
	if e.outputs != nil {
		e.outputs <- o
	}
}

// --- Catalog & admin surface ---

// RegisterGame adds a game to the catalog.
func (e *Engine) RegisterGame(info market.GameInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catalog.RegisterGame(info)
}

// UpdateCaps installs new risk caps for a sport.
func (e *Engine) UpdateCaps(caps *risk.SportCaps) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.caps.Update(caps); err != nil {
		return err
	}
	e.log.Info().Str("sport", caps.Sport).
		Int64("max_spend_per_game", caps.MaxSpendPerGame).
		Msg("risk caps updated")
	return nil
}

// --- LP surface ---

// StartPool opens the pool's first round.
func (e *Engine) StartPool() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.rounds.Start(); err != nil {
		return err
	}
	e.log.Info().Uint64("round", e.rounds.CurrentRoundID()).
		Int64("allocation", e.rounds.CurrentRound().Allocation).
		Msg("pool started")
	e.updateRoundGauges()
	return nil
}

// Deposit adds LP capital to the appropriate round.
func (e *Engine) Deposit(provider uuid.UUID, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.rounds.Deposit(provider, amount); err != nil {
		if e.metrics != nil {
			e.metrics.DepositsRejected.WithLabelValues(depositRejectReason(err)).Inc()
		}
		return err
	}
	if e.metrics != nil {
		e.metrics.DepositsTotal.Add(float64(amount))
		e.metrics.ProvidersInPool.Set(float64(e.rounds.MemberCount()))
	}
	e.updateRoundGauges()
	return nil
}

func depositRejectReason(err error) string {
	switch {
	case errors.Is(err, round.ErrBelowMinDeposit):
		return "below_min"
	case errors.Is(err, round.ErrDepositCapExceeded):
		return "deposit_cap"
	case errors.Is(err, round.ErrUserCapExceeded):
		return "user_cap"
	case errors.Is(err, round.ErrWithdrawalPending):
		return "withdrawal_pending"
	case errors.Is(err, round.ErrClosingPrepared):
		return "closing_prepared"
	case errors.Is(err, round.ErrDefaultProviderDeposit):
		return "default_provider"
	default:
		return "other"
	}
}

// RequestWithdrawal registers a full exit for the caller.
func (e *Engine) RequestWithdrawal(provider uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.rounds.RequestWithdrawal(provider); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.ProvidersInPool.Set(float64(e.rounds.MemberCount()))
	}
	return nil
}

// RequestPartialWithdrawal registers a partial exit.
func (e *Engine) RequestPartialWithdrawal(provider uuid.UUID, share int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rounds.RequestPartialWithdrawal(provider, share)
}

// FundBackstop tops up the default provider's standing balance. This is
// the privileged funding path; the public deposit path rejects the
// default provider.
func (e *Engine) FundBackstop(amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if amount <= 0 {
		return fmt.Errorf("backstop top-up must be positive, got %d", amount)
	}
	return e.vault.Transfer(round.UserAccount(e.cfg.Round.DefaultProvider), round.AccountBackstop, amount)
}

// --- Round closing ---

// CanCloseCurrentRound exposes the closing predicate.
func (e *Engine) CanCloseCurrentRound() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rounds.CanCloseCurrentRound()
}

// PrepareRoundClosing freezes the active round and takes the safe-box skim.
func (e *Engine) PrepareRoundClosing() (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	skim, err := e.rounds.PrepareRoundClosing()
	if err != nil {
		return 0, err
	}
	e.pendingSkim = skim
	if e.metrics != nil && skim > 0 {
		e.metrics.SafeBoxSkimTotal.Add(float64(skim))
	}
	cur := e.rounds.CurrentRound()
	e.log.Info().Uint64("round", cur.ID).
		Int64("pnl", cur.PnL).
		Int64("skim", skim).
		Msg("round closing prepared")
	return skim, nil
}

// ProcessRoundClosingBatch rebases a bounded slice of the frozen round's
// roster into the next round.
func (e *Engine) ProcessRoundClosingBatch(batchSize int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := e.now()
	processed, paid, err := e.rounds.ProcessRoundClosingBatch(batchSize)
	if e.metrics != nil {
		e.metrics.RoundClosingBatch.Observe(time.Since(start).Seconds())
		if paid > 0 {
			e.metrics.WithdrawalsPaid.Add(float64(paid))
		}
	}
	return processed, err
}

// CloseRound finalizes the frozen round and opens its successor.
func (e *Engine) CloseRound() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	closing := e.rounds.CurrentRound()
	if err := e.rounds.CloseRound(); err != nil {
		return err
	}

	next := e.rounds.CurrentRound()
	if e.metrics != nil {
		e.metrics.RoundClosings.Inc()
		e.metrics.RoundPnLRatio.Set(float64(closing.PnL))
	}
	e.updateRoundGauges()
	e.log.Info().Uint64("closed_round", closing.ID).
		Int64("pnl", closing.PnL).
		Int64("cumulative_pnl", next.CumulativePnL).
		Int64("next_allocation", next.Allocation).
		Msg("round closed")

	e.emit(Output{
		Kind:      OutputRoundClosed,
		Timestamp: e.now(),
		RoundClose: &RoundCloseRecord{
			Round:          closing.ID,
			Allocation:     closing.Allocation,
			ClosingBalance: closing.ClosingBalance,
			PnL:            closing.PnL,
			CumulativePnL:  next.CumulativePnL,
			SafeBoxSkim:    e.pendingSkim,
			UsersProcessed: closing.UsersProcessed,
			CarriedForward: next.PoolBalance,
		},
	})
	e.pendingSkim = 0
	return nil
}

func (e *Engine) updateRoundGauges() {
	if e.metrics == nil {
		return
	}
	e.metrics.RoundCurrent.Set(float64(e.rounds.CurrentRoundID()))
	e.metrics.PoolBalance.Set(float64(e.rounds.CurrentRound().PoolBalance))
}

// --- Migration ---

// MigrateTicketToAnotherRound re-associates a trading ticket with the
// target round. Administrative path; the hint is verified and a stale
// hint recovered by scan.
func (e *Engine) MigrateTicketToAnotherRound(ticketID uuid.UUID, target uint64, hint int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.registry.Get(ticketID)
	if !ok {
		return ErrUnknownTicket
	}
	from := t.Round
	if err := e.rounds.MigrateTicket(t, target, hint); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.TicketsMigrated.Inc()
	}
	e.log.Info().Stringer("ticket", ticketID).
		Uint64("from", from).Uint64("to", target).
		Msg("ticket migrated")
	return nil
}

// MigrateTicketsBatch migrates a bounded slice of tickets, returning how
// many succeeded before the first failure.
func (e *Engine) MigrateTicketsBatch(ticketIDs []uuid.UUID, target uint64, hints []int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(ticketIDs) != len(hints) {
		return 0, fmt.Errorf("tickets/hints length mismatch: %d vs %d", len(ticketIDs), len(hints))
	}
	for i, id := range ticketIDs {
		t, ok := e.registry.Get(id)
		if !ok {
			return i, fmt.Errorf("%w: %s", ErrUnknownTicket, id)
		}
		if err := e.rounds.MigrateTicket(t, target, hints[i]); err != nil {
			return i, err
		}
		if e.metrics != nil {
			e.metrics.TicketsMigrated.Inc()
		}
	}
	return len(ticketIDs), nil
}

// --- Oracle feed ---

// SetResultTypeForMarketType registers the oracle's result kind for a
// market type.
func (e *Engine) SetResultTypeForMarketType(typeID market.TypeID, kind market.ResultKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results.SetResultTypeForMarketType(typeID, kind)
}

// SetResultsForMarket records final outcomes for one market.
func (e *Engine) SetResultsForMarket(key market.Key, resultIndices []market.Position) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.results.SetResultsForMarket(key, resultIndices); err != nil {
		if e.metrics != nil {
			e.metrics.ResultsRejected.WithLabelValues("set_results").Inc()
		}
		return err
	}
	if e.metrics != nil {
		kind, _ := e.results.ResultKindFor(key.TypeID)
		e.metrics.ResultsApplied.WithLabelValues(kind.String()).Inc()
	}
	return nil
}

// CancelGame voids every market of a game.
func (e *Engine) CancelGame(game market.GameID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.results.CancelGame(game); err != nil {
		if e.metrics != nil {
			e.metrics.ResultsRejected.WithLabelValues("cancel_game").Inc()
		}
		return err
	}
	return nil
}

// CancelMarket voids one market.
func (e *Engine) CancelMarket(key market.Key) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.results.CancelMarket(key); err != nil {
		if e.metrics != nil {
			e.metrics.ResultsRejected.WithLabelValues("cancel_market").Inc()
		}
		return err
	}
	return nil
}

// --- Read surface ---

// GetTicketRound returns the owning round of an active or historical ticket.
func (e *Engine) GetTicketRound(ticketID uuid.UUID) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.registry.Get(ticketID); ok {
		return t.Round, true
	}
	if t, ok := e.history[ticketID]; ok {
		return t.Round, true
	}
	return 0, false
}

// GetTicket returns an active or historical ticket.
func (e *Engine) GetTicket(ticketID uuid.UUID) (*ticket.Ticket, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.registry.Get(ticketID); ok {
		return t, true
	}
	t, ok := e.history[ticketID]
	return t, ok
}

// GetNumberOfTradingTicketsPerRound returns the unresolved trading count
// for one round.
func (e *Engine) GetNumberOfTradingTicketsPerRound(roundID uint64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.TradingCountForRound(roundID)
}

// GetActiveTickets returns a page of the active ticket set.
func (e *Engine) GetActiveTickets(offset, limit int) []*ticket.Ticket {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.GetActiveTickets(offset, limit)
}

// CurrentRoundID returns the active round's identifier.
func (e *Engine) CurrentRoundID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rounds.CurrentRoundID()
}

// RoundInfo is a read-only snapshot of one round's ledger entries.
type RoundInfo struct {
	ID                   uint64
	Allocation           int64
	PoolBalance          int64
	OutstandingLiability int64
	PnL                  int64
	CumulativePnL        int64
	ClosingPrepared      bool
	Closed               bool
	UsersProcessed       int
	TotalUsers           int
}

// GetRoundInfo returns a snapshot of one round.
func (e *Engine) GetRoundInfo(roundID uint64) (RoundInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rounds.Round(roundID)
	if !ok {
		return RoundInfo{}, false
	}
	return RoundInfo{
		ID:                   r.ID,
		Allocation:           r.Allocation,
		PoolBalance:          r.PoolBalance,
		OutstandingLiability: r.OutstandingLiability,
		PnL:                  r.PnL,
		CumulativePnL:        r.CumulativePnL,
		ClosingPrepared:      r.ClosingPrepared,
		Closed:               r.Closed,
		UsersProcessed:       r.UsersProcessed,
		TotalUsers:           r.TotalUsers(),
	}, true
}

// ProviderBalance returns an LP's balance in one round.
func (e *Engine) ProviderBalance(roundID uint64, provider uuid.UUID) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rounds.Round(roundID)
	if !ok {
		return 0
	}
	return r.BalanceOf(provider)
}

// --- Capacity surface ---

// CapacityQuery asks how much stake one market position can still absorb.
type CapacityQuery struct {
	Market   market.Key
	Position market.Position
	Odds     int64
}

// CapacityResult reports the binding constraint per query: remaining risk
// capacity before caps, available pool liquidity, and the max stake the
// tighter of the two permits at the quoted odds.
type CapacityResult struct {
	RiskCapacity  int64
	PoolLiquidity int64
	MaxStake      int64
}

// GetMaxStakeAndLiquidityBatch evaluates capacity queries against current
// exposure and the active round's pool.
func (e *Engine) GetMaxStakeAndLiquidityBatch(queries []CapacityQuery) []CapacityResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	liquidity := e.rounds.CurrentRound().PoolBalance
	results := make([]CapacityResult, len(queries))

	for i, q := range queries {
		capacity := e.exposure.RemainingCapacity(q.Market, q.Position)
		results[i] = CapacityResult{
			RiskCapacity:  capacity,
			PoolLiquidity: liquidity,
			MaxStake:      e.maxStakeAt(q.Odds, capacity, liquidity),
		}
	}
	return results
}

// maxStakeAt solves for the largest stake whose leg risk fits the cap
// room and whose pool debit fits the available liquidity.
func (e *Engine) maxStakeAt(odds, capacity, liquidity int64) int64 {
	if odds <= 0 || odds > fpmath.OddsConfig.Scale {
		return 0
	}
	scale := fpmath.OddsConfig.Scale

	// risk per stake unit (ratio scale): scale^2/odds - scale
	riskPerStake := fpmath.MulDiv(scale, scale, odds) - scale
	// pool debit per stake unit: payout*(1+fee) - stake
	debitPerStake := fpmath.MulDiv(scale+e.cfg.FeeFraction, scale, odds) - scale

	maxStake := int64(1<<62 - 1)
	if riskPerStake > 0 {
		if s := fpmath.MulDiv(capacity, scale, riskPerStake); s < maxStake {
			maxStake = s
		}
	}
	if debitPerStake > 0 {
		if s := fpmath.MulDiv(liquidity, scale, debitPerStake); s < maxStake {
			maxStake = s
		}
	}
	return maxStake
}
