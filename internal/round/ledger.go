package round

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	fpmath "ParlayPool/internal/math"
	"ParlayPool/internal/ticket"
)

// Precondition and sequencing errors. Callers classify: precondition and
// capacity errors reject the single operation; sequencing errors clear
// once the blocking condition does.
var (
	ErrAlreadyStarted         = errors.New("round: pool already started")
	ErrNotStarted             = errors.New("round: pool not started")
	ErrNothingDeposited       = errors.New("round: no deposits to start with")
	ErrBelowMinDeposit        = errors.New("round: deposit below minimum")
	ErrDepositCapExceeded     = errors.New("round: total deposit cap exceeded")
	ErrUserCapExceeded        = errors.New("round: user cap reached")
	ErrDefaultProviderDeposit = errors.New("round: default provider must fund via backstop")
	ErrWithdrawalPending      = errors.New("round: withdrawal request pending")
	ErrNextRoundDeposit       = errors.New("round: deposit for next round blocks withdrawal")
	ErrNothingToWithdraw      = errors.New("round: nothing deposited in current round")
	ErrInvalidShare           = errors.New("round: partial share outside [0.10, 0.90]")
	ErrClosingPrepared        = errors.New("round: closing prepared, operation blocked")
	ErrNotPrepared            = errors.New("round: closing not prepared")
	ErrAlreadyPrepared        = errors.New("round: closing already prepared")
	ErrRoundNotClosable       = errors.New("round: round cannot close yet")
	ErrBatchSizeZero          = errors.New("round: batch size must be positive")
	ErrAllUsersProcessed      = errors.New("round: all users already processed")
	ErrNotFullyProcessed      = errors.New("round: users remain unprocessed")
	ErrInsufficientLiquidity  = errors.New("round: insufficient pool liquidity")
	ErrUnknownRound           = errors.New("round: unknown round")
	ErrRoundClosed            = errors.New("round: round is closed")
)

// WithdrawalRequest is a pending exit. Share is a ShareConfig-scale
// fraction; a full exit has share == scale.
type WithdrawalRequest struct {
	Provider  uuid.UUID
	Share     int64
	Requested time.Time
}

// FundingSource says who paid a ticket's pool debit.
type FundingSource int32

const (
	FundingRoundPool FundingSource = iota
	FundingStandingBackstop
)

func (s FundingSource) String() string {
	if s == FundingStandingBackstop {
		return "StandingBackstop"
	}
	return "RoundPool"
}

// Funding is the result of funding-source selection for one ticket.
type Funding struct {
	Source       FundingSource
	Round        uint64
	FromPool     int64
	FromBackstop int64
}

// Config holds the ledger's admin-set parameters. Amounts are quote
// units; SafeBoxImpact is a RatioConfig-scale fraction of round profit
// diverted to the safe box before LP PnL is computed.
type Config struct {
	RoundLength     time.Duration
	MinDeposit      int64
	MaxTotalDeposit int64
	MaxUsers        int
	SafeBoxImpact   int64
	DefaultProvider uuid.UUID
}

// Ledger owns per-round capital and the round lifecycle state machine.
// It is the single aggregate for all round state; handles are passed in,
// never ambient.
type Ledger struct {
	cfg      Config
	vault    Vault
	registry *ticket.Registry
	now      func() time.Time

	rounds          map[uint64]*Round
	current         uint64
	started         bool
	firstRoundStart time.Time

	totalDeposited int64
	members        map[uuid.UUID]bool
	withdrawals    map[uuid.UUID]*WithdrawalRequest

	backstopDrawn int64 // lifetime draw total, for reporting
}

func NewLedger(cfg Config, vault Vault, registry *ticket.Registry, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	l := &Ledger{
		cfg:         cfg,
		vault:       vault,
		registry:    registry,
		now:         now,
		rounds:      make(map[uint64]*Round),
		current:     1,
		members:     make(map[uuid.UUID]bool),
		withdrawals: make(map[uuid.UUID]*WithdrawalRequest),
	}
	l.rounds[1] = newRound(1)
	return l
}

// Started reports whether the pool has opened its first round.
func (l *Ledger) Started() bool { return l.started }

// CurrentRoundID returns the active round's identifier.
func (l *Ledger) CurrentRoundID() uint64 { return l.current }

// CurrentRound returns the active round.
func (l *Ledger) CurrentRound() *Round { return l.rounds[l.current] }

// Round returns a round by ID.
func (l *Ledger) Round(id uint64) (*Round, bool) {
	r, ok := l.rounds[id]
	return r, ok
}

// TotalDeposited returns the lifetime public deposit total.
func (l *Ledger) TotalDeposited() int64 { return l.totalDeposited }

// MemberCount returns how many providers currently count against the
// user cap.
func (l *Ledger) MemberCount() int { return len(l.members) }

// BackstopDrawn returns the lifetime default-provider draw total.
func (l *Ledger) BackstopDrawn() int64 { return l.backstopDrawn }

// PendingWithdrawal returns a provider's pending request, if any.
func (l *Ledger) PendingWithdrawal(provider uuid.UUID) (*WithdrawalRequest, bool) {
	w, ok := l.withdrawals[provider]
	return w, ok
}

// ensureRound creates a future round record on first reference.
func (l *Ledger) ensureRound(id uint64) *Round {
	if r, ok := l.rounds[id]; ok {
		return r
	}
	r := newRound(id)
	if l.started {
		r.StartTime = l.firstRoundStart.Add(time.Duration(id-1) * l.cfg.RoundLength)
		r.EndTime = r.StartTime.Add(l.cfg.RoundLength)
	}
	l.rounds[id] = r
	return r
}

// Start opens the pool: fixes the first round's epoch boundaries and
// activates it. Idempotent-guarded.
func (l *Ledger) Start() error {
	if l.started {
		return ErrAlreadyStarted
	}
	if l.totalDeposited <= 0 {
		return ErrNothingDeposited
	}

	l.firstRoundStart = l.now()
	first := l.rounds[1]
	first.StartTime = l.firstRoundStart
	first.EndTime = l.firstRoundStart.Add(l.cfg.RoundLength)
	l.started = true

	// Fix boundaries of any round pre-created by early deposits or draws.
	for id, r := range l.rounds {
		if id == 1 {
			continue
		}
		r.StartTime = l.firstRoundStart.Add(time.Duration(id-1) * l.cfg.RoundLength)
		r.EndTime = r.StartTime.Add(l.cfg.RoundLength)
	}
	return nil
}

// depositTarget picks which round a public deposit lands in: the next
// unopened round once the pool is running, else the provisional round.
func (l *Ledger) depositTarget() *Round {
	if l.started {
		return l.ensureRound(l.current + 1)
	}
	return l.rounds[l.current]
}

// Deposit adds LP capital. The deposit targets the next unopened round
// when the pool is running, so mid-round entries never dilute the active
// round's realized PnL.
func (l *Ledger) Deposit(provider uuid.UUID, amount int64) error {
	if amount < l.cfg.MinDeposit {
		return fmt.Errorf("%w: %d < %d", ErrBelowMinDeposit, amount, l.cfg.MinDeposit)
	}
	if l.totalDeposited+amount > l.cfg.MaxTotalDeposit {
		return fmt.Errorf("%w: %d + %d > %d", ErrDepositCapExceeded, l.totalDeposited, amount, l.cfg.MaxTotalDeposit)
	}
	if provider == l.cfg.DefaultProvider {
		return ErrDefaultProviderDeposit
	}
	if _, ok := l.withdrawals[provider]; ok {
		return ErrWithdrawalPending
	}
	if !l.members[provider] && len(l.members) >= l.cfg.MaxUsers {
		return ErrUserCapExceeded
	}

	// Hard barrier: no deposits anywhere while the closing snapshot is
	// being processed.
	if l.rounds[l.current].ClosingPrepared {
		return ErrClosingPrepared
	}
	target := l.depositTarget()

	if err := l.vault.Transfer(UserAccount(provider), AccountPool, amount); err != nil {
		return fmt.Errorf("collateral transfer: %w", err)
	}

	target.credit(provider, amount)
	target.Allocation += amount
	target.PoolBalance += amount
	l.totalDeposited += amount
	l.members[provider] = true
	return nil
}

// requestWithdrawal validates the shared preconditions for full and
// partial exits.
func (l *Ledger) requestWithdrawal(provider uuid.UUID, share int64) error {
	if !l.started {
		return ErrNotStarted
	}
	cur := l.rounds[l.current]
	if cur.ClosingPrepared {
		return ErrClosingPrepared
	}
	if cur.BalanceOf(provider) <= 0 {
		return ErrNothingToWithdraw
	}
	// Ordering rule: an exit cannot straddle a fresh commitment.
	if next, ok := l.rounds[l.current+1]; ok && next.BalanceOf(provider) > 0 {
		return ErrNextRoundDeposit
	}
	if _, ok := l.withdrawals[provider]; ok {
		return ErrWithdrawalPending
	}

	l.withdrawals[provider] = &WithdrawalRequest{
		Provider:  provider,
		Share:     share,
		Requested: l.now(),
	}
	return nil
}

// RequestWithdrawal registers a full exit, consumed at round close. The
// provider stops counting against the user cap immediately.
func (l *Ledger) RequestWithdrawal(provider uuid.UUID) error {
	if err := l.requestWithdrawal(provider, fpmath.ShareConfig.Scale); err != nil {
		return err
	}
	delete(l.members, provider)
	return nil
}

// RequestPartialWithdrawal registers a partial exit with share in
// [0.10, 0.90] of the provider's rebased closing balance.
func (l *Ledger) RequestPartialWithdrawal(provider uuid.UUID, share int64) error {
	minShare := fpmath.ShareConfig.Scale / 10
	maxShare := 9 * fpmath.ShareConfig.Scale / 10
	if share < minShare || share > maxShare {
		return fmt.Errorf("%w: %d", ErrInvalidShare, share)
	}
	return l.requestWithdrawal(provider, share)
}

// RoundForMaturity maps a market maturity timestamp to the round that
// must fund a ticket on it. Before the pool starts every maturity routes
// to round 1, the sentinel default round. A maturity exactly on a round
// boundary belongs to the ending round, on every boundary.
func (l *Ledger) RoundForMaturity(maturity time.Time) uint64 {
	if !l.started {
		return 1
	}
	if !maturity.After(l.rounds[l.current].EndTime) {
		return l.current
	}
	elapsed := maturity.Sub(l.firstRoundStart)
	target := uint64(elapsed / l.cfg.RoundLength)
	if elapsed%l.cfg.RoundLength != 0 {
		target++
	}
	if target <= l.current {
		target = l.current
	}
	return target
}

// FundTicket sources a ticket's pool debit. The active round pays from
// its own pool; a future round pays from its pre-allocated deposits with
// the shortfall drawn from the default provider's standing backstop, the
// draw credited to the target round's allocation as the backstop's stake.
func (l *Ledger) FundTicket(target uint64, poolDebit, escrowTotal int64) (*Funding, error) {
	if poolDebit < 0 || escrowTotal < poolDebit {
		return nil, fmt.Errorf("invalid funding amounts: debit=%d escrow=%d", poolDebit, escrowTotal)
	}

	tr := l.ensureRound(target)
	if tr.Closed {
		return nil, ErrRoundClosed
	}
	if tr.ClosingPrepared {
		return nil, ErrClosingPrepared
	}

	funding := &Funding{Round: target}

	switch {
	case !l.started || target > l.current:
		// Future (or sentinel pre-start) round: spend its pre-allocated
		// deposits first, backstop covers the rest.
		fromPool := tr.PoolBalance
		if fromPool > poolDebit {
			fromPool = poolDebit
		}
		shortfall := poolDebit - fromPool

		if fromPool > 0 {
			if err := l.vault.Transfer(AccountPool, AccountEscrow, fromPool); err != nil {
				return nil, fmt.Errorf("pool escrow transfer: %w", err)
			}
			tr.PoolBalance -= fromPool
		}
		if shortfall > 0 {
			if err := l.vault.Transfer(AccountBackstop, AccountEscrow, shortfall); err != nil {
				return nil, fmt.Errorf("backstop draw: %w", err)
			}
			tr.credit(l.cfg.DefaultProvider, shortfall)
			tr.Allocation += shortfall
			l.backstopDrawn += shortfall
			funding.Source = FundingStandingBackstop
		}
		funding.FromPool = fromPool
		funding.FromBackstop = shortfall

	default:
		// Active round: its pool must carry the debit in full.
		if poolDebit > tr.PoolBalance {
			return nil, fmt.Errorf("%w: have=%d, need=%d", ErrInsufficientLiquidity, tr.PoolBalance, poolDebit)
		}
		if poolDebit > 0 {
			if err := l.vault.Transfer(AccountPool, AccountEscrow, poolDebit); err != nil {
				return nil, fmt.Errorf("pool escrow transfer: %w", err)
			}
			tr.PoolBalance -= poolDebit
		}
		funding.FromPool = poolDebit
	}

	tr.OutstandingLiability += escrowTotal
	return funding, nil
}

// CanCreditPool reports whether a round can still absorb escrow returns.
// Settlement paths check this before any transfer so a failure cannot
// leave a half-applied settlement.
func (l *Ledger) CanCreditPool(roundID uint64) error {
	r, ok := l.rounds[roundID]
	if !ok {
		return ErrUnknownRound
	}
	if r.ClosingPrepared {
		return ErrClosingPrepared
	}
	return nil
}

// CreditPool returns settled escrow money to a round's pool, used when a
// ticket loses, is marked lost, or leaves a cancellation remainder.
func (l *Ledger) CreditPool(roundID uint64, amount int64) error {
	r, ok := l.rounds[roundID]
	if !ok {
		return ErrUnknownRound
	}
	if r.ClosingPrepared {
		return ErrClosingPrepared
	}
	if amount <= 0 {
		return nil
	}
	if err := l.vault.Transfer(AccountEscrow, AccountPool, amount); err != nil {
		return fmt.Errorf("escrow return: %w", err)
	}
	r.PoolBalance += amount
	return nil
}

// ReleaseLiability reduces a round's outstanding-liability attribution
// when one of its tickets reaches a terminal state.
func (l *Ledger) ReleaseLiability(roundID uint64, escrowTotal int64) error {
	r, ok := l.rounds[roundID]
	if !ok {
		return ErrUnknownRound
	}
	if r.OutstandingLiability < escrowTotal {
		return fmt.Errorf("liability underflow on round %d: have=%d, release=%d",
			roundID, r.OutstandingLiability, escrowTotal)
	}
	r.OutstandingLiability -= escrowTotal
	return nil
}

// MigrateTicket re-associates a trading ticket with another round,
// rebalancing both rounds' outstanding-liability accounting. The hint is
// the caller's belief of the ticket's position in its current round's
// trading list; a stale hint is recovered by scan, an out-of-range hint
// is a hard error.
func (l *Ledger) MigrateTicket(t *ticket.Ticket, target uint64, hint int) error {
	if t.State != ticket.StateTrading {
		return fmt.Errorf("ticket %s is %s, only trading tickets migrate", t.ID, t.State)
	}
	if t.Round == target {
		return fmt.Errorf("ticket %s already in round %d", t.ID, target)
	}

	source, ok := l.rounds[t.Round]
	if !ok {
		return ErrUnknownRound
	}
	if source.ClosingPrepared {
		return ErrClosingPrepared
	}
	dest := l.ensureRound(target)
	if dest.Closed {
		return ErrRoundClosed
	}
	if dest.ClosingPrepared {
		return ErrClosingPrepared
	}

	if err := l.registry.MoveToRound(t, target, hint); err != nil {
		return err
	}

	if source.OutstandingLiability < t.ExpectedPayout {
		return fmt.Errorf("liability underflow migrating %s from round %d", t.ID, source.ID)
	}
	source.OutstandingLiability -= t.ExpectedPayout
	dest.OutstandingLiability += t.ExpectedPayout
	return nil
}

// MigrateTicketsBatch migrates a bounded slice of tickets; the index of
// the first failure is returned with the error so callers can resume.
func (l *Ledger) MigrateTicketsBatch(tickets []*ticket.Ticket, target uint64, hints []int) (int, error) {
	if len(tickets) != len(hints) {
		return 0, fmt.Errorf("tickets/hints length mismatch: %d vs %d", len(tickets), len(hints))
	}
	for i, t := range tickets {
		if err := l.MigrateTicket(t, target, hints[i]); err != nil {
			return i, err
		}
	}
	return len(tickets), nil
}
