package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"ParlayPool/internal/core"
	"ParlayPool/internal/observability"
)

// Worker drains the engine's output channel and batch-writes audit rows
// to Postgres. The engine uses blocking sends, so if this worker falls
// behind, trade acceptance stalls instead of losing audit records.
type Worker struct {
	writer       *AuditLogWriter
	db           *sql.DB
	inputChan    <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       NewAuditLogWriter(db),
		db:           db,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

type batch struct {
	trades      []TradeRow
	settlements []SettlementRow
	closes      []RoundCloseRow
}

func (b *batch) size() int {
	return len(b.trades) + len(b.settlements) + len(b.closes)
}

func (b *batch) reset() {
	b.trades = b.trades[:0]
	b.settlements = b.settlements[:0]
	b.closes = b.closes[:0]
}

func (b *batch) add(o core.Output) {
	switch o.Kind {
	case core.OutputTradePlaced:
		t := o.Trade
		b.trades = append(b.trades, TradeRow{
			TicketID:       t.TicketID,
			Owner:          t.Owner,
			Round:          int64(t.Round),
			BuyIn:          t.BuyIn,
			ExpectedPayout: t.ExpectedPayout,
			Fee:            t.Fee,
			Legs:           t.Legs,
			IsSystem:       t.IsSystem,
			FundingSource:  t.FundingSource,
			FromBackstop:   t.FromBackstop,
			PlacedAt:       o.Timestamp,
		})
	case core.OutputTicketSettled:
		s := o.Settlement
		b.settlements = append(b.settlements, SettlementRow{
			TicketID:  s.TicketID,
			Owner:     s.Owner,
			Round:     int64(s.Round),
			Outcome:   s.Outcome,
			Paid:      s.Paid,
			ToPool:    s.ToPool,
			Fee:       s.Fee,
			SettledAt: o.Timestamp,
		})
	case core.OutputRoundClosed:
		r := o.RoundClose
		b.closes = append(b.closes, RoundCloseRow{
			Round:          int64(r.Round),
			Allocation:     r.Allocation,
			ClosingBalance: r.ClosingBalance,
			PnL:            r.PnL,
			CumulativePnL:  r.CumulativePnL,
			SafeBoxSkim:    r.SafeBoxSkim,
			UsersProcessed: r.UsersProcessed,
			CarriedForward: r.CarriedForward,
			ClosedAt:       o.Timestamp,
		})
	}
}

// Run starts the worker loop. It batches incoming outputs and flushes
// either when the batch is full or the flush timeout expires. Blocks
// until ctx is cancelled or the input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	var b batch

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if b.size() > 0 {
				if err := w.flush(context.Background(), &b); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				if b.size() > 0 {
					if err := w.flush(context.Background(), &b); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			b.add(output)
			if b.size() >= w.batchSize {
				w.flushWithRetry(ctx, &b)
				b.reset()
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if b.size() > 0 {
				w.flushWithRetry(ctx, &b)
				b.reset()
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops
// records: it retries until the write succeeds or shutdown forces one
// final attempt.
func (w *Worker) flushWithRetry(ctx context.Context, b *batch) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).
				Int("rows", b.size()).Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), b); err != nil {
					w.log.Error().Err(err).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, b); err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return
		} else if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, b *batch) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteTradeBatch(ctx, tx, b.trades); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_trades").Inc()
		}
		return err
	}
	if err := w.writer.WriteSettlementBatch(ctx, tx, b.settlements); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_settlements").Inc()
		}
		return err
	}
	if err := w.writer.WriteRoundCloseBatch(ctx, tx, b.closes); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_round_closes").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchSize.Observe(float64(b.size()))
		w.metrics.PersistRowsWritten.Add(float64(b.size()))
	}
	return nil
}
