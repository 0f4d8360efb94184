package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for ParlayPool.
type Metrics struct {
	// --- Trades ---
	TradesAccepted  *prometheus.CounterVec
	TradesRejected  *prometheus.CounterVec
	TradeDuration   prometheus.Histogram
	TradesCancelled prometheus.Counter
	BuyInTotal      prometheus.Counter

	// --- Tickets ---
	TicketsActive     prometheus.Gauge
	TicketsExercised  prometheus.Counter
	TicketsMarkedLost prometheus.Counter
	TicketsMigrated   prometheus.Counter
	PayoutTotal       prometheus.Counter

	// --- Rounds ---
	RoundCurrent       prometheus.Gauge
	RoundClosings      prometheus.Counter
	RoundClosingBatch  prometheus.Histogram
	RoundPnLRatio      prometheus.Gauge
	SafeBoxSkimTotal   prometheus.Counter
	PoolBalance        prometheus.Gauge
	BackstopDrawnTotal prometheus.Counter

	// --- Liquidity ---
	DepositsTotal    prometheus.Counter
	WithdrawalsPaid  prometheus.Counter
	ProvidersInPool  prometheus.Gauge
	DepositsRejected *prometheus.CounterVec

	// --- Oracle feed ---
	ResultsApplied  *prometheus.CounterVec
	ResultsRejected *prometheus.CounterVec

	// --- Persistence ---
	PersistRowsWritten prometheus.Counter
	PersistErrors      *prometheus.CounterVec
	PersistBatchSize   prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		TradesAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_trades_accepted_total",
			Help: "Trades accepted and funded",
		}, []string{"funding_source"}),

		TradesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_trades_rejected_total",
			Help: "Trades rejected, by risk status or funding failure",
		}, []string{"reason"}),

		TradeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_trade_duration_seconds",
			Help:    "Time to validate, reserve, and fund one trade",
			Buckets: latencyBuckets,
		}),

		TradesCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_trades_cancelled_total",
			Help: "Tickets cancelled before resolution",
		}),

		BuyInTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_buy_in_total",
			Help: "Cumulative buy-in volume (quote micro-units)",
		}),

		TicketsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_tickets_active",
			Help: "Tickets currently in the active set",
		}),

		TicketsExercised: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_tickets_exercised_total",
			Help: "Tickets settled as winners",
		}),

		TicketsMarkedLost: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_tickets_marked_lost_total",
			Help: "Tickets forfeited via the admin mark-lost path",
		}),

		TicketsMigrated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_tickets_migrated_total",
			Help: "Tickets migrated between rounds",
		}),

		PayoutTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_payout_total",
			Help: "Cumulative payouts released to bettors (quote micro-units)",
		}),

		RoundCurrent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_round_current",
			Help: "Identifier of the active round",
		}),

		RoundClosings: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_round_closings_total",
			Help: "Rounds fully closed",
		}),

		RoundClosingBatch: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_round_closing_batch_duration_seconds",
			Help:    "Duration of one round-closing batch",
			Buckets: latencyBuckets,
		}),

		RoundPnLRatio: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_round_pnl_ratio",
			Help: "Last closed round's PnL ratio (1e6 = breakeven)",
		}),

		SafeBoxSkimTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_safebox_skim_total",
			Help: "Cumulative profit skimmed to the safe box",
		}),

		PoolBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_active_round_balance",
			Help: "Active round pool balance (quote micro-units)",
		}),

		BackstopDrawnTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_backstop_drawn_total",
			Help: "Cumulative default-provider draws",
		}),

		DepositsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_deposits_total",
			Help: "Cumulative LP deposits (quote micro-units)",
		}),

		WithdrawalsPaid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_withdrawals_paid_total",
			Help: "Cumulative withdrawal payouts (quote micro-units)",
		}),

		ProvidersInPool: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_providers",
			Help: "Providers counting against the user cap",
		}),

		DepositsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_deposits_rejected_total",
			Help: "Deposits rejected, by reason",
		}, []string{"reason"}),

		ResultsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_results_applied_total",
			Help: "Oracle results applied, by kind",
		}, []string{"kind"}),

		ResultsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_results_rejected_total",
			Help: "Oracle results rejected (duplicate, cancelled, unknown)",
		}, []string{"reason"}),

		PersistRowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_persist_rows_written_total",
			Help: "Audit rows written to Postgres",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_persist_errors_total",
			Help: "Persistence errors, by operation",
		}, []string{"op"}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_persist_batch_size",
			Help:    "Rows per persistence flush",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),
	}
}
