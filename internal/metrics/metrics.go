package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PollCycles 主循环轮询次数（含失败的轮）
	PollCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hedge_poll_cycles_total",
		Help: "Poll loop iterations",
	})

	// CycleErrors 主循环错误次数
	CycleErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hedge_cycle_errors_total",
		Help: "Poll loop iterations that ended in error",
	})

	// OrdersPlaced 成功提交的策略订单数
	OrdersPlaced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hedge_orders_placed_total",
		Help: "Strategy orders accepted by the exchange",
	}, []string{"symbol", "account", "side"})

	// OrdersCancelled 策略主动撤销的订单数
	OrdersCancelled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hedge_orders_cancelled_total",
		Help: "Strategy orders cancelled by the engine",
	}, []string{"symbol", "reason"})

	// PostOnlyRejects post-only 被拒次数
	PostOnlyRejects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hedge_post_only_rejects_total",
		Help: "Post-only submissions rejected for crossing the book",
	}, []string{"symbol"})

	// FillNotional 已处理的成交名义价值（USDT）
	FillNotional = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hedge_fill_notional_usdt_total",
		Help: "Fill notional applied to the lot ledger",
	}, []string{"symbol", "account"})

	// OpenLots 未配对 lot 数量
	OpenLots = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hedge_open_lots",
		Help: "Unmatched fill lots in the ledger",
	}, []string{"symbol"})

	// Imbalance 两腿绝对名义仓位差（USDT）
	Imbalance = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hedge_imbalance_usdt",
		Help: "Absolute notional difference between the two legs",
	}, []string{"symbol"})
)

func init() {
	prometheus.MustRegister(
		PollCycles,
		CycleErrors,
		OrdersPlaced,
		OrdersCancelled,
		PostOnlyRejects,
		FillNotional,
		OpenLots,
		Imbalance,
	)
}
