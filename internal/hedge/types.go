package hedge

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hedgebot/gohedge/pkg/grvt"
)

// PositionMode 仓位模式：increase 扩仓对敲，decrease 缩仓对敲
type PositionMode string

const (
	PositionModeIncrease PositionMode = "increase"
	PositionModeDecrease PositionMode = "decrease"
)

// PositionSnapshot 单个合约的仓位快照，每轮轮询重新计算，不持久化
type PositionSnapshot struct {
	Size           decimal.Decimal // 带符号仓位数量
	MarkPrice      decimal.Decimal
	EntryPrice     decimal.Decimal
	SignedNotional decimal.Decimal // size * mark_price
	AbsNotional    decimal.Decimal
}

// FillLot 一笔成交产生的未配对敞口。
//
// 按 FIFO 存放在 SymbolState.Lots 中，被另一账户的反方向成交消耗；
// RemainingNotional 单调递减，归零后从队列移除。
// Synthetic 标记启动时由存量仓位合成的 lot（仅用于诊断，行为与真实 lot 一致）。
type FillLot struct {
	SourceAccount     string
	SourceSide        grvt.Side
	Price             decimal.Decimal
	RemainingNotional decimal.Decimal
	CreatedAt         time.Time
	Synthetic         bool
}

// ManagedOrder 策略本地维护的订单权威视图。
//
// AppliedTradedSize 只增不减且不超过 Size，用于保证成交增量不被重复入账。
// OrderID 在下单成功但尚未被快照确认前可能是占位 id（见 isPlaceholderOrderID）。
type ManagedOrder struct {
	OrderID           string
	ClientOrderID     string
	AccountLabel      string
	Instrument        string
	Side              grvt.Side
	Price             decimal.Decimal
	Size              decimal.Decimal
	NotionalUSDT      decimal.Decimal
	CreatedAt         time.Time
	StrategyOwned     bool
	LastSeenAt        time.Time // 零值表示从未在快照中出现
	AppliedTradedSize decimal.Decimal
	PartialSince      *time.Time // 首次观察到部分成交的时间
	Closed            bool
	CloseReason       string
}

// SymbolState 单个合约的全部可变状态，只被主循环单线程读写
type SymbolState struct {
	Config         SymbolConfig
	Lots           []*FillLot
	ManagedOrders  map[string]*ManagedOrder
	CooldownUntil  time.Time
	UnhedgedSince  *time.Time
	StuckAlertSent bool
	ForeignAlerted bool // 非策略订单只告警一次
}

// NewSymbolState 创建合约状态
func NewSymbolState(cfg SymbolConfig) *SymbolState {
	return &SymbolState{
		Config:        cfg,
		ManagedOrders: make(map[string]*ManagedOrder),
	}
}

// OpenLotCount 未配对 lot 数量（RemainingNotional > 0）
func (s *SymbolState) OpenLotCount() int {
	n := 0
	for _, lot := range s.Lots {
		if lot.RemainingNotional.Sign() > 0 {
			n++
		}
	}
	return n
}

// OldestOpposingLot 返回最早一笔不属于 targetAccount 的未配对 lot。
// 对冲方向与 guard price 从它推导：对冲单必须至少拿到不差于该 lot 的价格。
func (s *SymbolState) OldestOpposingLot(targetAccount string) *FillLot {
	for _, lot := range s.Lots {
		if lot.RemainingNotional.Sign() <= 0 {
			continue
		}
		if lot.SourceAccount == targetAccount {
			continue
		}
		return lot
	}
	return nil
}
