package hedge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hedgebot/gohedge/internal/metrics"
	"github.com/hedgebot/gohedge/pkg/grvt"
	"github.com/hedgebot/gohedge/pkg/logger"
	"github.com/hedgebot/gohedge/pkg/notify"
)

const mmrAlertCooldown = 1800 * time.Second

// 日报按北京时间切日
var beijing = time.FixedZone("CST", 8*3600)

// Engine 对冲引擎。所有可变状态只被 Run 的单线程轮询循环读写。
type Engine struct {
	cfg      EngineConfig
	accountA *AccountRuntime
	accountB *AccountRuntime
	symbols  map[string]*SymbolState
	order    []string // 合约的处理顺序，保证轮询确定性
	alerts   *notify.Dispatcher

	startedAt time.Time

	// 测试注入点
	now   func() time.Time
	sleep func(time.Duration)
}

// NewEngine 装配引擎。两腿账户缺一不可。
func NewEngine(cfg EngineConfig, acctA, acctB *AccountRuntime, symbolConfigs []SymbolConfig, alerts *notify.Dispatcher) (*Engine, error) {
	if acctA == nil || acctB == nil {
		return nil, fmt.Errorf("hedge: both account legs are required")
	}
	e := &Engine{
		cfg:      cfg,
		accountA: acctA,
		accountB: acctB,
		symbols:  make(map[string]*SymbolState),
		alerts:   alerts,
		now:      time.Now,
		sleep:    time.Sleep,
	}
	for _, sc := range symbolConfigs {
		if !sc.Enabled {
			logger.Infof("合约 %s 未启用，跳过", sc.Instrument)
			continue
		}
		if _, dup := e.symbols[sc.Instrument]; dup {
			return nil, fmt.Errorf("hedge: duplicate symbol %s", sc.Instrument)
		}
		e.symbols[sc.Instrument] = NewSymbolState(sc)
		e.order = append(e.order, sc.Instrument)
	}
	if len(e.symbols) == 0 {
		return nil, fmt.Errorf("hedge: no enabled symbols")
	}
	sort.Strings(e.order)
	return e, nil
}

// Run 主循环：快照 → 同步订单 → 决策 → 睡眠，直到 ctx 取消或
// 达到最大运行时长。退出前按配置做撤单清理。
func (e *Engine) Run(ctx context.Context) error {
	e.startedAt = e.now()
	logger.Infof("对冲引擎启动，%d 个合约，轮询间隔 %s", len(e.order), e.cfg.LoopInterval)

	e.bootstrap(ctx)

	ticker := time.NewTicker(e.cfg.LoopInterval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			break
		}
		if e.cfg.MaxRuntime > 0 && e.now().Sub(e.startedAt) >= e.cfg.MaxRuntime {
			logger.Infof("达到最大运行时长 %s，引擎自行退出", e.cfg.MaxRuntime)
			break
		}

		e.runCycle(ctx)

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	if e.cfg.CancelOnStop {
		e.cleanupStrategyOrdersOnStop()
	}
	logger.Infof("对冲引擎退出")
	return nil
}

// accountCycle 单个账户在一轮里的快照
type accountCycle struct {
	acct       *AccountRuntime
	positions  map[string]grvt.Position
	openOrders []grvt.Order
}

// runCycle 一轮轮询。任何账户级快照失败放弃整轮（下一轮重试），
// 单个合约的决策异常只影响该合约。
func (e *Engine) runCycle(ctx context.Context) {
	metrics.PollCycles.Inc()

	cycA, err := e.snapshotAccount(ctx, e.accountA)
	if err != nil {
		metrics.CycleErrors.Inc()
		logger.Errorf("账户 %s 快照失败，跳过本轮: %v", e.accountA.Name, err)
		return
	}
	cycB, err := e.snapshotAccount(ctx, e.accountB)
	if err != nil {
		metrics.CycleErrors.Inc()
		logger.Errorf("账户 %s 快照失败，跳过本轮: %v", e.accountB.Name, err)
		return
	}

	for _, instrument := range e.order {
		st := e.symbols[instrument]
		e.guardedProcess(ctx, st, cycA, cycB)
	}

	e.mmrCheck(ctx, e.accountA)
	e.mmrCheck(ctx, e.accountB)
	e.sendDailyStuckReport()
}

// guardedProcess 单合约处理，panic 只打日志不拖垮循环
func (e *Engine) guardedProcess(ctx context.Context, st *SymbolState, cycA, cycB *accountCycle) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CycleErrors.Inc()
			logger.Errorf("合约 %s 处理 panic: %v", st.Config.Instrument, r)
		}
	}()

	// 冷却检查最先做：冷却中的合约整轮跳过，连订单同步也不做
	if now := e.now(); now.Before(st.CooldownUntil) {
		logger.WithField("symbol", st.Config.Instrument).
			Debugf("冷却中，跳过本轮处理（剩余 %s）", st.CooldownUntil.Sub(now).Round(time.Second))
		return
	}

	e.syncAccountOrders(ctx, st, cycA.acct, cycA.openOrders)
	e.syncAccountOrders(ctx, st, cycB.acct, cycB.openOrders)

	snapA := makeSnapshot(cycA.positions, st.Config.Instrument)
	snapB := makeSnapshot(cycB.positions, st.Config.Instrument)
	e.processSymbol(ctx, st, snapA, snapB)
}

// snapshotAccount 拉取一个账户的仓位与开放订单
func (e *Engine) snapshotAccount(ctx context.Context, acct *AccountRuntime) (*accountCycle, error) {
	positions, err := withReauth(ctx, acct, func(ctx context.Context) ([]grvt.Position, error) {
		return acct.Client.Positions(ctx)
	})
	if err != nil {
		return nil, err
	}
	orders, err := withReauth(ctx, acct, func(ctx context.Context) ([]grvt.Order, error) {
		return acct.Client.OpenOrders(ctx)
	})
	if err != nil {
		return nil, err
	}
	byInstrument := make(map[string]grvt.Position, len(positions))
	for _, p := range positions {
		byInstrument[p.Instrument] = p
	}
	return &accountCycle{acct: acct, positions: byInstrument, openOrders: orders}, nil
}

// makeSnapshot 把原始仓位行换算成决策用的快照，没有仓位时全零
func makeSnapshot(positions map[string]grvt.Position, instrument string) PositionSnapshot {
	p, ok := positions[instrument]
	if !ok {
		return PositionSnapshot{
			Size:           decimal.Zero,
			MarkPrice:      decimal.Zero,
			EntryPrice:     decimal.Zero,
			SignedNotional: decimal.Zero,
			AbsNotional:    decimal.Zero,
		}
	}
	mark := p.MarkPrice
	if mark.Sign() <= 0 {
		// 行情异常时退回开仓均价估值
		mark = p.EntryPrice
	}
	signed := p.Size.Mul(mark)
	return PositionSnapshot{
		Size:           p.Size,
		MarkPrice:      mark,
		EntryPrice:     p.EntryPrice,
		SignedNotional: signed,
		AbsNotional:    signed.Abs(),
	}
}

// bootstrap 启动时把两腿的存量仓位回放进各合约的账本，
// 并认领重启前遗留的策略订单
func (e *Engine) bootstrap(ctx context.Context) {
	now := e.now()
	cycA, errA := e.snapshotAccount(ctx, e.accountA)
	cycB, errB := e.snapshotAccount(ctx, e.accountB)
	if errA != nil || errB != nil {
		logger.Warnf("启动快照失败（A=%v B=%v），账本以空状态起步", errA, errB)
		return
	}
	for _, instrument := range e.order {
		st := e.symbols[instrument]
		st.BootstrapPosition(e.accountA.Label, makeSnapshot(cycA.positions, instrument), now)
		st.BootstrapPosition(e.accountB.Label, makeSnapshot(cycB.positions, instrument), now)
		e.syncAccountOrders(ctx, st, e.accountA, cycA.openOrders)
		e.syncAccountOrders(ctx, st, e.accountB, cycB.openOrders)
	}
}

// cancelOrderByID 撤单。占位 id 无单可撤按成功算；
// 交易所报订单已不存在同样按成功算。
func (e *Engine) cancelOrderByID(ctx context.Context, acct *AccountRuntime, orderID string) bool {
	if isPlaceholderOrderID(orderID) {
		return true
	}
	_, err := withReauth(ctx, acct, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, acct.Client.CancelOrder(ctx, orderID)
	})
	if err == nil || grvt.IsOrderGone(err) {
		return true
	}
	logger.WithField("order", orderID).Warnf("撤单失败: %v", err)
	return false
}

// cleanupStrategyOrdersOnStop 停机清理：撤掉策略订单，
// 每个合约可按配置保留最近的 N 个
func (e *Engine) cleanupStrategyOrdersOnStop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	now := e.now()

	for _, instrument := range e.order {
		st := e.symbols[instrument]
		active := e.activeStrategyOrders(st, now)
		sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })
		for i, mo := range active {
			if i < e.cfg.StopKeepStrategyOrders {
				continue
			}
			acct := e.accountA
			if mo.AccountLabel == e.accountB.Label {
				acct = e.accountB
			}
			e.cancelManagedOrder(ctx, st, acct, mo, "shutdown")
		}
	}
}

// mmrCheck 维持保证金率检查。摘要拉取失败时跳过本轮检查。
func (e *Engine) mmrCheck(ctx context.Context, acct *AccountRuntime) {
	summary, err := withReauth(ctx, acct, func(ctx context.Context) (*grvt.AccountSummary, error) {
		return acct.Client.AggregatedAccountSummary(ctx)
	})
	if err != nil {
		logger.Warnf("账户 %s 摘要拉取失败，跳过保证金检查: %v", acct.Name, err)
		return
	}
	if summary.TotalEquity.Sign() <= 0 {
		return
	}
	ratio := summary.MaintenanceMargin.Div(summary.TotalEquity)
	if ratio.GreaterThanOrEqual(e.cfg.MMRAlertThreshold) {
		e.alerts.Notify("维持保证金率过高",
			fmt.Sprintf("%s MMR=%s（维持保证金 %s / 总权益 %s）", acct.Name,
				ratio.StringFixed(4), summary.MaintenanceMargin, summary.TotalEquity),
			"mmr_"+acct.Label, mmrAlertCooldown)
	}
}

// sendDailyStuckReport 每天一次（按北京时间切日）汇总仍未对冲的合约
func (e *Engine) sendDailyStuckReport() {
	now := e.now()
	dayKey := now.In(beijing).Format("2006-01-02")

	var stuck []string
	for _, instrument := range e.order {
		st := e.symbols[instrument]
		if st.UnhedgedSince != nil && now.Sub(*st.UnhedgedSince) > e.cfg.StuckThreshold {
			stuck = append(stuck, fmt.Sprintf("%s（%s）", instrument,
				now.Sub(*st.UnhedgedSince).Round(time.Minute)))
		}
	}
	if len(stuck) == 0 {
		return
	}
	if !e.alerts.ClaimDailyReport(dayKey) {
		return
	}
	e.alerts.Notify("每日卡滞汇总",
		fmt.Sprintf("以下合约失衡超过 %s：\n%s", e.cfg.StuckThreshold, strings.Join(stuck, "\n")),
		"daily_stuck_report", 0)
}
