package hedge

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hedgebot/gohedge/internal/metrics"
	"github.com/hedgebot/gohedge/pkg/logger"
	"github.com/hedgebot/gohedge/pkg/marketmath"

	"github.com/hedgebot/gohedge/pkg/grvt"
)

// 各类告警的去重冷却
const (
	stuckAlertCooldown    = 3600 * time.Second
	boundAlertCooldown    = 900 * time.Second
	mismatchAlertCooldown = 1800 * time.Second
)

// clipSteps 名义价值裁剪的步进次数
const clipSteps = 50

// processSymbol 单个合约的一轮决策（冷却检查已在进入前完成）。
//
// 状态机顺序：订单数上限 → 未对冲计时 → 总仓位边界 →
// 持平播种 / 失衡对冲。任何一步失败只影响本合约本轮。
func (e *Engine) processSymbol(ctx context.Context, st *SymbolState, snapA, snapB PositionSnapshot) {
	now := e.now()
	cfg := st.Config

	absA, absB := snapA.AbsNotional, snapB.AbsNotional
	diff := absA.Sub(absB).Abs()
	total := absA.Add(absB)

	metrics.Imbalance.WithLabelValues(cfg.Instrument).Set(diff.InexactFloat64())
	metrics.OpenLots.WithLabelValues(cfg.Instrument).Set(float64(st.OpenLotCount()))

	// 订单数上限：已接近平衡时每账户最多 1 单，失衡时放宽到 2 单
	perAccountCap := 2
	if diff.LessThan(e.cfg.SingleOrderDiffThreshold) {
		perAccountCap = 1
	}
	e.enforceAccountOrderCap(ctx, st, e.accountA, perAccountCap, now)
	e.enforceAccountOrderCap(ctx, st, e.accountB, perAccountCap, now)

	e.checkUnhedgedAlert(st, absA, absB, now)

	// 总仓位边界
	boundBlocked := false
	switch cfg.PositionMode {
	case PositionModeIncrease:
		// 上限为零视为完全禁止扩仓
		if total.GreaterThanOrEqual(cfg.MaxTotalPositionUSDT) {
			boundBlocked = true
			e.alerts.Notify("总仓位达到上限",
				fmt.Sprintf("%s 总仓位 %s ≥ 上限 %s，暂停扩仓", cfg.Instrument, total, cfg.MaxTotalPositionUSDT),
				"max_total_"+cfg.Instrument, boundAlertCooldown)
		}
	case PositionModeDecrease:
		if total.LessThanOrEqual(cfg.MinTotalPositionUSDT) {
			boundBlocked = true
			e.alerts.Notify("总仓位达到下限",
				fmt.Sprintf("%s 总仓位 %s ≤ 下限 %s，暂停缩仓", cfg.Instrument, total, cfg.MinTotalPositionUSDT),
				"min_total_"+cfg.Instrument, boundAlertCooldown)
		}
	}

	if absA.Equal(absB) {
		if boundBlocked {
			return
		}
		e.seedBalancedOrders(ctx, st, snapA, snapB, perAccountCap, now)
		return
	}
	e.hedgeImbalance(ctx, st, snapA, snapB, diff, perAccountCap, now)
}

// checkUnhedgedAlert 维护未对冲计时器：两腿持平即归零，
// 失衡持续超过阈值则发出限频告警。
func (e *Engine) checkUnhedgedAlert(st *SymbolState, absA, absB decimal.Decimal, now time.Time) {
	if absA.Equal(absB) {
		st.UnhedgedSince = nil
		st.StuckAlertSent = false
		return
	}
	if st.UnhedgedSince == nil {
		t := now
		st.UnhedgedSince = &t
		return
	}
	elapsed := now.Sub(*st.UnhedgedSince)
	// 每段失衡期只报一次，持平复位后才会再报
	if elapsed > e.cfg.StuckThreshold && !st.StuckAlertSent {
		st.StuckAlertSent = true
		e.alerts.Notify("对冲卡滞",
			fmt.Sprintf("%s 两腿失衡已持续 %s（A=%s B=%s）", st.Config.Instrument,
				elapsed.Round(time.Minute), absA, absB),
			"stuck_"+st.Config.Instrument, stuckAlertCooldown)
	}
}

// decideEqualSides 两腿持平时决定双边开仓方向。
//
// 扩仓模式用配置的 tie-break；缩仓模式优先选择能减少两腿现有
// 反向库存的方向。两腿意外持有同号仓位时退回 tie-break 的反方向
// 无意义，按配置 tie-break 处理并告警。两腿均为零仓时无从缩仓。
func (e *Engine) decideEqualSides(st *SymbolState, snapA, snapB PositionSnapshot) (sideA, sideB grvt.Side, ok bool) {
	cfg := st.Config
	if cfg.PositionMode == PositionModeIncrease {
		return cfg.ASideWhenEqual, cfg.ASideWhenEqual.Opposite(), true
	}

	signA, signB := snapA.Size.Sign(), snapB.Size.Sign()
	switch {
	case signA > 0 && signB < 0:
		return grvt.SideSell, grvt.SideBuy, true
	case signA < 0 && signB > 0:
		return grvt.SideBuy, grvt.SideSell, true
	case signA == 0 && signB == 0:
		return "", "", false
	default:
		e.alerts.Notify("仓位方向异常",
			fmt.Sprintf("%s 缩仓模式下两腿持有同号仓位（A=%s B=%s），退回配置方向",
				cfg.Instrument, snapA.Size, snapB.Size),
			"same_sign_"+cfg.Instrument, mismatchAlertCooldown)
		return cfg.ASideWhenEqual, cfg.ASideWhenEqual.Opposite(), true
	}
}

// seedBalancedOrders 两腿持平时双边播种：每个未达到订单数上限的腿
// 挂一张标准名义价值的被动单，方向互为对手
func (e *Engine) seedBalancedOrders(ctx context.Context, st *SymbolState, snapA, snapB PositionSnapshot, perAccountCap int, now time.Time) {
	sideA, sideB, ok := e.decideEqualSides(st, snapA, snapB)
	if !ok {
		return
	}
	notional := st.Config.OrderNotionalUSDT
	if e.activeOrderCount(st, e.accountA.Label, now) < perAccountCap {
		e.placePostOnlyWithRetry(ctx, st, e.accountA, sideA, nil, notional)
	}
	if e.activeOrderCount(st, e.accountB.Label, now) < perAccountCap {
		e.placePostOnlyWithRetry(ctx, st, e.accountB, sideB, nil, notional)
	}
}

// requiredHedgeSideGuard 推导小腿补仓的方向与 guard price。
//
// 优先看最早一笔属于对手账户的未配对 lot：补仓方向是它的反方向，
// 且成交价格不得劣于该 lot 的价格。账本为空时退回大腿的开仓均价，
// 方向取与大腿同向（跟上大腿的敞口）。
func (e *Engine) requiredHedgeSideGuard(st *SymbolState, small *AccountRuntime, large PositionSnapshot) (grvt.Side, *decimal.Decimal) {
	if lot := st.OldestOpposingLot(small.Label); lot != nil {
		price := lot.Price
		return lot.SourceSide.Opposite(), &price
	}
	side := grvt.SideBuy
	if large.Size.Sign() < 0 {
		side = grvt.SideSell
	}
	if large.EntryPrice.Sign() > 0 {
		price := large.EntryPrice
		return side, &price
	}
	return side, nil
}

// clipOrderNotionalToTotalBound 按固定步进裁剪下单名义价值，
// 保证订单全部成交后总仓位不越过边界。裁到 0 表示无法下单。
func clipOrderNotionalToTotalBound(mode PositionMode, smallSigned, largeAbs decimal.Decimal, isBuy bool, notional, bound decimal.Decimal) decimal.Decimal {
	if notional.Sign() <= 0 {
		return decimal.Zero
	}
	step := notional.Div(decimal.NewFromInt(clipSteps))
	for i := 0; i <= clipSteps; i++ {
		projected := largeAbs.Add(marketmath.ProjectAbsNotional(smallSigned, isBuy, notional))
		switch mode {
		case PositionModeIncrease:
			if projected.LessThanOrEqual(bound) {
				return notional
			}
		case PositionModeDecrease:
			if projected.GreaterThanOrEqual(bound) {
				return notional
			}
		}
		notional = notional.Sub(step)
		if notional.Sign() <= 0 {
			return decimal.Zero
		}
	}
	return decimal.Zero
}

// hedgeImbalance 失衡时为小腿补一张对冲单。任何非零差值都会走到
// 这里：容忍区内先把小腿补到订单数上限，已有同向在途对冲且达到
// 上限后才静默。
func (e *Engine) hedgeImbalance(ctx context.Context, st *SymbolState, snapA, snapB PositionSnapshot, diff decimal.Decimal, perAccountCap int, now time.Time) {
	cfg := st.Config

	small, smallSnap := e.accountA, snapA
	largeSnap := snapB
	if snapA.AbsNotional.GreaterThan(snapB.AbsNotional) {
		small, smallSnap = e.accountB, snapB
		largeSnap = snapA
	}

	side, guard := e.requiredHedgeSideGuard(st, small, largeSnap)

	smallCount := e.activeOrderCount(st, small.Label, now)
	hedgeOpen := e.activeHedgeNotional(st, small.Label, side, now)

	if diff.LessThanOrEqual(cfg.ImbalanceLimitUSDT) && hedgeOpen.Sign() > 0 && smallCount >= perAccountCap {
		return
	}
	if smallCount >= perAccountCap {
		return
	}

	// 在途对冲单按五成折算，避免重复补仓
	gap := largeSnap.AbsNotional.Sub(smallSnap.AbsNotional.Add(hedgeOpen.Div(decimal.NewFromInt(2))))
	if gap.Sign() <= 0 {
		return
	}

	// 失衡显著时直接用标准名义价值尽快补上第二张单；
	// 否则限制在 2×gap 以内避免反向过冲
	notional := cfg.OrderNotionalUSDT
	if diff.LessThan(e.cfg.SingleOrderDiffThreshold) {
		notional = decimal.Min(cfg.OrderNotionalUSDT, gap.Mul(decimal.NewFromInt(2)))
	}

	bound := cfg.MaxTotalPositionUSDT
	if cfg.PositionMode == PositionModeDecrease {
		bound = cfg.MinTotalPositionUSDT
	}
	notional = clipOrderNotionalToTotalBound(cfg.PositionMode, smallSnap.SignedNotional, largeSnap.AbsNotional,
		side == grvt.SideBuy, notional, bound)
	if notional.Sign() <= 0 {
		logger.WithField("symbol", cfg.Instrument).Debugf("对冲名义价值被边界裁剪为零，跳过")
		return
	}

	e.placePostOnlyWithRetry(ctx, st, small, side, guard, notional)
}
