package hedge

import (
	"context"
	"testing"
	"testing/quick"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hedgebot/gohedge/pkg/grvt"
	"github.com/hedgebot/gohedge/pkg/marketmath"
)

func orderSide(o *grvt.Order) grvt.Side { return o.Side() }

// TestScenarioBalancedSeeding 两腿零仓位时双边播种：
// A 按配置方向买入，B 反方向卖出，名义价值均为标准值
func TestScenarioBalancedSeeding(t *testing.T) {
	engine, st, clientA, clientB, _ := newTestEngine(testSymbolConfig())
	ctx := context.Background()

	engine.processSymbol(ctx, st, snap("0", "100", "0"), snap("0", "100", "0"))

	if len(clientA.created) != 1 || len(clientB.created) != 1 {
		t.Fatalf("两腿应各下一单，实际 A=%d B=%d", len(clientA.created), len(clientB.created))
	}
	if orderSide(clientA.created[0]) != grvt.SideBuy {
		t.Error("A 腿应按配置方向买入")
	}
	if orderSide(clientB.created[0]) != grvt.SideSell {
		t.Error("B 腿应反方向卖出")
	}

	// 买单挂在 bid1=99，名义价值向下贴近标准值
	legA := clientA.created[0].Legs[0]
	notional := legA.Size.Mul(legA.LimitPrice)
	if notional.GreaterThan(st.Config.OrderNotionalUSDT) {
		t.Errorf("下单名义价值 %s 不应超过标准值 %s", notional, st.Config.OrderNotionalUSDT)
	}
	if notional.LessThan(st.Config.OrderNotionalUSDT.Mul(decimal.RequireFromString("0.9"))) {
		t.Errorf("下单名义价值 %s 偏离标准值过多", notional)
	}
	if len(st.ManagedOrders) != 2 {
		t.Fatalf("下单成功后应立即登记本地视图，实际 %d 条", len(st.ManagedOrders))
	}
}

// TestScenarioImbalanceHedge 失衡时为小腿补单，
// 方向与 guard price 来自最早的对手 lot
func TestScenarioImbalanceHedge(t *testing.T) {
	engine, st, clientA, clientB, _ := newTestEngine(testSymbolConfig())
	ctx := context.Background()

	// B 腿多出 300：B 曾买入 300 未被对冲
	st.ApplyFill("B", grvt.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(300), engine.now())

	snapA := snap("10", "100", "100")   // abs 1000
	snapB := snap("13", "100", "100")   // abs 1300
	engine.processSymbol(ctx, st, snapA, snapB)

	if len(clientB.created) != 0 {
		t.Fatal("大腿不应下单")
	}
	if len(clientA.created) != 1 {
		t.Fatalf("小腿应补一单，实际 %d", len(clientA.created))
	}
	hedge := clientA.created[0]
	// B 的 lot 是买入，A 的补单应是它的反方向
	if orderSide(hedge) != grvt.SideSell {
		t.Errorf("补单方向应为卖出，实际 %s", orderSide(hedge))
	}
	// 卖单价不得低于 guard=100；ask1=101 已优于 guard
	if hedge.Legs[0].LimitPrice.LessThan(decimal.NewFromInt(100)) {
		t.Errorf("补单价格 %s 低于 guard price", hedge.Legs[0].LimitPrice)
	}
}

// TestScenarioImbalanceSmallDrift 小幅漂移超过容忍时名义价值限制在 2×gap
func TestScenarioImbalanceSmallDrift(t *testing.T) {
	cfg := testSymbolConfig()
	cfg.ImbalanceLimitUSDT = decimal.NewFromInt(2)
	engine, st, clientA, _, _ := newTestEngine(cfg)
	engine.cfg.SingleOrderDiffThreshold = decimal.NewFromInt(1000)
	ctx := context.Background()

	st.ApplyFill("B", grvt.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(10), engine.now())
	snapA := snap("10", "100", "100")     // abs 1000
	snapB := snap("10.1", "100", "100")   // abs 1010, diff=10 < 阈值 1000
	engine.processSymbol(ctx, st, snapA, snapB)

	if len(clientA.created) != 1 {
		t.Fatalf("应补一单，实际 %d", len(clientA.created))
	}
	leg := clientA.created[0].Legs[0]
	notional := leg.Size.Mul(leg.LimitPrice)
	// gap=10，上限 2×gap=20
	if notional.GreaterThan(decimal.NewFromInt(20)) {
		t.Errorf("小幅漂移时名义价值 %s 应不超过 2×gap=20", notional)
	}
}

// TestHedgeBelowImbalanceLimit 差值在容忍区内时仍为小腿补单，
// 直到小腿订单数达到上限为止
func TestHedgeBelowImbalanceLimit(t *testing.T) {
	engine, st, clientA, clientB, _ := newTestEngine(testSymbolConfig())
	ctx := context.Background()

	// A=1000 B=900，diff=100 < 容忍 200，B 腿无在途对冲
	engine.processSymbol(ctx, st, snap("10", "100", "100"), snap("9", "100", "100"))

	if len(clientA.created) != 0 {
		t.Fatal("大腿不应下单")
	}
	if len(clientB.created) != 1 {
		t.Fatalf("容忍区内小腿也应补单，实际 %d", len(clientB.created))
	}
	if orderSide(clientB.created[0]) != grvt.SideBuy {
		t.Errorf("补单方向应跟随大腿持多，实际 %s", orderSide(clientB.created[0]))
	}
}

// TestHedgeSuppressedAtCapWithinLimit 容忍区内小腿已挂满同向对冲单时静默
func TestHedgeSuppressedAtCapWithinLimit(t *testing.T) {
	engine, st, _, clientB, _ := newTestEngine(testSymbolConfig())
	ctx := context.Background()
	base := engine.now()

	for i, id := range []string{"ex-h1", "ex-h2"} {
		st.ManagedOrders[id] = &ManagedOrder{
			OrderID:       id,
			AccountLabel:  "B",
			Instrument:    st.Config.Instrument,
			Side:          grvt.SideBuy,
			Price:         decimal.NewFromInt(100),
			Size:          decimal.NewFromInt(1),
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
			LastSeenAt:    base,
			StrategyOwned: true,
		}
	}

	engine.processSymbol(ctx, st, snap("10", "100", "100"), snap("9", "100", "100"))

	if len(clientB.created) != 0 {
		t.Fatal("已达订单数上限且有同向在途对冲时不应再下单")
	}
}

// TestOppositeSideOpenOrderIgnoredInGap 小腿的反向在途订单不冲减缺口
func TestOppositeSideOpenOrderIgnoredInGap(t *testing.T) {
	engine, st, clientA, clientB, _ := newTestEngine(testSymbolConfig())
	ctx := context.Background()
	base := engine.now()

	// B 腿挂着一张 1200 名义的卖单；补仓方向是买入，不应被它抵扣
	st.ManagedOrders["ex-s"] = &ManagedOrder{
		OrderID:       "ex-s",
		AccountLabel:  "B",
		Instrument:    st.Config.Instrument,
		Side:          grvt.SideSell,
		Price:         decimal.NewFromInt(100),
		Size:          decimal.NewFromInt(12),
		CreatedAt:     base,
		LastSeenAt:    base,
		StrategyOwned: true,
	}

	// A=2000 B=1500，缺口 500
	engine.processSymbol(ctx, st, snap("20", "100", "100"), snap("15", "100", "100"))

	if len(clientA.created) != 0 {
		t.Fatal("大腿不应下单")
	}
	if len(clientB.created) != 1 {
		t.Fatalf("反向在途订单不应吞掉缺口，小腿应补单，实际 %d", len(clientB.created))
	}
	if orderSide(clientB.created[0]) != grvt.SideBuy {
		t.Errorf("补单方向应为买入，实际 %s", orderSide(clientB.created[0]))
	}
}

// TestScenarioBoundBlocked 总仓位触顶时持平播种被拦截
func TestScenarioBoundBlocked(t *testing.T) {
	cfg := testSymbolConfig()
	cfg.MaxTotalPositionUSDT = decimal.NewFromInt(2000)
	engine, st, clientA, clientB, _ := newTestEngine(cfg)
	ctx := context.Background()

	// 两腿各 1000，总仓位 2000 == 上限
	engine.processSymbol(ctx, st, snap("10", "100", "100"), snap("-10", "100", "100"))

	if len(clientA.created) != 0 || len(clientB.created) != 0 {
		t.Fatal("触顶后不应再扩仓")
	}
}

// TestDecideEqualSidesDecrease 缩仓模式优先选择减仓方向
func TestDecideEqualSidesDecrease(t *testing.T) {
	cfg := testSymbolConfig()
	cfg.PositionMode = PositionModeDecrease
	engine, st, _, _, _ := newTestEngine(cfg)

	// A 多 B 空 → A 卖 B 买
	sideA, sideB, ok := engine.decideEqualSides(st, snap("10", "100", "100"), snap("-10", "100", "100"))
	if !ok || sideA != grvt.SideSell || sideB != grvt.SideBuy {
		t.Errorf("A 多 B 空应 A 卖 B 买，实际 %s/%s ok=%v", sideA, sideB, ok)
	}

	// A 空 B 多 → A 买 B 卖
	sideA, sideB, ok = engine.decideEqualSides(st, snap("-10", "100", "100"), snap("10", "100", "100"))
	if !ok || sideA != grvt.SideBuy || sideB != grvt.SideSell {
		t.Errorf("A 空 B 多应 A 买 B 卖，实际 %s/%s ok=%v", sideA, sideB, ok)
	}

	// 两腿皆零：无从缩仓
	if _, _, ok = engine.decideEqualSides(st, snap("0", "100", "0"), snap("0", "100", "0")); ok {
		t.Error("零仓位的缩仓模式不应播种")
	}

	// 同号仓位：退回配置方向
	sideA, sideB, ok = engine.decideEqualSides(st, snap("10", "100", "100"), snap("10", "100", "100"))
	if !ok || sideA != cfg.ASideWhenEqual || sideB != cfg.ASideWhenEqual.Opposite() {
		t.Errorf("同号仓位应退回配置方向，实际 %s/%s ok=%v", sideA, sideB, ok)
	}
}

// TestEnforceAccountOrderCap 超过上限时撤掉最早的订单
func TestEnforceAccountOrderCap(t *testing.T) {
	engine, st, clientA, _, _ := newTestEngine(testSymbolConfig())
	ctx := context.Background()
	base := engine.now()

	for i, id := range []string{"ex-old", "ex-mid", "ex-new"} {
		st.ManagedOrders[id] = &ManagedOrder{
			OrderID:       id,
			AccountLabel:  "A",
			Instrument:    st.Config.Instrument,
			Side:          grvt.SideBuy,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
			LastSeenAt:    base,
			StrategyOwned: true,
		}
	}

	engine.enforceAccountOrderCap(ctx, st, engine.accountA, 1, engine.now())

	if n := engine.activeOrderCount(st, "A", engine.now()); n != 1 {
		t.Fatalf("收敛后活跃订单应为 1，实际 %d", n)
	}
	if len(clientA.cancelled) != 2 {
		t.Fatalf("应撤 2 单，实际 %d", len(clientA.cancelled))
	}
	if clientA.cancelled[0] != "ex-old" || clientA.cancelled[1] != "ex-mid" {
		t.Errorf("应先撤最早的订单，实际 %v", clientA.cancelled)
	}
	if st.ManagedOrders["ex-new"].Closed {
		t.Error("最新的订单应保留")
	}
}

// TestCooldownSkipsSymbolPass 冷却窗口内整个合约跳过：
// 不同步订单、不收敛订单数、不下单
func TestCooldownSkipsSymbolPass(t *testing.T) {
	engine, st, clientA, clientB, _ := newTestEngine(testSymbolConfig())
	ctx := context.Background()
	base := engine.now()

	// 三张 A 腿订单超出任何上限；开放订单列表为空，
	// 若同步执行会把它们当消失订单处理掉
	for i, id := range []string{"ex-1", "ex-2", "ex-3"} {
		st.ManagedOrders[id] = &ManagedOrder{
			OrderID:       id,
			AccountLabel:  "A",
			Instrument:    st.Config.Instrument,
			Side:          grvt.SideBuy,
			Price:         decimal.NewFromInt(100),
			Size:          decimal.NewFromInt(1),
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
			LastSeenAt:    base,
			StrategyOwned: true,
		}
	}
	st.CooldownUntil = base.Add(time.Minute)

	engine.guardedProcess(ctx, st, &accountCycle{acct: engine.accountA}, &accountCycle{acct: engine.accountB})

	if len(clientA.created) != 0 || len(clientB.created) != 0 {
		t.Fatal("冷却中不应下单")
	}
	if len(clientA.cancelled) != 0 {
		t.Error("冷却中不应做订单数收敛")
	}
	for _, id := range []string{"ex-1", "ex-2", "ex-3"} {
		if st.ManagedOrders[id].Closed {
			t.Errorf("冷却中不应同步订单状态，%s 被关闭", id)
		}
	}
}

// TestClipOrderNotionalToTotalBound 属性：裁剪后成交不会越过上限
func TestClipOrderNotionalToTotalBound(t *testing.T) {
	property := func(smallCents, largeCents, notionalCents, boundCents uint32) bool {
		small := decimal.New(int64(smallCents%2_000_000), -2)
		large := decimal.New(int64(largeCents%2_000_000), -2)
		notional := decimal.New(int64(notionalCents%500_000), -2)
		bound := decimal.New(int64(boundCents%4_000_000), -2)

		clipped := clipOrderNotionalToTotalBound(PositionModeIncrease, small, large, true, notional, bound)
		if clipped.Sign() < 0 {
			return false
		}
		if clipped.Sign() == 0 {
			return true
		}
		projected := large.Add(marketmath.ProjectAbsNotional(small, true, clipped))
		return projected.LessThanOrEqual(bound)
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 500}); err != nil {
		t.Error(err)
	}
}

// TestUnhedgedTimer 失衡计时：持平归零，失衡累计
func TestUnhedgedTimer(t *testing.T) {
	engine, st, _, _, now := newTestEngine(testSymbolConfig())

	engine.checkUnhedgedAlert(st, decimal.NewFromInt(1000), decimal.NewFromInt(1300), *now)
	if st.UnhedgedSince == nil {
		t.Fatal("失衡时应开始计时")
	}
	started := *st.UnhedgedSince

	*now = now.Add(time.Hour)
	engine.checkUnhedgedAlert(st, decimal.NewFromInt(1000), decimal.NewFromInt(1300), *now)
	if st.UnhedgedSince == nil || !st.UnhedgedSince.Equal(started) {
		t.Fatal("持续失衡不应重置计时")
	}

	engine.checkUnhedgedAlert(st, decimal.NewFromInt(1300), decimal.NewFromInt(1300), *now)
	if st.UnhedgedSince != nil {
		t.Fatal("持平后计时应归零")
	}
}

// TestStuckAlertOncePerEpisode 卡滞告警每段失衡期只发一次，持平后复位
func TestStuckAlertOncePerEpisode(t *testing.T) {
	engine, st, _, _, now := newTestEngine(testSymbolConfig())
	a := decimal.NewFromInt(1000)
	b := decimal.NewFromInt(1300)

	engine.checkUnhedgedAlert(st, a, b, *now)
	*now = now.Add(engine.cfg.StuckThreshold + time.Minute)
	engine.checkUnhedgedAlert(st, a, b, *now)
	if !st.StuckAlertSent {
		t.Fatal("超过阈值后应标记已告警")
	}

	// 持续失衡期间标记保持，不再重复触发
	*now = now.Add(time.Hour)
	engine.checkUnhedgedAlert(st, a, b, *now)
	if !st.StuckAlertSent {
		t.Fatal("失衡期内标记不应被清除")
	}

	// 持平复位，下一段失衡期重新计
	engine.checkUnhedgedAlert(st, b, b, *now)
	if st.StuckAlertSent || st.UnhedgedSince != nil {
		t.Fatal("持平后应复位告警标记与计时")
	}
}

// TestZeroMaxTotalBlocksIncrease 扩仓模式下上限为零等于完全禁止开仓
func TestZeroMaxTotalBlocksIncrease(t *testing.T) {
	cfg := testSymbolConfig()
	cfg.MaxTotalPositionUSDT = decimal.Zero
	engine, st, clientA, clientB, _ := newTestEngine(cfg)
	ctx := context.Background()

	engine.processSymbol(ctx, st, snap("0", "100", "0"), snap("0", "100", "0"))
	if len(clientA.created) != 0 || len(clientB.created) != 0 {
		t.Fatal("上限为零时不应播种")
	}

	// 失衡路径的补单同样被裁剪为零
	engine.processSymbol(ctx, st, snap("10", "100", "100"), snap("9", "100", "100"))
	if len(clientA.created) != 0 || len(clientB.created) != 0 {
		t.Fatal("上限为零时失衡补单也应被裁剪")
	}
}

// TestPostOnlyExhaustionCooldown post-only 连续被拒后进入冷却
func TestPostOnlyExhaustionCooldown(t *testing.T) {
	engine, st, clientA, _, _ := newTestEngine(testSymbolConfig())
	ctx := context.Background()

	clientA.createErr = &grvt.APIError{Status: 400, Message: "order would match resting order (post only)"}
	ok := engine.placePostOnlyWithRetry(ctx, st, engine.accountA, grvt.SideBuy, nil, decimal.NewFromInt(1000))
	if ok {
		t.Fatal("持续被拒应返回失败")
	}
	if !st.CooldownUntil.After(engine.now()) {
		t.Fatal("重试耗尽应进入冷却窗口")
	}
}

// TestPlacementGuardPrice 卖单 guard price 高于 ask1 时按 guard 定价
func TestPlacementGuardPrice(t *testing.T) {
	engine, st, clientA, _, _ := newTestEngine(testSymbolConfig())
	ctx := context.Background()

	guard := decimal.NewFromInt(105) // ask1=101
	ok := engine.placePostOnlyWithRetry(ctx, st, engine.accountA, grvt.SideSell, &guard, decimal.NewFromInt(1000))
	if !ok {
		t.Fatal("下单应成功")
	}
	price := clientA.created[0].Legs[0].LimitPrice
	if price.LessThan(guard) {
		t.Errorf("卖单价 %s 不应低于 guard %s", price, guard)
	}
}
