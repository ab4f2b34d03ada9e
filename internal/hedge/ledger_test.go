package hedge

import (
	"math/rand"
	"testing"
	"testing/quick"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hedgebot/gohedge/pkg/grvt"
)

func lotSum(s *SymbolState) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range s.Lots {
		total = total.Add(lot.RemainingNotional)
	}
	return total
}

// TestApplyFillBasicMatch 反方向反账户的成交按 FIFO 消耗 lot
func TestApplyFillBasicMatch(t *testing.T) {
	st := NewSymbolState(testSymbolConfig())
	now := time.Unix(1_700_000_000, 0)

	// A 买入 1000，形成一个 lot
	st.ApplyFill("A", grvt.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(1000), now)
	if len(st.Lots) != 1 || !st.Lots[0].RemainingNotional.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("买入后应有一个 1000 的 lot，实际 %v", st.Lots)
	}

	// B 以更高价卖出 600，消耗 600
	st.ApplyFill("B", grvt.SideSell, decimal.NewFromInt(101), decimal.NewFromInt(600), now)
	if len(st.Lots) != 1 || !st.Lots[0].RemainingNotional.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("部分配对后剩余应为 400，实际 %v", st.Lots)
	}

	// B 再卖出 700：400 配对，剩余 300 成为 B 的新 lot
	st.ApplyFill("B", grvt.SideSell, decimal.NewFromInt(101), decimal.NewFromInt(700), now)
	if len(st.Lots) != 1 {
		t.Fatalf("应只剩一个 lot，实际 %d 个", len(st.Lots))
	}
	lot := st.Lots[0]
	if lot.SourceAccount != "B" || lot.SourceSide != grvt.SideSell || !lot.RemainingNotional.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("剩余 lot 不对: %+v", lot)
	}
}

// TestApplyFillPriceGate 价格不满足门槛时不配对
func TestApplyFillPriceGate(t *testing.T) {
	st := NewSymbolState(testSymbolConfig())
	now := time.Unix(1_700_000_000, 0)

	// A 在 100 买入
	st.ApplyFill("A", grvt.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(1000), now)

	// B 在 99 卖出：99 < 100，不能配对，各自成 lot
	st.ApplyFill("B", grvt.SideSell, decimal.NewFromInt(99), decimal.NewFromInt(500), now)
	if len(st.Lots) != 2 {
		t.Fatalf("价格门槛不满足时不应配对，实际 lot 数 %d", len(st.Lots))
	}

	// B 在 100 平价卖出：允许配对
	st.ApplyFill("B", grvt.SideSell, decimal.NewFromInt(100), decimal.NewFromInt(400), now)
	if !st.Lots[0].RemainingNotional.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("平价应配对，A lot 剩余应为 600，实际 %s", st.Lots[0].RemainingNotional)
	}
}

// TestApplyFillSameAccountNoMatch 同账户的成交永不互相配对
func TestApplyFillSameAccountNoMatch(t *testing.T) {
	st := NewSymbolState(testSymbolConfig())
	now := time.Unix(1_700_000_000, 0)

	st.ApplyFill("A", grvt.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(1000), now)
	st.ApplyFill("A", grvt.SideSell, decimal.NewFromInt(105), decimal.NewFromInt(1000), now)
	if len(st.Lots) != 2 {
		t.Fatalf("同账户成交不应配对，实际 lot 数 %d", len(st.Lots))
	}
}

// TestLotConservation 属性：总成交额减去账本剩余额恰好是配对额的两倍
// （每次配对同时消耗成交与 lot 各一份）
func TestLotConservation(t *testing.T) {
	property := func(seed int64) bool {
		rng := rand.New(rand.NewSource(seed))
		st := NewSymbolState(testSymbolConfig())
		now := time.Unix(1_700_000_000, 0)

		totalFills := decimal.Zero
		for i := 0; i < 50; i++ {
			account := "A"
			if rng.Intn(2) == 1 {
				account = "B"
			}
			side := grvt.SideBuy
			if rng.Intn(2) == 1 {
				side = grvt.SideSell
			}
			price := decimal.NewFromInt(int64(90 + rng.Intn(21)))
			notional := decimal.NewFromInt(int64(1 + rng.Intn(2000)))
			st.ApplyFill(account, side, price, notional, now)
			totalFills = totalFills.Add(notional)

			matchedTwice := totalFills.Sub(lotSum(st))
			if matchedTwice.Sign() < 0 {
				return false
			}
			// 配对消耗必须是偶数份
			if !matchedTwice.Div(decimal.NewFromInt(2)).Mul(decimal.NewFromInt(2)).Equal(matchedTwice) {
				return false
			}
		}
		return true
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 30}); err != nil {
		t.Error(err)
	}
}

// TestNoMutuallyMatchablePair 属性：账本里永远不会同时存在一对
// 可以互相配对的 lot。后到的那笔成交在入账时就该把对方消耗掉。
func TestNoMutuallyMatchablePair(t *testing.T) {
	property := func(seed int64) bool {
		rng := rand.New(rand.NewSource(seed))
		st := NewSymbolState(testSymbolConfig())
		now := time.Unix(1_700_000_000, 0)

		for i := 0; i < 60; i++ {
			account := "A"
			if rng.Intn(2) == 1 {
				account = "B"
			}
			side := grvt.SideBuy
			if rng.Intn(2) == 1 {
				side = grvt.SideSell
			}
			price := decimal.NewFromInt(int64(90 + rng.Intn(21)))
			notional := decimal.NewFromInt(int64(1 + rng.Intn(2000)))
			st.ApplyFill(account, side, price, notional, now)

			for _, a := range st.Lots {
				for _, b := range st.Lots {
					if a == b || a.SourceAccount == b.SourceAccount || a.SourceSide == b.SourceSide {
						continue
					}
					sell, buy := a, b
					if sell.SourceSide != grvt.SideSell {
						sell, buy = b, a
					}
					if sell.Price.GreaterThanOrEqual(buy.Price) {
						return false
					}
				}
			}
		}
		return true
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 30}); err != nil {
		t.Error(err)
	}
}

// TestBootstrapPosition 存量仓位回放：互相对冲的部分直接抵消
func TestBootstrapPosition(t *testing.T) {
	st := NewSymbolState(testSymbolConfig())
	now := time.Unix(1_700_000_000, 0)

	// A 多头 10@100，B 空头 10@100：完全对冲，账本应为空
	st.BootstrapPosition("A", snap("10", "100", "100"), now)
	st.BootstrapPosition("B", snap("-10", "100", "100"), now)
	if len(st.Lots) != 0 {
		t.Fatalf("完全对冲的存量仓位不应留下 lot，实际 %v", st.Lots)
	}

	// 残余敞口保留为合成 lot
	st2 := NewSymbolState(testSymbolConfig())
	st2.BootstrapPosition("A", snap("10", "100", "100"), now)
	st2.BootstrapPosition("B", snap("-7", "100", "100"), now)
	if len(st2.Lots) != 1 {
		t.Fatalf("应剩一个残余 lot，实际 %d 个", len(st2.Lots))
	}
	lot := st2.Lots[0]
	if !lot.Synthetic || lot.SourceAccount != "A" || !lot.RemainingNotional.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("残余 lot 不对: %+v", lot)
	}
}
