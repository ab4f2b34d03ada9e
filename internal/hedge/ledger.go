package hedge

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hedgebot/gohedge/pkg/grvt"
	"github.com/hedgebot/gohedge/pkg/logger"
)

// lotMatchable 判断一笔成交能否与某个 lot 配对。
//
// 方向相反是前提；价格门槛保证配对后不锁定亏损：
// 卖出成交价必须不低于买入 lot 的价格，买入成交价必须不高于卖出 lot 的价格。
func lotMatchable(lot *FillLot, sourceAccount string, sourceSide grvt.Side, fillPrice decimal.Decimal) bool {
	if lot.SourceAccount == sourceAccount {
		return false
	}
	if lot.SourceSide == sourceSide {
		return false
	}
	switch sourceSide {
	case grvt.SideSell:
		return fillPrice.GreaterThanOrEqual(lot.Price)
	case grvt.SideBuy:
		return fillPrice.LessThanOrEqual(lot.Price)
	}
	return false
}

// ApplyFill 把一笔成交记入 lot 账本。
//
// 按 FIFO 顺序消耗对手账户的反方向 lot，每个 lot 扣减
// min(剩余成交额, lot 剩余额)；价格不满足门槛的 lot 跳过但保留原位。
// 走完队列仍有剩余时，剩余部分成为新的待对冲 lot 追加到队尾。
func (s *SymbolState) ApplyFill(sourceAccount string, sourceSide grvt.Side, fillPrice, fillNotional decimal.Decimal, now time.Time) {
	s.applyFill(sourceAccount, sourceSide, fillPrice, fillNotional, now, false)
}

func (s *SymbolState) applyFill(sourceAccount string, sourceSide grvt.Side, fillPrice, fillNotional decimal.Decimal, now time.Time, synthetic bool) {
	remaining := fillNotional
	if remaining.Sign() <= 0 {
		return
	}

	kept := s.Lots[:0]
	for _, lot := range s.Lots {
		if lot.RemainingNotional.Sign() <= 0 {
			continue
		}
		if remaining.Sign() <= 0 || !lotMatchable(lot, sourceAccount, sourceSide, fillPrice) {
			kept = append(kept, lot)
			continue
		}
		matched := decimal.Min(remaining, lot.RemainingNotional)
		lot.RemainingNotional = lot.RemainingNotional.Sub(matched)
		remaining = remaining.Sub(matched)
		logger.WithFields(map[string]interface{}{
			"symbol":  s.Config.Instrument,
			"matched": matched,
			"lot_px":  lot.Price,
			"fill_px": fillPrice,
		}).Debugf("成交与 lot 配对")
		if lot.RemainingNotional.Sign() > 0 {
			kept = append(kept, lot)
		}
	}
	s.Lots = kept

	if remaining.Sign() > 0 {
		s.Lots = append(s.Lots, &FillLot{
			SourceAccount:     sourceAccount,
			SourceSide:        sourceSide,
			Price:             fillPrice,
			RemainingNotional: remaining,
			CreatedAt:         now,
			Synthetic:         synthetic,
		})
	}
}

// BootstrapPosition 启动时把存量仓位当作一笔历史成交回放进账本，
// 价格取开仓均价。多头视作买入，空头视作卖出；两腿互相对冲的部分
// 会在回放时直接抵消，只有真正的残余敞口留下合成 lot。
func (s *SymbolState) BootstrapPosition(sourceAccount string, snapshot PositionSnapshot, now time.Time) {
	if snapshot.AbsNotional.Sign() <= 0 {
		return
	}
	side := grvt.SideBuy
	if snapshot.Size.Sign() < 0 {
		side = grvt.SideSell
	}
	price := snapshot.EntryPrice
	if price.Sign() <= 0 {
		price = snapshot.MarkPrice
	}
	s.applyFill(sourceAccount, side, price, snapshot.AbsNotional, now, true)
	logger.WithFields(map[string]interface{}{
		"symbol":   s.Config.Instrument,
		"account":  sourceAccount,
		"side":     side,
		"notional": snapshot.AbsNotional,
	}).Infof("存量仓位已回放进账本")
}

// TotalUnmatchedNotional 账本中未配对的名义价值总和
func (s *SymbolState) TotalUnmatchedNotional() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range s.Lots {
		if lot.RemainingNotional.Sign() > 0 {
			total = total.Add(lot.RemainingNotional)
		}
	}
	return total
}
