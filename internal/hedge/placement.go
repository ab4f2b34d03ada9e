package hedge

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hedgebot/gohedge/internal/metrics"
	"github.com/hedgebot/gohedge/pkg/grvt"
	"github.com/hedgebot/gohedge/pkg/logger"
	"github.com/hedgebot/gohedge/pkg/marketmath"
)

const (
	placeRetryDelay        = 200 * time.Millisecond
	orderExpiry            = 15 * time.Minute
	instrumentAlertCool    = 600 * time.Second
	submitErrorAlertCool   = 120 * time.Second
	postOnlyExhaustedAlert = "post_only_exhausted_"
)

// fetchInstrument 取合约元数据，优先走缓存，miss 时向交易所拉取。
// 拉不到就放弃本次下单，下一轮会重试。
func (e *Engine) fetchInstrument(ctx context.Context, acct *AccountRuntime, instrument string) *grvt.Instrument {
	if meta, ok := acct.Instruments.Get(instrument); ok {
		return meta
	}
	meta, err := withReauth(ctx, acct, func(ctx context.Context) (*grvt.Instrument, error) {
		return acct.Client.GetInstrument(ctx, instrument)
	})
	if err != nil {
		e.alerts.Notify("合约元数据拉取失败",
			fmt.Sprintf("%s %s: %v", acct.Name, instrument, err),
			"instrument_meta_"+instrument, instrumentAlertCool)
		return nil
	}
	acct.Instruments.Set(instrument, meta)
	return meta
}

// createSignedOrder 按名义价值构造并签名一张 post-only GTT 限价单
func (e *Engine) createSignedOrder(acct *AccountRuntime, meta *grvt.Instrument, side grvt.Side, price, notional decimal.Decimal) (*grvt.Order, error) {
	size := marketmath.SizeFromNotional(notional, price, meta.BaseDecimals, meta.MinSize)
	if size.Sign() <= 0 {
		return nil, fmt.Errorf("notional %s at price %s quantizes to zero size", notional, price)
	}
	order := &grvt.Order{
		SubAccountID: acct.Client.TradingAccountID(),
		TimeInForce:  grvt.TimeInForceGoodTillTime,
		PostOnly:     true,
		Legs: []grvt.OrderLeg{{
			Instrument:    meta.Instrument,
			Size:          size,
			LimitPrice:    price,
			IsBuyingAsset: side == grvt.SideBuy,
		}},
		Metadata: grvt.OrderMetadata{
			ClientOrderID: buildClientOrderID(acct.Label, side),
		},
		Signature: &grvt.Signature{
			Nonce:      int64(rand.Int31()),
			Expiration: strconv.FormatInt(e.now().Add(orderExpiry).UnixNano(), 10),
		},
	}
	if acct.Signer == nil {
		return nil, fmt.Errorf("account %s has no signing key", acct.Name)
	}
	if err := acct.Signer.SignOrder(order, meta); err != nil {
		return nil, err
	}
	return order, nil
}

// passivePrice 计算保证不吃单的挂单价。
//
// 卖单挂在 ask1，买单挂在 bid1；有 guard price 时再向不劣于 guard
// 的方向收紧（卖单不低于 guard，买单不高于 guard），最后对齐 tick。
func passivePrice(book *grvt.OrderbookLevels, side grvt.Side, guard *decimal.Decimal, tick decimal.Decimal) (decimal.Decimal, bool) {
	if side == grvt.SideSell {
		ask, ok := book.BestAsk()
		if !ok {
			return decimal.Zero, false
		}
		price := ask
		if guard != nil && guard.GreaterThan(price) {
			price = *guard
		}
		return marketmath.QuantizePassive(price, tick, true), true
	}
	bid, ok := book.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	price := bid
	if guard != nil && guard.LessThan(price) {
		price = *guard
	}
	return marketmath.QuantizePassive(price, tick, false), true
}

// placePostOnlyWithRetry 带重试的被动下单。
//
// 每次重试都重新取盘口定价；post-only 被拒说明价格已经过时，换价
// 再试。连续 N 次被拒说明行情在持续穿越我们的报价，进入冷却窗口，
// 窗口内本合约不再尝试下单。其它提交错误立即放弃并告警。
func (e *Engine) placePostOnlyWithRetry(ctx context.Context, st *SymbolState, acct *AccountRuntime, side grvt.Side, guard *decimal.Decimal, notional decimal.Decimal) bool {
	cfg := st.Config
	meta := e.fetchInstrument(ctx, acct, cfg.Instrument)
	if meta == nil {
		return false
	}

	for attempt := 1; attempt <= e.cfg.PostOnlyMaxRetry; attempt++ {
		book, err := withReauth(ctx, acct, func(ctx context.Context) (*grvt.OrderbookLevels, error) {
			return acct.Client.OrderbookLevels(ctx, cfg.Instrument, e.cfg.OrderbookDepth)
		})
		if err != nil {
			logger.WithField("symbol", cfg.Instrument).Warnf("盘口拉取失败: %v", err)
			e.sleep(placeRetryDelay)
			continue
		}
		price, ok := passivePrice(book, side, guard, meta.TickSize)
		if !ok {
			logger.WithField("symbol", cfg.Instrument).Warnf("盘口为空，无法定价")
			e.sleep(placeRetryDelay)
			continue
		}

		order, err := e.createSignedOrder(acct, meta, side, price, notional)
		if err != nil {
			e.alerts.Notify("下单构造失败",
				fmt.Sprintf("%s %s %s: %v", acct.Name, cfg.Instrument, side, err),
				"build_order_"+cfg.Instrument, submitErrorAlertCool)
			return false
		}

		placed, err := withReauth(ctx, acct, func(ctx context.Context) (*grvt.Order, error) {
			return acct.Client.CreateOrder(ctx, order)
		})
		if err == nil {
			e.registerPlacedOrder(st, acct, order, placed)
			metrics.OrdersPlaced.WithLabelValues(cfg.Instrument, acct.Label, string(side)).Inc()
			return true
		}
		if grvt.IsPostOnlyViolation(err) {
			metrics.PostOnlyRejects.WithLabelValues(cfg.Instrument).Inc()
			logger.WithFields(map[string]interface{}{
				"symbol":  cfg.Instrument,
				"attempt": attempt,
				"price":   price,
			}).Infof("post-only 被拒，换价重试")
			e.sleep(placeRetryDelay)
			continue
		}
		e.alerts.Notify("下单失败",
			fmt.Sprintf("%s %s %s @%s: %v", acct.Name, cfg.Instrument, side, price, err),
			"submit_order_"+cfg.Instrument, submitErrorAlertCool)
		return false
	}

	st.CooldownUntil = e.now().Add(e.cfg.PostOnlyCooldown)
	e.alerts.Notify("post-only 重试耗尽",
		fmt.Sprintf("%s %s 连续 %d 次被拒，冷却 %s", cfg.Instrument, side,
			e.cfg.PostOnlyMaxRetry, e.cfg.PostOnlyCooldown),
		postOnlyExhaustedAlert+cfg.Instrument, 0)
	return false
}

// registerPlacedOrder 下单成功后立即登记本地订单视图，
// 不等下一轮快照确认。交易所没回 order_id 时先用占位 id 存着。
func (e *Engine) registerPlacedOrder(st *SymbolState, acct *AccountRuntime, submitted, placed *grvt.Order) {
	now := e.now()
	leg := submitted.Legs[0]
	orderID := ""
	if placed != nil {
		orderID = placed.OrderID
	}
	key := orderID
	if isPlaceholderOrderID(key) {
		key = "pending_" + submitted.Metadata.ClientOrderID
	}
	mo := &ManagedOrder{
		OrderID:       orderID,
		ClientOrderID: submitted.Metadata.ClientOrderID,
		AccountLabel:  acct.Label,
		Instrument:    leg.Instrument,
		Side:          submitted.Side(),
		Price:         leg.LimitPrice,
		Size:          leg.Size,
		NotionalUSDT:  marketmath.OrderNotional(leg.Size, leg.LimitPrice),
		CreatedAt:     now,
		StrategyOwned: true,
	}
	st.ManagedOrders[key] = mo
	logger.WithFields(map[string]interface{}{
		"symbol":   leg.Instrument,
		"account":  acct.Name,
		"side":     mo.Side,
		"price":    mo.Price,
		"size":     mo.Size,
		"notional": mo.NotionalUSDT,
		"order":    orderID,
	}).Infof("订单已提交")
}
