package hedge

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hedgebot/gohedge/internal/metrics"
	"github.com/hedgebot/gohedge/pkg/grvt"
	"github.com/hedgebot/gohedge/pkg/logger"
)

// 策略订单标识。字符串前缀与数值高位掩码两套方案并存：
// 交易所会把纯数字 client_order_id 原样返回，掩码方案保证即使
// 前缀字符串被截断也能认出自己的订单。
const (
	orderIDTextPrefix = "HEDGEV1_"
	orderIDMask       = uint64(0xF000000000000000)
	orderIDPrefix     = uint64(0xE000000000000000)
)

// 订单状态的时间参数
const (
	provisionalTimeout = 60 * time.Second   // 占位 id 订单迟迟未被快照确认
	orderStaleAfter    = 3600 * time.Second // 快照中消失超过该时长视为失效
	neverSeenTimeout   = 600 * time.Second  // 从未出现在快照中的订单的宽限期
)

// buildClientOrderID 生成策略订单号。
// 高 4 位固定为策略前缀，第 59 位编码账户腿，第 58 位编码方向，
// 低 58 位为随机熵，整体以十进制字符串提交。
func buildClientOrderID(accountLabel string, side grvt.Side) string {
	var accBit uint64
	if accountLabel == "B" {
		accBit = 1
	}
	var sideBit uint64
	if side == grvt.SideSell {
		sideBit = 1
	}
	entropy := rand.Uint64() & ((uint64(1) << 58) - 1)
	id := orderIDPrefix | accBit<<59 | sideBit<<58 | entropy
	return strconv.FormatUint(id, 10)
}

// IsStrategyOrderID 判断 client_order_id 是否出自本策略
func IsStrategyOrderID(clientOrderID string) bool {
	if clientOrderID == "" {
		return false
	}
	if strings.HasPrefix(clientOrderID, orderIDTextPrefix) {
		return true
	}
	n, err := strconv.ParseUint(clientOrderID, 10, 64)
	if err != nil {
		return false
	}
	return n&orderIDMask == orderIDPrefix
}

// isPlaceholderOrderID 识别交易所尚未分配正式 order_id 时的各种占位写法
func isPlaceholderOrderID(orderID string) bool {
	switch orderID {
	case "", "0", "0x0", "0x00":
		return true
	}
	return strings.HasPrefix(orderID, "0x00")
}

// syncAccountOrders 用一个账户的开放订单快照校准本地订单视图。
//
// 处理顺序：先用快照里的策略订单做认领与占位 id 晋升，再把快照中
// 消失的本地订单逐个查询定性。查询失败按瞬时故障处理，留到下一轮。
func (e *Engine) syncAccountOrders(ctx context.Context, st *SymbolState, acct *AccountRuntime, snapshot []grvt.Order) {
	now := e.now()
	seen := make(map[string]*grvt.Order)

	for i := range snapshot {
		order := &snapshot[i]
		if len(order.Legs) == 0 || order.Legs[0].Instrument != st.Config.Instrument {
			continue
		}
		if !IsStrategyOrderID(order.Metadata.ClientOrderID) {
			if !st.ForeignAlerted {
				st.ForeignAlerted = true
				e.alerts.Notify("外部订单",
					fmt.Sprintf("%s %s 存在非策略订单 %s，引擎不会管理它", acct.Name, st.Config.Instrument, order.OrderID),
					"foreign_order_"+st.Config.Instrument+"_"+acct.Label, 0)
			}
			continue
		}
		seen[order.OrderID] = order

		mo, ok := st.ManagedOrders[order.OrderID]
		if !ok {
			mo = e.promoteOrAdopt(st, acct, order, now)
		}
		mo.LastSeenAt = now
		e.processOrderFillDelta(st, acct, mo, order, now)
	}

	// 快照中消失的订单：占位 id 的看宽限期，其余逐个查询定性
	for id, mo := range st.ManagedOrders {
		if mo.Closed || mo.AccountLabel != acct.Label {
			continue
		}
		if _, present := seen[id]; present {
			continue
		}
		if isPlaceholderOrderID(mo.OrderID) {
			if now.Sub(mo.CreatedAt) > provisionalTimeout {
				e.closeManagedOrder(st, mo, "PROVISIONAL_TIMEOUT")
			}
			continue
		}
		orderID := mo.OrderID
		final, err := withReauth(ctx, acct, func(ctx context.Context) (*grvt.Order, error) {
			return acct.Client.GetOrder(ctx, orderID)
		})
		if err != nil {
			if grvt.IsOrderGone(err) {
				e.closeManagedOrder(st, mo, "GONE")
				continue
			}
			logger.WithField("order", id).Warnf("查询消失订单失败，下轮重试: %v", err)
			continue
		}
		e.processOrderFillDelta(st, acct, mo, final, now)
		if !mo.Closed {
			if final.Status().IsTerminal() {
				e.closeManagedOrder(st, mo, string(final.Status()))
			} else if !mo.LastSeenAt.IsZero() && now.Sub(mo.LastSeenAt) > orderStaleAfter {
				e.closeManagedOrder(st, mo, "STALE")
			}
		}
	}
}

// promoteOrAdopt 把快照里的策略订单接进本地视图。
// 优先按 client_order_id 匹配等待晋升的占位订单；匹配不到则视为
// 重启前遗留的策略订单，直接认领。
func (e *Engine) promoteOrAdopt(st *SymbolState, acct *AccountRuntime, order *grvt.Order, now time.Time) *ManagedOrder {
	for id, pending := range st.ManagedOrders {
		if pending.Closed || !isPlaceholderOrderID(pending.OrderID) {
			continue
		}
		if pending.AccountLabel != acct.Label || pending.ClientOrderID != order.Metadata.ClientOrderID {
			continue
		}
		delete(st.ManagedOrders, id)
		pending.OrderID = order.OrderID
		st.ManagedOrders[order.OrderID] = pending
		logger.WithFields(map[string]interface{}{
			"symbol":   st.Config.Instrument,
			"order":    order.OrderID,
			"clientId": pending.ClientOrderID,
		}).Infof("占位订单晋升为正式订单")
		return pending
	}

	leg := order.Legs[0]
	mo := &ManagedOrder{
		OrderID:       order.OrderID,
		ClientOrderID: order.Metadata.ClientOrderID,
		AccountLabel:  acct.Label,
		Instrument:    leg.Instrument,
		Side:          order.Side(),
		Price:         leg.LimitPrice,
		Size:          leg.Size,
		NotionalUSDT:  leg.Size.Mul(leg.LimitPrice),
		CreatedAt:     parseOrderCreateTime(order, now),
		StrategyOwned: true,
	}
	st.ManagedOrders[order.OrderID] = mo
	logger.WithFields(map[string]interface{}{
		"symbol": st.Config.Instrument,
		"order":  order.OrderID,
		"side":   mo.Side,
	}).Infof("认领遗留策略订单")
	return mo
}

// parseOrderCreateTime 解析交易所的纳秒时间戳字符串，失败时退回当前时间
func parseOrderCreateTime(order *grvt.Order, fallback time.Time) time.Time {
	raw := order.Metadata.CreateTime
	if raw == "" {
		return fallback
	}
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ns <= 0 {
		return fallback
	}
	return time.Unix(0, ns)
}

// processOrderFillDelta 把订单的新增成交量记入账本。
//
// 仍在挂着且簿上还有余量的订单，其部分成交可能还在持续累积，
// 宽限期内先不入账；宽限期到、余量清零或订单进入终态时，把全部
// 未入账增量按观察到的成交均价一次性入账。AppliedTradedSize 只在
// 入账时推进，保证同一笔成交不会二次入账。
func (e *Engine) processOrderFillDelta(st *SymbolState, acct *AccountRuntime, mo *ManagedOrder, order *grvt.Order, now time.Time) {
	traded := order.TradedSize()
	status := order.Status()
	delta := traded.Sub(mo.AppliedTradedSize)

	if delta.Sign() > 0 {
		accumulating := !status.IsTerminal() && order.BookSize().Sign() > 0
		if accumulating {
			if mo.PartialSince == nil {
				t := now
				mo.PartialSince = &t
			}
			if now.Sub(*mo.PartialSince) <= e.cfg.PartialFillTimeout {
				// 宽限期内：成交可能还在累积，延后入账
				return
			}
		}
		price := order.AvgFillPrice()
		notional := delta.Mul(price)
		st.ApplyFill(mo.AccountLabel, mo.Side, price, notional, now)
		metrics.FillNotional.WithLabelValues(st.Config.Instrument, mo.AccountLabel).
			Add(notional.InexactFloat64())
		logger.WithFields(map[string]interface{}{
			"symbol":   st.Config.Instrument,
			"account":  acct.Name,
			"order":    mo.OrderID,
			"delta":    delta,
			"price":    price,
			"notional": notional,
		}).Infof("订单新增成交入账")
		mo.AppliedTradedSize = traded
		mo.PartialSince = nil
	}

	if status.IsTerminal() {
		e.closeManagedOrder(st, mo, string(status))
	}
}

// closeManagedOrder 关闭本地订单视图（不触发交易所撤单）
func (e *Engine) closeManagedOrder(st *SymbolState, mo *ManagedOrder, reason string) {
	if mo.Closed {
		return
	}
	mo.Closed = true
	mo.CloseReason = reason
	logger.WithFields(map[string]interface{}{
		"symbol": st.Config.Instrument,
		"order":  mo.OrderID,
		"reason": reason,
	}).Infof("订单关闭")
}

// cancelManagedOrder 向交易所撤单并关闭本地视图。
// 订单已经不在交易所（IsOrderGone）按撤单成功处理。
func (e *Engine) cancelManagedOrder(ctx context.Context, st *SymbolState, acct *AccountRuntime, mo *ManagedOrder, reason string) bool {
	ok := e.cancelOrderByID(ctx, acct, mo.OrderID)
	if !ok {
		return false
	}
	e.closeManagedOrder(st, mo, "CANCELLED")
	metrics.OrdersCancelled.WithLabelValues(st.Config.Instrument, reason).Inc()
	return true
}

// activeStrategyOrders 当前仍计入敞口的策略订单。
//
// 两类订单不再计入：快照中消失超过 orderStaleAfter 的，和从未被快照
// 确认且已超过 neverSeenTimeout 的。它们留在 map 里等 sync 定性，但
// 决策时不能再把它们当成在途对冲。
func (e *Engine) activeStrategyOrders(st *SymbolState, now time.Time) []*ManagedOrder {
	var out []*ManagedOrder
	for _, mo := range st.ManagedOrders {
		if mo.Closed || !mo.StrategyOwned {
			continue
		}
		if mo.LastSeenAt.IsZero() {
			if now.Sub(mo.CreatedAt) > neverSeenTimeout {
				continue
			}
		} else if now.Sub(mo.LastSeenAt) > orderStaleAfter {
			continue
		}
		out = append(out, mo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// activeOrderCount 某账户当前的活跃策略订单数
func (e *Engine) activeOrderCount(st *SymbolState, accountLabel string, now time.Time) int {
	n := 0
	for _, mo := range e.activeStrategyOrders(st, now) {
		if mo.AccountLabel == accountLabel {
			n++
		}
	}
	return n
}

// activeHedgeNotional 某账户指定方向的活跃策略订单未成交名义价值之和。
// 反方向的在途订单不算在内，它们成交只会让缺口更大。
func (e *Engine) activeHedgeNotional(st *SymbolState, accountLabel string, side grvt.Side, now time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, mo := range e.activeStrategyOrders(st, now) {
		if mo.AccountLabel != accountLabel || mo.Side != side {
			continue
		}
		open := mo.Size.Sub(mo.AppliedTradedSize)
		if open.Sign() > 0 {
			total = total.Add(open.Mul(mo.Price))
		}
	}
	return total
}

// enforceAccountOrderCap 账户活跃订单数超过上限时，撤掉最早的订单
func (e *Engine) enforceAccountOrderCap(ctx context.Context, st *SymbolState, acct *AccountRuntime, limit int, now time.Time) {
	var mine []*ManagedOrder
	for _, mo := range e.activeStrategyOrders(st, now) {
		if mo.AccountLabel == acct.Label {
			mine = append(mine, mo)
		}
	}
	for len(mine) > limit {
		oldest := mine[0]
		if !e.cancelManagedOrder(ctx, st, acct, oldest, "low_diff_account_order_cap") {
			return
		}
		mine = mine[1:]
	}
}
