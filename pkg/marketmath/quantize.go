package marketmath

import "github.com/shopspring/decimal"

// notionalPlaces 名义价值统一保留 6 位小数（USDT 精度），向下取整避免放大敞口。
const notionalPlaces = 6

// OrderNotional 计算订单名义价值 size * price，向下取整到 6 位小数。
func OrderNotional(size, price decimal.Decimal) decimal.Decimal {
	return size.Mul(price).RoundDown(notionalPlaces)
}

// QuantizePassive 将价格对齐到 tick。
//
// 被动方向取整：卖单向上取整（ceiling）、买单向下取整（floor），
// 保证对齐后的价格不会比原始报价更激进，post-only 单不会因取整变成吃单。
// tick <= 0 时原样返回。
func QuantizePassive(price, tick decimal.Decimal, isSell bool) decimal.Decimal {
	if tick.Sign() <= 0 {
		return price
	}
	units := price.Div(tick)
	if isSell {
		units = units.Ceil()
	} else {
		units = units.Floor()
	}
	return units.Mul(tick)
}

// SizeFromNotional 按名义价值换算下单数量。
//
// 步长取 minSize（>0 时），否则取合约的最小数量单位 10^-baseDecimals；
// 数量向下对齐到步长后再截断到 baseDecimals 位小数，最后托底到 minSize。
// price 或 notional 非正时返回 0。
func SizeFromNotional(notional, price decimal.Decimal, baseDecimals int, minSize decimal.Decimal) decimal.Decimal {
	if price.Sign() <= 0 || notional.Sign() <= 0 {
		return decimal.Zero
	}
	quantum := decimal.New(1, int32(-baseDecimals))
	step := minSize
	if step.Sign() <= 0 {
		step = quantum
	}
	if step.LessThan(quantum) {
		step = quantum
	}
	raw := notional.Div(price)
	size := raw.Div(step).Floor().Mul(step)
	size = size.RoundDown(int32(baseDecimals))
	if size.LessThan(minSize) {
		size = minSize
	}
	return size
}

// ProjectAbsNotional 计算订单全部成交后的绝对名义仓位。
// 买入为正向增量，卖出为负向增量。
func ProjectAbsNotional(signedNotional decimal.Decimal, isBuy bool, orderNotional decimal.Decimal) decimal.Decimal {
	delta := orderNotional
	if !isBuy {
		delta = orderNotional.Neg()
	}
	return signedNotional.Add(delta).Abs()
}
