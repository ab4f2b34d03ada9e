package marketmath

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// TestQuantizePassive 验证被动方向取整：卖单向上、买单向下
func TestQuantizePassive(t *testing.T) {
	cases := []struct {
		price, tick string
		isSell      bool
		want        string
	}{
		{"100.123", "0.1", true, "100.2"},  // 卖单向上
		{"100.123", "0.1", false, "100.1"}, // 买单向下
		{"100.1", "0.1", true, "100.1"},    // 已对齐不动
		{"100.1", "0.1", false, "100.1"},
		{"2345.67", "0.5", true, "2346"},
		{"2345.67", "0.5", false, "2345.5"},
		{"0.04567", "0.0001", true, "0.0457"},
		{"0.04567", "0.0001", false, "0.0456"},
		{"100.123", "0", true, "100.123"}, // tick<=0 原样返回
	}
	for _, c := range cases {
		got := QuantizePassive(d(c.price), d(c.tick), c.isSell)
		if !got.Equal(d(c.want)) {
			t.Errorf("QuantizePassive(%s, %s, sell=%v) = %s, want %s", c.price, c.tick, c.isSell, got, c.want)
		}
	}
}

// TestQuantizePassiveNeverCrosses 对齐后的卖价不低于原价、买价不高于原价
func TestQuantizePassiveNeverCrosses(t *testing.T) {
	prices := []string{"0.0001", "1.23456789", "99.99", "12345.678", "0.333333"}
	ticks := []string{"0.0001", "0.01", "0.5", "1"}
	for _, p := range prices {
		for _, tk := range ticks {
			price := d(p)
			tick := d(tk)
			if QuantizePassive(price, tick, true).LessThan(price) {
				t.Errorf("sell quantize below price: price=%s tick=%s", p, tk)
			}
			if QuantizePassive(price, tick, false).GreaterThan(price) {
				t.Errorf("buy quantize above price: price=%s tick=%s", p, tk)
			}
		}
	}
}

// TestSizeFromNotional 验证数量换算：步长对齐、精度截断、min_size 托底
func TestSizeFromNotional(t *testing.T) {
	cases := []struct {
		notional, price string
		baseDecimals    int
		minSize         string
		want            string
	}{
		{"1000", "50000", 6, "0.001", "0.02"},     // 1000/50000=0.02，正好对齐
		{"1000", "60000", 6, "0.001", "0.016"},    // 0.01666.. 向下对齐到 0.001
		{"1", "60000", 6, "0.001", "0.001"},       // 不足 min_size 托底
		{"1000", "3.123", 6, "0", "320.204931"},   // min_size=0 时用 10^-6 步长
		{"0", "50000", 6, "0.001", "0"},           // notional<=0 返回 0
		{"1000", "0", 6, "0.001", "0"},            // price<=0 返回 0
	}
	for _, c := range cases {
		got := SizeFromNotional(d(c.notional), d(c.price), c.baseDecimals, d(c.minSize))
		if !got.Equal(d(c.want)) {
			t.Errorf("SizeFromNotional(%s, %s, %d, %s) = %s, want %s",
				c.notional, c.price, c.baseDecimals, c.minSize, got, c.want)
		}
	}
}

// TestOrderNotional 名义价值向下保留 6 位小数
func TestOrderNotional(t *testing.T) {
	got := OrderNotional(d("0.0123456789"), d("333.33"))
	want := d("4.115185")
	if !got.Equal(want) {
		t.Errorf("OrderNotional = %s, want %s", got, want)
	}
}

// TestProjectAbsNotional 买卖方向的仓位投影
func TestProjectAbsNotional(t *testing.T) {
	if got := ProjectAbsNotional(d("1000"), true, d("500")); !got.Equal(d("1500")) {
		t.Errorf("buy projection = %s, want 1500", got)
	}
	if got := ProjectAbsNotional(d("1000"), false, d("500")); !got.Equal(d("500")) {
		t.Errorf("sell projection = %s, want 500", got)
	}
	// 空头仓位卖出后绝对值增大
	if got := ProjectAbsNotional(d("-1000"), false, d("500")); !got.Equal(d("1500")) {
		t.Errorf("short sell projection = %s, want 1500", got)
	}
}
