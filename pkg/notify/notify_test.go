package notify

import (
	"testing"
	"time"
)

// TestNotifyCooldownDedup 同 key 告警在冷却窗口内只放行一次
func TestNotifyCooldownDedup(t *testing.T) {
	d := NewDispatcher(Config{}) // 无 ChatID/APIKey，外发降级为日志

	now := time.Unix(1_700_000_000, 0)
	d.nowFn = func() time.Time { return now }

	d.Notify("t", "m", "key1", 5*time.Minute)
	first, ok := d.lastSentByKey["key1"]
	if !ok {
		t.Fatal("第一条告警应该被记录")
	}

	// 冷却窗口内的第二条不应刷新时间戳
	now = now.Add(time.Minute)
	d.Notify("t", "m", "key1", 5*time.Minute)
	if !d.lastSentByKey["key1"].Equal(first) {
		t.Error("冷却窗口内的告警不应被重新发送")
	}

	// 不同 key 不受影响
	d.Notify("t", "m", "key2", 5*time.Minute)
	if _, ok := d.lastSentByKey["key2"]; !ok {
		t.Error("不同 key 的告警应该被放行")
	}

	// 冷却窗口过后放行
	now = now.Add(10 * time.Minute)
	d.Notify("t", "m", "key1", 5*time.Minute)
	if !d.lastSentByKey["key1"].Equal(now) {
		t.Error("冷却窗口过后的告警应该被重新发送")
	}
}

// TestClaimDailyReport 同一天只能认领一次日报
func TestClaimDailyReport(t *testing.T) {
	d := NewDispatcher(Config{})
	if !d.ClaimDailyReport("2025-01-02") {
		t.Fatal("第一次认领应该成功")
	}
	if d.ClaimDailyReport("2025-01-02") {
		t.Error("同一天重复认领应该失败")
	}
	if !d.ClaimDailyReport("2025-01-03") {
		t.Error("新的一天应该可以认领")
	}
}
