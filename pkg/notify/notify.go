package notify

import (
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "notify")

// DefaultRelayEndpoint 本地 Telegram 转发服务地址
const DefaultRelayEndpoint = "http://localhost:3000/send-message"

// Config 告警通道配置
type Config struct {
	RelayEndpoint string // 转发服务地址，为空使用 DefaultRelayEndpoint
	ChatID        string // Telegram chat id
	APIKey        string // 转发服务鉴权 key
}

// ConfigFromEnv 从环境变量读取告警配置（CHAT_ID / API_KEY / TELEGRAM_RELAY_ENDPOINT）
func ConfigFromEnv() Config {
	return Config{
		RelayEndpoint: os.Getenv("TELEGRAM_RELAY_ENDPOINT"),
		ChatID:        os.Getenv("CHAT_ID"),
		APIKey:        os.Getenv("API_KEY"),
	}
}

// Dispatcher 告警分发器。
//
// 按 dedup key 做冷却去重，同 key 在冷却窗口内只发送一次；
// 发送是 best-effort 的，失败只记 debug 日志，绝不阻塞调用方的主循环。
// 以服务对象的形式注入引擎使用，而不是包级单例。
type Dispatcher struct {
	cfg  Config
	http *resty.Client

	mu                 sync.Mutex
	lastSentByKey      map[string]time.Time
	lastDailyReportDay string

	nowFn func() time.Time
}

// NewDispatcher 创建告警分发器；ChatID/APIKey 缺失时降级为只写日志
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.RelayEndpoint == "" {
		cfg.RelayEndpoint = DefaultRelayEndpoint
	}
	return &Dispatcher{
		cfg:           cfg,
		http:          resty.New().SetTimeout(6 * time.Second),
		lastSentByKey: make(map[string]time.Time),
		nowFn:         time.Now,
	}
}

// Enabled 告警外发通道是否可用
func (d *Dispatcher) Enabled() bool {
	return d.cfg.ChatID != "" && d.cfg.APIKey != ""
}

// Notify 发送一条告警。
// dedupKey 相同的告警在 cooldown 窗口内只发送第一条；
// 无论外发是否成功都会记一条 warning 日志，保证本地可审计。
func (d *Dispatcher) Notify(title, message, dedupKey string, cooldown time.Duration) {
	now := d.nowFn()
	d.mu.Lock()
	if last, ok := d.lastSentByKey[dedupKey]; ok && now.Sub(last) < cooldown {
		d.mu.Unlock()
		return
	}
	d.lastSentByKey[dedupKey] = now
	d.mu.Unlock()

	log.Warnf("%s | %s", title, message)
	d.Send(title + "\n" + message)
}

// Send 直接外发一条消息（不做冷却去重），异步 best-effort
func (d *Dispatcher) Send(message string) {
	if !d.Enabled() {
		return
	}
	go func() {
		_, err := d.http.R().
			SetHeader("Content-Type", "application/json").
			SetHeader("X-API-Key", d.cfg.APIKey).
			SetBody(map[string]string{"chatId": d.cfg.ChatID, "message": message}).
			Post(d.cfg.RelayEndpoint)
		if err != nil {
			log.Debugf("telegram 告警发送失败: %v", err)
		}
	}()
}

// ClaimDailyReport 尝试认领某一天的日报发送权。
// 同一个 dayKey 只有第一次调用返回 true，用于每日只发一次的汇总消息。
func (d *Dispatcher) ClaimDailyReport(dayKey string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastDailyReportDay == dayKey {
		return false
	}
	d.lastDailyReportDay = dayKey
	return true
}
