package treasury

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// 资金监控默认参数
const (
	DefaultPollInterval   = 300 * time.Second
	DefaultHistoryDir     = "data/balances"
	DefaultCurrency       = "USDT"
	DefaultHistoryKeepFor = 30 * 24 * time.Hour
)

// Config 资金监控与划转参数，从 GRVT_BALANCE_* 环境变量读取
type Config struct {
	PollInterval time.Duration
	Currency     string
	HistoryDir   string

	// 任一子账户权益低于该值时告警，0 关闭
	LowEquityAlertUSDT decimal.Decimal
	// 两腿权益差超过该值时自动对平，0 关闭
	EqualizeThresholdUSDT decimal.Decimal
	// 资金账户余额超过该值时归集到交易账户，0 关闭
	FundingSweepMinUSDT decimal.Decimal
	// 只监控不划转
	DryRun bool
}

// LoadConfig 从环境变量装配资金监控配置
func LoadConfig() Config {
	return Config{
		PollInterval:          envSecondsDefault("GRVT_BALANCE_POLL_INTERVAL_SEC", DefaultPollInterval),
		Currency:              envStringDefault("GRVT_BALANCE_CURRENCY", DefaultCurrency),
		HistoryDir:            envStringDefault("GRVT_BALANCE_HISTORY_DIR", DefaultHistoryDir),
		LowEquityAlertUSDT:    envDecimalDefault("GRVT_BALANCE_LOW_EQUITY_ALERT_USDT", decimal.Zero),
		EqualizeThresholdUSDT: envDecimalDefault("GRVT_BALANCE_EQUALIZE_THRESHOLD_USDT", decimal.Zero),
		FundingSweepMinUSDT:   envDecimalDefault("GRVT_BALANCE_FUNDING_SWEEP_MIN_USDT", decimal.Zero),
		DryRun:                envBoolDefault("GRVT_BALANCE_DRY_RUN", false),
	}
}

func envStringDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envSecondsDefault(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func envDecimalDefault(key string, def decimal.Decimal) decimal.Decimal {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return def
}

func envBoolDefault(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v != "0" && v != "false" && v != "no"
}
