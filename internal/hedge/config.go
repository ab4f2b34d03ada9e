package hedge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/hedgebot/gohedge/pkg/grvt"
)

// 引擎默认参数（可用 GRVT_HEDGE_* 环境变量覆盖）
const (
	DefaultLoopInterval       = 2 * time.Second
	DefaultPostOnlyMaxRetry   = 5
	DefaultPostOnlyCooldown   = 300 * time.Second
	DefaultPartialFillTimeout = 1800 * time.Second
	DefaultStuckThreshold     = 6 * time.Hour
	DefaultOrderbookDepth     = 10
	DefaultSymbolsFile        = "config/hedge_symbols.yaml"
)

// EngineConfig 引擎级参数，启动时从环境变量读取一次
type EngineConfig struct {
	LoopInterval             time.Duration
	PostOnlyMaxRetry         int
	PostOnlyCooldown         time.Duration
	PartialFillTimeout       time.Duration
	StuckThreshold           time.Duration
	MMRAlertThreshold        decimal.Decimal
	OrderbookDepth           int
	SingleOrderDiffThreshold decimal.Decimal // 低于该 diff 时每账户只挂 1 单
	CancelOnStop             bool
	StopKeepStrategyOrders   int // 停机清理时每合约保留最近 N 个策略订单
	MaxRuntime               time.Duration
	MetricsListenAddr        string
	SymbolsFile              string
}

// LoadEngineConfig 从环境变量装配引擎配置
func LoadEngineConfig() EngineConfig {
	return EngineConfig{
		LoopInterval:             envSeconds("GRVT_HEDGE_LOOP_INTERVAL_SEC", DefaultLoopInterval),
		PostOnlyMaxRetry:         envInt("GRVT_HEDGE_POST_ONLY_MAX_RETRY", DefaultPostOnlyMaxRetry),
		PostOnlyCooldown:         envSeconds("GRVT_HEDGE_POST_ONLY_COOLDOWN_SEC", DefaultPostOnlyCooldown),
		PartialFillTimeout:       envSeconds("GRVT_HEDGE_PARTIAL_FILL_TIMEOUT_SEC", DefaultPartialFillTimeout),
		StuckThreshold:           time.Duration(envInt("GRVT_HEDGE_STUCK_HOURS", 6)) * time.Hour,
		MMRAlertThreshold:        envDecimal("GRVT_HEDGE_MMR_ALERT_THRESHOLD", decimal.RequireFromString("0.70")),
		OrderbookDepth:           maxInt(1, envInt("GRVT_HEDGE_ORDERBOOK_DEPTH", DefaultOrderbookDepth)),
		SingleOrderDiffThreshold: envDecimal("GRVT_HEDGE_SINGLE_ORDER_DIFF_THRESHOLD_USDT", decimal.NewFromInt(20)),
		CancelOnStop:             envBool("GRVT_HEDGE_CANCEL_ON_STOP", true),
		StopKeepStrategyOrders:   maxInt(0, envInt("GRVT_HEDGE_STOP_KEEP_STRATEGY_ORDERS", 0)),
		MaxRuntime:               envSeconds("GRVT_HEDGE_MAX_RUNTIME_SEC", 0),
		MetricsListenAddr:        os.Getenv("GRVT_HEDGE_METRICS_LISTEN"),
		SymbolsFile:              envString("GRVT_HEDGE_SYMBOLS_FILE", DefaultSymbolsFile),
	}
}

// AccountConfig 单个交易账户的凭证配置
type AccountConfig struct {
	Name       string
	APIKey     string
	PrivateKey string
	AccountID  string
	Env        grvt.Env
}

// LoadTradingAccountConfigs 从环境变量加载交易账户列表。
// 按 GRVT_TRADING_API_KEY_{n} / GRVT_TRADING_PRIVATE_KEY_{n} /
// GRVT_TRADING_ACCOUNT_ID_{n} 递增扫描，兼容不带编号的旧变量名。
func LoadTradingAccountConfigs() []AccountConfig {
	var configs []AccountConfig
	for index := 1; ; index++ {
		apiKey := os.Getenv(fmt.Sprintf("GRVT_TRADING_API_KEY_%d", index))
		accountID := os.Getenv(fmt.Sprintf("GRVT_TRADING_ACCOUNT_ID_%d", index))
		if apiKey == "" && accountID == "" {
			break
		}
		if apiKey == "" || accountID == "" {
			continue
		}
		env := os.Getenv(fmt.Sprintf("GRVT_ENV_%d", index))
		if env == "" {
			env = envString("GRVT_ENV", "prod")
		}
		suffix := strconv.Itoa(index)
		if len(accountID) > 4 {
			suffix = accountID[len(accountID)-4:]
		}
		configs = append(configs, AccountConfig{
			Name:       "Trading_" + suffix,
			APIKey:     apiKey,
			PrivateKey: os.Getenv(fmt.Sprintf("GRVT_TRADING_PRIVATE_KEY_%d", index)),
			AccountID:  accountID,
			Env:        grvt.Env(strings.ToLower(env)),
		})
	}
	if len(configs) == 0 {
		// 旧的单账户变量名
		if apiKey, accountID := os.Getenv("GRVT_API_KEY"), os.Getenv("GRVT_TRADING_ACCOUNT_ID"); apiKey != "" && accountID != "" {
			configs = append(configs, AccountConfig{
				Name:       "Trading_legacy",
				APIKey:     apiKey,
				PrivateKey: os.Getenv("GRVT_PRIVATE_KEY"),
				AccountID:  accountID,
				Env:        grvt.Env(strings.ToLower(envString("GRVT_ENV", "prod"))),
			})
		}
	}
	return configs
}

// SymbolConfig 单个合约的策略参数，启动时加载一次，进程内只读
type SymbolConfig struct {
	Instrument           string
	Enabled              bool
	OrderNotionalUSDT    decimal.Decimal
	ImbalanceLimitUSDT   decimal.Decimal
	MaxTotalPositionUSDT decimal.Decimal
	MinTotalPositionUSDT decimal.Decimal
	ASideWhenEqual       grvt.Side // 两腿持平时 A 腿的开仓方向
	PositionMode         PositionMode
}

// Validate 校验合约配置
func (c SymbolConfig) Validate() error {
	if c.Instrument == "" {
		return fmt.Errorf("symbol config missing instrument")
	}
	if c.ASideWhenEqual != grvt.SideBuy && c.ASideWhenEqual != grvt.SideSell {
		return fmt.Errorf("%s invalid a_side_when_equal: %s", c.Instrument, c.ASideWhenEqual)
	}
	if c.PositionMode != PositionModeIncrease && c.PositionMode != PositionModeDecrease {
		return fmt.Errorf("%s invalid position_mode: %s", c.Instrument, c.PositionMode)
	}
	if c.MaxTotalPositionUSDT.Sign() < 0 {
		return fmt.Errorf("%s invalid max_total_position_usdt: %s", c.Instrument, c.MaxTotalPositionUSDT)
	}
	if c.MinTotalPositionUSDT.Sign() < 0 {
		return fmt.Errorf("%s invalid min_total_position_usdt: %s", c.Instrument, c.MinTotalPositionUSDT)
	}
	if c.MinTotalPositionUSDT.GreaterThan(c.MaxTotalPositionUSDT) {
		return fmt.Errorf("%s min_total_position_usdt > max_total_position_usdt: %s > %s",
			c.Instrument, c.MinTotalPositionUSDT, c.MaxTotalPositionUSDT)
	}
	return nil
}

// symbolConfigFile 配置文件中的单条记录。
// 数值用 float64 承载（yaml.v3 不识别 decimal），装配时转为 decimal。
type symbolConfigFile struct {
	Instrument           string   `yaml:"instrument" json:"instrument"`
	Enabled              *bool    `yaml:"enabled" json:"enabled"`
	OrderNotionalUSDT    *float64 `yaml:"order_notional_usdt" json:"order_notional_usdt"`
	ImbalanceLimitUSDT   *float64 `yaml:"imbalance_limit_usdt" json:"imbalance_limit_usdt"`
	MaxTotalPositionUSDT *float64 `yaml:"max_total_position_usdt" json:"max_total_position_usdt"`
	MinTotalPositionUSDT *float64 `yaml:"min_total_position_usdt" json:"min_total_position_usdt"`
	ASideWhenEqual       string   `yaml:"a_side_when_equal" json:"a_side_when_equal"`
	PositionMode         string   `yaml:"position_mode" json:"position_mode"`
}

func (f symbolConfigFile) toConfig() SymbolConfig {
	cfg := SymbolConfig{
		Instrument:           strings.TrimSpace(f.Instrument),
		Enabled:              true,
		OrderNotionalUSDT:    decimal.NewFromInt(1000),
		ImbalanceLimitUSDT:   decimal.NewFromInt(1000),
		MaxTotalPositionUSDT: decimal.NewFromInt(20000),
		MinTotalPositionUSDT: decimal.Zero,
		ASideWhenEqual:       grvt.SideBuy,
		PositionMode:         PositionModeIncrease,
	}
	if f.Enabled != nil {
		cfg.Enabled = *f.Enabled
	}
	if f.OrderNotionalUSDT != nil {
		cfg.OrderNotionalUSDT = decimal.NewFromFloat(*f.OrderNotionalUSDT)
	}
	if f.ImbalanceLimitUSDT != nil {
		cfg.ImbalanceLimitUSDT = decimal.NewFromFloat(*f.ImbalanceLimitUSDT)
	}
	if f.MaxTotalPositionUSDT != nil {
		cfg.MaxTotalPositionUSDT = decimal.NewFromFloat(*f.MaxTotalPositionUSDT)
	}
	if f.MinTotalPositionUSDT != nil {
		cfg.MinTotalPositionUSDT = decimal.NewFromFloat(*f.MinTotalPositionUSDT)
	}
	if f.ASideWhenEqual != "" {
		cfg.ASideWhenEqual = grvt.Side(strings.ToLower(strings.TrimSpace(f.ASideWhenEqual)))
	}
	if f.PositionMode != "" {
		cfg.PositionMode = PositionMode(strings.ToLower(strings.TrimSpace(f.PositionMode)))
	}
	return cfg
}

// LoadSymbolConfigs 从 YAML/JSON 文件加载合约列表。
// resolve 把配置里的合约名规范化为交易所的正式名称（见 alias.go），
// 返回空串视为未知合约，直接报错而不是带病启动。
func LoadSymbolConfigs(path string, resolve func(string) (string, error)) ([]SymbolConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read symbols config file %s: %w", path, err)
	}
	var items []symbolConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(raw, &items)
	default:
		err = yaml.Unmarshal(raw, &items)
	}
	if err != nil {
		return nil, fmt.Errorf("parse symbols config file %s: %w", path, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("symbols config file must be a non-empty list: %s", path)
	}
	configs := make([]SymbolConfig, 0, len(items))
	seen := make(map[string]bool)
	for _, item := range items {
		cfg := item.toConfig()
		if resolve != nil {
			resolved, err := resolve(cfg.Instrument)
			if err != nil {
				return nil, err
			}
			cfg.Instrument = resolved
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if seen[cfg.Instrument] {
			return nil, fmt.Errorf("duplicate symbol config: %s", cfg.Instrument)
		}
		seen[cfg.Instrument] = true
		configs = append(configs, cfg)
	}
	return configs, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v != "0" && v != "false" && v != "no"
}

func envDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return def
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
