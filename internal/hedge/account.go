package hedge

import (
	"context"

	"github.com/hedgebot/gohedge/pkg/cache"
	"github.com/hedgebot/gohedge/pkg/grvt"
	"github.com/hedgebot/gohedge/pkg/logger"
	"github.com/hedgebot/gohedge/pkg/ratelimit"
)

// ExchangeClient 引擎使用的交易所能力集合，测试用假实现替换
type ExchangeClient interface {
	TradingAccountID() string
	Positions(ctx context.Context) ([]grvt.Position, error)
	OpenOrders(ctx context.Context) ([]grvt.Order, error)
	GetOrder(ctx context.Context, orderID string) (*grvt.Order, error)
	GetInstrument(ctx context.Context, instrument string) (*grvt.Instrument, error)
	GetAllInstruments(ctx context.Context, activeOnly bool) ([]grvt.Instrument, error)
	OrderbookLevels(ctx context.Context, instrument string, depth int) (*grvt.OrderbookLevels, error)
	AggregatedAccountSummary(ctx context.Context) (*grvt.AccountSummary, error)
	CreateOrder(ctx context.Context, order *grvt.Order) (*grvt.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	Relogin(ctx context.Context) error
}

// AccountRuntime 一条腿的运行时资源：客户端、签名器、合约元数据缓存
type AccountRuntime struct {
	Label       string // "A" 或 "B"
	Name        string
	Client      ExchangeClient
	Signer      *grvt.Signer
	Instruments *cache.InMemoryCache[string, *grvt.Instrument]
}

// NewAccountRuntime 从账户配置装配运行时。
// 合约元数据不会变，缓存 TTL 取 0（永不过期）。
func NewAccountRuntime(label string, cfg AccountConfig) (*AccountRuntime, error) {
	client, err := grvt.NewClient(grvt.Config{
		Env:              cfg.Env,
		APIKey:           cfg.APIKey,
		TradingAccountID: cfg.AccountID,
	})
	if err != nil {
		return nil, err
	}
	client.SetRateLimiter(ratelimit.NewManager())
	var signer *grvt.Signer
	if cfg.PrivateKey != "" {
		signer, err = grvt.NewSigner(cfg.Env, cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
	}
	return &AccountRuntime{
		Label:       label,
		Name:        cfg.Name,
		Client:      client,
		Signer:      signer,
		Instruments: cache.NewInMemoryCache[string, *grvt.Instrument](0),
	}, nil
}

// withReauth 执行一次交易所调用；遇到鉴权类错误时重建会话并重试一次
func withReauth[T any](ctx context.Context, acct *AccountRuntime, call func(context.Context) (T, error)) (T, error) {
	out, err := call(ctx)
	if err == nil || !grvt.IsAuthError(err) {
		return out, err
	}
	logger.WithField("account", acct.Name).Warnf("会话失效，重新登录后重试: %v", err)
	if loginErr := acct.Client.Relogin(ctx); loginErr != nil {
		return out, loginErr
	}
	return call(ctx)
}
