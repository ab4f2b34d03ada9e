package hedge

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hedgebot/gohedge/pkg/cache"
	"github.com/hedgebot/gohedge/pkg/grvt"
	"github.com/hedgebot/gohedge/pkg/notify"
)

// 测试用的确定性私钥（仅本地签名，无任何真实资产）
const testPrivateKey = "289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032"

// fakeClient 可编程的交易所假实现
type fakeClient struct {
	accountID  string
	positions  []grvt.Position
	openOrders []grvt.Order
	ordersByID map[string]*grvt.Order
	instrument *grvt.Instrument
	book       *grvt.OrderbookLevels
	summary    *grvt.AccountSummary

	created     []*grvt.Order
	cancelled   []string
	createErr   error
	nextOrderID int
}

func newFakeClient(accountID string) *fakeClient {
	return &fakeClient{
		accountID:  accountID,
		ordersByID: make(map[string]*grvt.Order),
		instrument: testInstrument(),
		book: &grvt.OrderbookLevels{
			Bids: []grvt.BookLevel{{Price: decimal.NewFromInt(99), Size: decimal.NewFromInt(10)}},
			Asks: []grvt.BookLevel{{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(10)}},
		},
		summary: &grvt.AccountSummary{
			TotalEquity:       decimal.NewFromInt(10000),
			MaintenanceMargin: decimal.NewFromInt(100),
		},
	}
}

func testInstrument() *grvt.Instrument {
	return &grvt.Instrument{
		Instrument:     "BTC_USDT_Perp",
		InstrumentHash: "0x030501",
		Base:           "BTC",
		Quote:          "USDT",
		TickSize:       decimal.RequireFromString("0.1"),
		MinSize:        decimal.RequireFromString("0.001"),
		BaseDecimals:   9,
		IsActive:       true,
	}
}

func (f *fakeClient) TradingAccountID() string { return f.accountID }

func (f *fakeClient) Positions(_ context.Context) ([]grvt.Position, error) {
	return f.positions, nil
}

func (f *fakeClient) OpenOrders(_ context.Context) ([]grvt.Order, error) {
	return f.openOrders, nil
}

func (f *fakeClient) GetOrder(_ context.Context, orderID string) (*grvt.Order, error) {
	if o, ok := f.ordersByID[orderID]; ok {
		return o, nil
	}
	return nil, &grvt.APIError{Status: 404, Message: "order does not exist"}
}

func (f *fakeClient) GetInstrument(_ context.Context, _ string) (*grvt.Instrument, error) {
	return f.instrument, nil
}

func (f *fakeClient) GetAllInstruments(_ context.Context, _ bool) ([]grvt.Instrument, error) {
	return []grvt.Instrument{*f.instrument}, nil
}

func (f *fakeClient) OrderbookLevels(_ context.Context, _ string, _ int) (*grvt.OrderbookLevels, error) {
	return f.book, nil
}

func (f *fakeClient) AggregatedAccountSummary(_ context.Context) (*grvt.AccountSummary, error) {
	return f.summary, nil
}

func (f *fakeClient) CreateOrder(_ context.Context, order *grvt.Order) (*grvt.Order, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextOrderID++
	placed := *order
	placed.OrderID = fmt.Sprintf("ex-%s-%d", f.accountID, f.nextOrderID)
	f.created = append(f.created, &placed)
	return &placed, nil
}

func (f *fakeClient) CancelOrder(_ context.Context, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeClient) Relogin(_ context.Context) error { return nil }

// testSymbolConfig 基准合约配置
func testSymbolConfig() SymbolConfig {
	return SymbolConfig{
		Instrument:           "BTC_USDT_Perp",
		Enabled:              true,
		OrderNotionalUSDT:    decimal.NewFromInt(1000),
		ImbalanceLimitUSDT:   decimal.NewFromInt(200),
		MaxTotalPositionUSDT: decimal.NewFromInt(20000),
		MinTotalPositionUSDT: decimal.Zero,
		ASideWhenEqual:       grvt.SideBuy,
		PositionMode:         PositionModeIncrease,
	}
}

func testEngineConfig() EngineConfig {
	return EngineConfig{
		LoopInterval:             2 * time.Second,
		PostOnlyMaxRetry:         5,
		PostOnlyCooldown:         300 * time.Second,
		PartialFillTimeout:       1800 * time.Second,
		StuckThreshold:           6 * time.Hour,
		MMRAlertThreshold:        decimal.RequireFromString("0.70"),
		OrderbookDepth:           10,
		SingleOrderDiffThreshold: decimal.NewFromInt(20),
		CancelOnStop:             true,
	}
}

// newTestEngine 组一台带假客户端的引擎，时钟可拨动
func newTestEngine(symCfg SymbolConfig) (*Engine, *SymbolState, *fakeClient, *fakeClient, *time.Time) {
	clientA := newFakeClient("1001")
	clientB := newFakeClient("2002")
	signer, err := grvt.NewSigner(grvt.EnvTestnet, testPrivateKey)
	if err != nil {
		panic(err)
	}
	acctA := &AccountRuntime{
		Label:       "A",
		Name:        "Trading_1001",
		Client:      clientA,
		Signer:      signer,
		Instruments: cache.NewInMemoryCache[string, *grvt.Instrument](0),
	}
	acctB := &AccountRuntime{
		Label:       "B",
		Name:        "Trading_2002",
		Client:      clientB,
		Signer:      signer,
		Instruments: cache.NewInMemoryCache[string, *grvt.Instrument](0),
	}
	engine, err := NewEngine(testEngineConfig(), acctA, acctB, []SymbolConfig{symCfg}, notify.NewDispatcher(notify.Config{}))
	if err != nil {
		panic(err)
	}
	now := time.Unix(1_700_000_000, 0)
	engine.now = func() time.Time { return now }
	engine.sleep = func(time.Duration) {}
	return engine, engine.symbols[symCfg.Instrument], clientA, clientB, &now
}

// snap 快速构造仓位快照
func snap(size, markPrice, entryPrice string) PositionSnapshot {
	sz := decimal.RequireFromString(size)
	mark := decimal.RequireFromString(markPrice)
	signed := sz.Mul(mark)
	return PositionSnapshot{
		Size:           sz,
		MarkPrice:      mark,
		EntryPrice:     decimal.RequireFromString(entryPrice),
		SignedNotional: signed,
		AbsNotional:    signed.Abs(),
	}
}
