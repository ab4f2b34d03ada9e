package grvt

import (
	"github.com/shopspring/decimal"
)

// Env selects the GRVT deployment the client talks to.
type Env string

const (
	EnvProd    Env = "prod"
	EnvTestnet Env = "testnet"
	EnvDev     Env = "dev"
)

// Side is an order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other direction.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus mirrors the exchange order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// IsTerminal reports whether the status is final.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// TimeInForce values accepted by the exchange.
type TimeInForce string

const (
	TimeInForceGoodTillTime      TimeInForce = "GOOD_TILL_TIME"
	TimeInForceImmediateOrCancel TimeInForce = "IMMEDIATE_OR_CANCEL"
)

// Instrument is the tradable contract metadata the strategy needs for
// price/size quantization.
type Instrument struct {
	Instrument     string          `json:"instrument"`
	InstrumentHash string          `json:"instrument_hash"`
	Base           string          `json:"base"`
	Quote          string          `json:"quote"`
	TickSize       decimal.Decimal `json:"tick_size"`
	MinSize        decimal.Decimal `json:"min_size"`
	BaseDecimals   int             `json:"base_decimals"`
	IsActive       bool            `json:"is_active"`
}

// Position is one perpetual position row for a sub account.
type Position struct {
	Instrument string          `json:"instrument"`
	Size       decimal.Decimal `json:"size"`
	MarkPrice  decimal.Decimal `json:"mark_price"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

// OrderLeg is a single leg of an order. The hedge strategy only ever places
// single-leg orders but the wire format keeps the list shape.
type OrderLeg struct {
	Instrument    string          `json:"instrument"`
	Size          decimal.Decimal `json:"size"`
	LimitPrice    decimal.Decimal `json:"limit_price"`
	IsBuyingAsset bool            `json:"is_buying_asset"`
}

// OrderMetadata carries client-side correlation data.
type OrderMetadata struct {
	ClientOrderID string `json:"client_order_id"`
	CreateTime    string `json:"create_time,omitempty"`
}

// OrderState is the exchange-maintained execution state. The per-leg slices
// are parallel to Order.Legs; absent state (order not yet acknowledged) is an
// empty slice, never a zero value pretending to be data.
type OrderState struct {
	Status       OrderStatus       `json:"status"`
	TradedSize   []decimal.Decimal `json:"traded_size"`
	AvgFillPrice []decimal.Decimal `json:"avg_fill_price"`
	BookSize     []decimal.Decimal `json:"book_size"`
}

// Signature is the EIP-712 signature envelope for order submission.
type Signature struct {
	Signer     string `json:"signer"`
	R          string `json:"r"`
	S          string `json:"s"`
	V          int    `json:"v"`
	Expiration string `json:"expiration"`
	Nonce      int64  `json:"nonce"`
}

// Order is the full order object used for both submission and queries.
type Order struct {
	OrderID      string        `json:"order_id,omitempty"`
	SubAccountID string        `json:"sub_account_id"`
	IsMarket     bool          `json:"is_market"`
	TimeInForce  TimeInForce   `json:"time_in_force"`
	PostOnly     bool          `json:"post_only"`
	ReduceOnly   bool          `json:"reduce_only"`
	Legs         []OrderLeg    `json:"legs"`
	Signature    *Signature    `json:"signature,omitempty"`
	Metadata     OrderMetadata `json:"metadata"`
	State        *OrderState   `json:"state,omitempty"`
}

// Side returns the direction of the first leg; defaults to buy when the order
// has no legs (malformed exchange data).
func (o *Order) Side() Side {
	if len(o.Legs) == 0 {
		return SideBuy
	}
	if o.Legs[0].IsBuyingAsset {
		return SideBuy
	}
	return SideSell
}

// Status returns the order status, treating missing state as OPEN.
func (o *Order) Status() OrderStatus {
	if o.State == nil || o.State.Status == "" {
		return OrderStatusOpen
	}
	return o.State.Status
}

// TradedSize returns the first-leg traded size, zero when absent.
func (o *Order) TradedSize() decimal.Decimal {
	if o.State == nil || len(o.State.TradedSize) == 0 {
		return decimal.Zero
	}
	return o.State.TradedSize[0]
}

// AvgFillPrice returns the first-leg average fill price, falling back to the
// leg limit price when the exchange has not reported one.
func (o *Order) AvgFillPrice() decimal.Decimal {
	if o.State != nil && len(o.State.AvgFillPrice) > 0 && o.State.AvgFillPrice[0].Sign() > 0 {
		return o.State.AvgFillPrice[0]
	}
	if len(o.Legs) > 0 {
		return o.Legs[0].LimitPrice
	}
	return decimal.Zero
}

// BookSize returns the first-leg resting size still on the book.
func (o *Order) BookSize() decimal.Decimal {
	if o.State == nil || len(o.State.BookSize) == 0 {
		return decimal.Zero
	}
	return o.State.BookSize[0]
}

// BookLevel is one price level of the order book.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderbookLevels is an order book snapshot.
type OrderbookLevels struct {
	Instrument string      `json:"instrument"`
	Bids       []BookLevel `json:"bids"`
	Asks       []BookLevel `json:"asks"`
}

// BestBid returns the top bid, ok=false when the side is empty or non-positive.
func (b *OrderbookLevels) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 || b.Bids[0].Price.Sign() <= 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the top ask, ok=false when the side is empty or non-positive.
func (b *OrderbookLevels) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 || b.Asks[0].Price.Sign() <= 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price, true
}

// SpotBalance is one currency balance row of an account summary.
type SpotBalance struct {
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

// AccountSummary is the aggregated or funding account summary.
type AccountSummary struct {
	TotalEquity       decimal.Decimal `json:"total_equity"`
	MaintenanceMargin decimal.Decimal `json:"maintenance_margin"`
	AvailableBalance  decimal.Decimal `json:"available_balance"`
	SpotBalances      []SpotBalance   `json:"spot_balances"`
}

// TransferType distinguishes the supported internal transfer directions.
type TransferType string

const (
	TransferStandard TransferType = "STANDARD"
)

// TransferRequest is a signed internal transfer between sub accounts under
// the same main account.
type TransferRequest struct {
	FromAccountID    string          `json:"from_account_id"`
	FromSubAccountID string          `json:"from_sub_account_id"`
	ToAccountID      string          `json:"to_account_id"`
	ToSubAccountID   string          `json:"to_sub_account_id"`
	Currency         string          `json:"currency"`
	NumTokens        decimal.Decimal `json:"num_tokens"`
	Signature        *Signature      `json:"signature,omitempty"`
	TransferType     TransferType    `json:"transfer_type"`
	TransferMetadata string          `json:"transfer_metadata,omitempty"`
}

// TransferResult acknowledges a submitted transfer.
type TransferResult struct {
	TxID string `json:"tx_id"`
}
