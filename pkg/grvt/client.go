package grvt

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

type hosts struct {
	edge       string
	tradeData  string
	marketData string
}

var envHosts = map[Env]hosts{
	EnvProd: {
		edge:       "https://edge.grvt.io",
		tradeData:  "https://trades.grvt.io",
		marketData: "https://market-data.grvt.io",
	},
	EnvTestnet: {
		edge:       "https://edge.testnet.grvt.io",
		tradeData:  "https://trades.testnet.grvt.io",
		marketData: "https://market-data.testnet.grvt.io",
	},
	EnvDev: {
		edge:       "https://edge.dev.gravitymarkets.io",
		tradeData:  "https://trades.dev.gravitymarkets.io",
		marketData: "https://market-data.dev.gravitymarkets.io",
	},
}

const sessionCookieName = "gravity"

// Config holds the per-account connection settings.
type Config struct {
	Env              Env
	APIKey           string
	TradingAccountID string
}

// Validate checks the minimum settings needed to open a session.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.TradingAccountID == "" {
		return ErrMissingAccountID
	}
	if _, ok := envHosts[c.Env]; !ok {
		return errors.Errorf("grvt: unsupported env %q", c.Env)
	}
	return nil
}

// RateWaiter throttles outbound requests per endpoint. Implementations block
// until the endpoint has budget or ctx is cancelled.
type RateWaiter interface {
	Wait(ctx context.Context, endpoint string) error
}

// Client is a session-authenticated GRVT REST client. It is not safe for
// concurrent use; the hedge engine drives it from a single poll loop.
type Client struct {
	cfg     Config
	hosts   hosts
	edge    *resty.Client
	trade   *resty.Client
	market  *resty.Client
	limiter RateWaiter

	sessionCookie string
	mainAccountID string
}

// NewClient builds a client and performs the api-key login immediately so a
// bad credential fails at startup, not mid-loop.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := envHosts[cfg.Env]
	mk := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetTimeout(15 * time.Second).
			SetHeader("Content-Type", "application/json")
	}
	c := &Client{
		cfg:    cfg,
		hosts:  h,
		edge:   mk(h.edge),
		trade:  mk(h.tradeData),
		market: mk(h.marketData),
	}
	if err := c.login(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// SetRateLimiter installs a request throttle. Pass nil to disable.
func (c *Client) SetRateLimiter(limiter RateWaiter) { c.limiter = limiter }

// TradingAccountID returns the configured sub account id.
func (c *Client) TradingAccountID() string { return c.cfg.TradingAccountID }

// MainAccountID returns the main account id reported at login (needed for
// internal transfers).
func (c *Client) MainAccountID() string { return c.mainAccountID }

// login exchanges the api key for a session cookie.
func (c *Client) login(ctx context.Context) error {
	resp, err := c.edge.R().
		SetContext(ctx).
		SetHeader("Cookie", "rm=true").
		SetBody(map[string]string{"api_key": c.cfg.APIKey}).
		Post("/auth/api_key/login")
	if err != nil {
		return errors.Wrap(err, "grvt: login request failed")
	}
	if resp.IsError() {
		return parseAPIError(resp)
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookieName {
			c.sessionCookie = ck.Value
		}
	}
	if c.sessionCookie == "" {
		return errors.New("grvt: login response missing session cookie")
	}
	c.mainAccountID = resp.Header().Get("X-Grvt-Account-Id")
	return nil
}

// Relogin drops the current session and authenticates again. Called by the
// engine after an auth-class error.
func (c *Client) Relogin(ctx context.Context) error {
	c.sessionCookie = ""
	return c.login(ctx)
}

type resultEnvelope struct {
	Result json.RawMessage `json:"result"`
}

func parseAPIError(resp *resty.Response) error {
	apiErr := &APIError{Status: resp.StatusCode()}
	if err := json.Unmarshal(resp.Body(), apiErr); err != nil || (apiErr.Code == 0 && apiErr.Message == "") {
		apiErr.Message = http.StatusText(resp.StatusCode())
	}
	if apiErr.Status == 0 {
		apiErr.Status = resp.StatusCode()
	}
	return apiErr
}

// post sends an authenticated POST and decodes the "result" field into out.
func (c *Client) post(ctx context.Context, rc *resty.Client, path string, payload, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, path); err != nil {
			return errors.Wrapf(err, "grvt: rate limit wait for %s", path)
		}
	}
	req := rc.R().SetContext(ctx).SetBody(payload)
	if c.sessionCookie != "" {
		req.SetCookie(&http.Cookie{Name: sessionCookieName, Value: c.sessionCookie})
	}
	if c.mainAccountID != "" {
		req.SetHeader("X-Grvt-Account-Id", c.mainAccountID)
	}
	resp, err := req.Post(path)
	if err != nil {
		return errors.Wrapf(err, "grvt: request %s failed", path)
	}
	if resp.IsError() {
		return parseAPIError(resp)
	}
	if out == nil {
		return nil
	}
	var env resultEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return errors.Wrapf(err, "grvt: decode %s response", path)
	}
	if env.Result == nil {
		// Some endpoints (cancel) reply with a bare ack body.
		return json.Unmarshal(resp.Body(), out)
	}
	return json.Unmarshal(env.Result, out)
}

// Positions lists all perpetual positions for the sub account.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	payload := map[string]interface{}{
		"sub_account_id": c.cfg.TradingAccountID,
		"kind":           []string{"PERPETUAL"},
	}
	var out []Position
	if err := c.post(ctx, c.trade, "/full/v1/positions", payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenOrders lists all open perpetual orders for the sub account.
func (c *Client) OpenOrders(ctx context.Context) ([]Order, error) {
	payload := map[string]interface{}{
		"sub_account_id": c.cfg.TradingAccountID,
		"kind":           []string{"PERPETUAL"},
	}
	var out []Order
	if err := c.post(ctx, c.trade, "/full/v1/open_orders", payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrder fetches one order by exchange id, including terminal orders that
// already left the open-order list.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	payload := map[string]interface{}{
		"sub_account_id": c.cfg.TradingAccountID,
		"order_id":       orderID,
	}
	var out Order
	if err := c.post(ctx, c.trade, "/full/v1/order", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetInstrument fetches metadata for a single instrument.
func (c *Client) GetInstrument(ctx context.Context, instrument string) (*Instrument, error) {
	payload := map[string]interface{}{"instrument": instrument}
	var out Instrument
	if err := c.post(ctx, c.market, "/full/v1/instrument", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAllInstruments lists instruments; activeOnly filters delisted ones.
func (c *Client) GetAllInstruments(ctx context.Context, activeOnly bool) ([]Instrument, error) {
	payload := map[string]interface{}{"is_active": activeOnly}
	var out []Instrument
	if err := c.post(ctx, c.market, "/full/v1/all_instruments", payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OrderbookLevels fetches an order book snapshot with the given depth.
func (c *Client) OrderbookLevels(ctx context.Context, instrument string, depth int) (*OrderbookLevels, error) {
	payload := map[string]interface{}{
		"instrument": instrument,
		"depth":      depth,
	}
	var out OrderbookLevels
	if err := c.post(ctx, c.market, "/full/v1/book", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AggregatedAccountSummary returns equity/margin for the whole main account.
func (c *Client) AggregatedAccountSummary(ctx context.Context) (*AccountSummary, error) {
	var out AccountSummary
	if err := c.post(ctx, c.trade, "/full/v1/aggregated_account_summary", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FundingAccountSummary returns the funding account balances.
func (c *Client) FundingAccountSummary(ctx context.Context) (*AccountSummary, error) {
	var out AccountSummary
	if err := c.post(ctx, c.trade, "/full/v1/funding_account_summary", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOrder submits a signed order and returns the exchange view of it.
func (c *Client) CreateOrder(ctx context.Context, order *Order) (*Order, error) {
	if order.Signature == nil {
		return nil, errors.New("grvt: order is not signed")
	}
	payload := map[string]interface{}{"order": order}
	var out Order
	if err := c.post(ctx, c.trade, "/full/v1/create_order", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOrder cancels one order by exchange id. Callers use IsOrderGone to
// treat already-closed orders as success.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	payload := map[string]interface{}{
		"sub_account_id": c.cfg.TradingAccountID,
		"order_id":       orderID,
	}
	var ack struct {
		Ack bool `json:"ack"`
	}
	return c.post(ctx, c.trade, "/full/v1/cancel_order", payload, &ack)
}

// Transfer submits a signed internal transfer.
func (c *Client) Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	if req.Signature == nil {
		return nil, errors.New("grvt: transfer is not signed")
	}
	var out TransferResult
	if err := c.post(ctx, c.trade, "/full/v1/transfer", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
