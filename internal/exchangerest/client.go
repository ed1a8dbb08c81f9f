// Package exchangerest implements the REST client for a Polymarket-style
// CLOB exchange: order placement and cancellation, order-book snapshots,
// and market discovery, all rate-limited per endpoint category and signed
// with the two-layer auth scheme in auth.go.
package exchangerest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"arbcore/internal/config"
	"arbcore/internal/types"
)

// usdcScale is the fixed-point scale Polymarket-style CLOBs use for on-chain
// order amounts: 6 decimal places, matching USDC.
var usdcScale = decimal.New(1, 6)

// SignedOrder is the on-chain order payload the exchange expects.
type SignedOrder struct {
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Side          string `json:"side"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	SignatureType int    `json:"signatureType"`
}

// OrderPayload wraps a SignedOrder with the owner key and fill semantics.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

// OrderRequest is one leg of an arbitrage opportunity translated into a
// placeable order.
type OrderRequest struct {
	TokenID      types.TokenId
	Side         types.Side
	Price        decimal.Decimal
	Size         decimal.Decimal
	TickDecimals int32
	ExpirationAt time.Time
	FeeRateBps   int
	OrderType    string // "FOK", "GTC", "GTD"
}

// OrderResponse is the exchange's response to one submitted order.
type OrderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderID"`
	Status  string `json:"status"`
	Error   string `json:"errorMsg,omitempty"`
}

// CancelResponse lists orders the cancel call actually removed.
type CancelResponse struct {
	Canceled []string `json:"canceled"`
}

// Client is the REST client for order management and market data.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient builds a rate-limited, retrying REST client against the CLOB
// base URL in cfg.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger.With("component", "exchangerest"),
	}
}

// GetOrderBook fetches the L2 book for a single token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID types.TokenId) (*types.BookResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", string(tokenID)).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// GetMarkets fetches one page of active markets from the discovery API.
func (c *Client) GetMarkets(ctx context.Context, cursor string) (*types.GammaMarketsPage, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.GammaMarketsPage
	req := c.http.R().SetContext(ctx).SetResult(&result)
	if cursor != "" {
		req.SetQueryParam("next_cursor", cursor)
	}
	resp, err := req.Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get markets: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// buildOrderPayload converts one leg of an opportunity into the signed
// order shape the exchange expects, scaling price/size to USDC's 6-decimal
// fixed point the way the protocol requires for every outcome token
// regardless of how many outcomes the market has.
func (c *Client) buildOrderPayload(req OrderRequest) OrderPayload {
	makerAmt, takerAmt := PriceToAmounts(req.Price, req.Size, req.Side, req.TickDecimals)

	expiration := "0"
	if !req.ExpirationAt.IsZero() {
		expiration = fmt.Sprintf("%d", req.ExpirationAt.Unix())
	}

	orderType := req.OrderType
	if orderType == "" {
		orderType = "FOK"
	}

	return OrderPayload{
		Order: SignedOrder{
			Maker:         c.auth.FunderAddress().Hex(),
			Signer:        c.auth.Address().Hex(),
			Taker:         "0x0000000000000000000000000000000000000000",
			TokenID:       string(req.TokenID),
			MakerAmount:   makerAmt,
			TakerAmount:   takerAmt,
			Side:          string(req.Side),
			Expiration:    expiration,
			Nonce:         "0",
			FeeRateBps:    fmt.Sprintf("%d", req.FeeRateBps),
			SignatureType: c.auth.sigType,
		},
		Owner:     c.auth.creds.ApiKey,
		OrderType: orderType,
	}
}

// PostOrders places every leg of an arbitrage opportunity as a single
// batch of up to 15 signed orders. All legs are submitted together so a
// partial book move between legs shows up as partial fills rather than
// one leg silently never being attempted.
func (c *Client) PostOrders(ctx context.Context, orders []OrderRequest) ([]OrderResponse, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	if len(orders) > 15 {
		return nil, fmt.Errorf("batch limit is 15 orders, got %d", len(orders))
	}
	if c.dryRun {
		c.logger.Info("dry-run: would post orders", "count", len(orders))
		results := make([]OrderResponse, len(orders))
		for i := range orders {
			results[i] = OrderResponse{Success: true, OrderID: fmt.Sprintf("dry-run-%d", i), Status: "live"}
		}
		return results, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	payloads := make([]OrderPayload, len(orders))
	for i, o := range orders {
		payloads[i] = c.buildOrderPayload(o)
	}

	body, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("marshal orders: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var results []OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payloads).
		SetResult(&results).
		Post("/orders")
	if err != nil {
		return nil, fmt.Errorf("post orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("post orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	return results, nil
}

// CancelOrders cancels specific orders by ID.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) (*CancelResponse, error) {
	if len(orderIDs) == 0 {
		return &CancelResponse{}, nil
	}
	if c.dryRun {
		c.logger.Info("dry-run: would cancel orders", "count", len(orderIDs))
		return &CancelResponse{Canceled: orderIDs}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	payload := struct {
		OrderIDs []string `json:"orderIDs"`
	}{OrderIDs: orderIDs}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal cancel request: %w", err)
	}
	headers, err := c.auth.L2Headers("DELETE", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/orders")
	if err != nil {
		return nil, fmt.Errorf("cancel orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// CancelAll cancels every open order across every market. Used when the
// risk manager trips the circuit breaker.
func (c *Client) CancelAll(ctx context.Context) (*CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("dry-run: would cancel all orders")
		return &CancelResponse{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		return nil, fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// CancelMarketOrders cancels all open orders for one market.
func (c *Client) CancelMarketOrders(ctx context.Context, marketID types.MarketId) (*CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("dry-run: would cancel market orders", "market", marketID)
		return &CancelResponse{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	body := fmt.Sprintf(`{"market":"%s"}`, marketID)
	headers, err := c.auth.L2Headers("DELETE", "/cancel-market-orders", body)
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/cancel-market-orders")
	if err != nil {
		return nil, fmt.Errorf("cancel market orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel market orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// DeriveAPIKey bootstraps L2 trading credentials from the L1 wallet
// signature and installs them on auth.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("api key derived", "api_key", result.ApiKey)
	return &result, nil
}

// PriceToAmounts converts a human-readable price and size to the
// maker/taker fixed-point amount strings the exchange expects, scaled to
// USDC's 6 decimal places and truncated to the token's tick precision.
// For BUY: makerAmount is the USDC cost, takerAmount is tokens received.
// For SELL: makerAmount is tokens given, takerAmount is the USDC received.
func PriceToAmounts(price, size decimal.Decimal, side types.Side, tickDecimals int32) (makerAmt, takerAmt string) {
	sizeRounded := size.Truncate(2)
	notional := sizeRounded.Mul(price).Truncate(tickDecimals)

	switch side {
	case types.Buy:
		makerAmt = notional.Mul(usdcScale).Truncate(0).String()
		takerAmt = sizeRounded.Mul(usdcScale).Truncate(0).String()
	case types.Sell:
		makerAmt = sizeRounded.Mul(usdcScale).Truncate(0).String()
		takerAmt = notional.Mul(usdcScale).Truncate(0).String()
	}
	return makerAmt, takerAmt
}
