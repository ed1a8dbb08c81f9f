package exchangerest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"arbcore/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDryRunClient() *Client {
	return &Client{
		auth:   &Auth{},
		dryRun: true,
		rl:     NewRateLimiter(),
		logger: testLogger(),
	}
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPriceToAmountsBuy(t *testing.T) {
	t.Parallel()
	mkr, tkr := PriceToAmounts(d("0.50"), d("100"), types.Buy, 2)
	if mkr != "50000000" {
		t.Errorf("makerAmount = %s, want 50000000", mkr)
	}
	if tkr != "100000000" {
		t.Errorf("takerAmount = %s, want 100000000", tkr)
	}
}

func TestPriceToAmountsSell(t *testing.T) {
	t.Parallel()
	mkr, tkr := PriceToAmounts(d("0.50"), d("100"), types.Sell, 2)
	if mkr != "100000000" {
		t.Errorf("makerAmount = %s, want 100000000", mkr)
	}
	if tkr != "50000000" {
		t.Errorf("takerAmount = %s, want 50000000", tkr)
	}
}

func TestPriceToAmountsSellMirrorsBuy(t *testing.T) {
	t.Parallel()
	buyMkr, buyTkr := PriceToAmounts(d("0.60"), d("50"), types.Buy, 4)
	sellMkr, sellTkr := PriceToAmounts(d("0.60"), d("50"), types.Sell, 4)

	if buyMkr != sellTkr {
		t.Errorf("BUY maker (%s) != SELL taker (%s)", buyMkr, sellTkr)
	}
	if buyTkr != sellMkr {
		t.Errorf("BUY taker (%s) != SELL maker (%s)", buyTkr, sellMkr)
	}
}

func TestPriceToAmountsTruncatesToSize(t *testing.T) {
	t.Parallel()
	// size truncated to 2 decimals: 1.999 -> 1.99
	mkr, tkr := PriceToAmounts(d("0.55"), d("1.999"), types.Buy, 4)
	if tkr != "1990000" {
		t.Errorf("takerAmount = %s, want 1990000 (1.99 tokens)", tkr)
	}
	if mkr != "1094500" {
		t.Errorf("makerAmount = %s, want 1094500 (1.99 * 0.55 = 1.0945)", mkr)
	}
}

func TestDryRunPostOrdersSkipsNetworkCall(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	orders := []OrderRequest{
		{TokenID: "tok1", Price: d("0.50"), Size: d("10"), Side: types.Buy, TickDecimals: 2},
		{TokenID: "tok1", Price: d("0.55"), Size: d("10"), Side: types.Sell, TickDecimals: 2},
	}

	results, err := c.PostOrders(context.Background(), orders)
	if err != nil {
		t.Fatalf("PostOrders: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for i, r := range results {
		if !r.Success {
			t.Errorf("result[%d].Success = false, want true", i)
		}
	}
}

func TestDryRunCancelAllReturnsEmpty(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	resp, err := c.CancelAll(context.Background())
	if err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	if len(resp.Canceled) != 0 {
		t.Fatalf("expected no canceled orders in dry-run, got %v", resp.Canceled)
	}
}

func TestPostOrdersRejectsOversizedBatch(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()
	c.dryRun = false

	orders := make([]OrderRequest, 16)
	for i := range orders {
		orders[i] = OrderRequest{TokenID: "tok1", Price: d("0.5"), Size: d("1"), Side: types.Buy, TickDecimals: 2}
	}

	if _, err := c.PostOrders(context.Background(), orders); err == nil {
		t.Fatal("expected error for batch over 15 orders")
	}
}
