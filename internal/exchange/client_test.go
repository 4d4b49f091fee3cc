package exchange

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cryptumbot/cryptum/internal/crypto"
	"github.com/cryptumbot/cryptum/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(cfg ClientConfig) *Client {
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = 2 * time.Second
	}
	return New(cfg, crypto.NewSigner("test-secret"), nil, nil, testLogger())
}

const tickerBody = `{
	"symbol": "BTCUSDT",
	"lastPrice": "50000.5",
	"priceChangePercent": "2.5",
	"highPrice": "51000",
	"lowPrice": "49000",
	"quoteVolume": "12345.6"
}`

func TestGetTicker24hPrimarySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/24hr" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %q", got)
		}
		w.Write([]byte(tickerBody))
	}))
	defer srv.Close()

	c := newTestClient(ClientConfig{Mirrors: []string{srv.URL}})
	ticker, err := c.GetTicker24h(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetTicker24h: %v", err)
	}
	if ticker.LastPrice != 50000.5 {
		t.Errorf("LastPrice = %v, want 50000.5", ticker.LastPrice)
	}
	if ticker.PriceChangePercent != 2.5 {
		t.Errorf("PriceChangePercent = %v, want 2.5", ticker.PriceChangePercent)
	}
}

func TestChainAdvancesPastFailingEndpoints(t *testing.T) {
	var down atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		down.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(tickerBody))
	}))
	defer good.Close()

	c := newTestClient(ClientConfig{Mirrors: []string{bad.URL, bad.URL, good.URL}})
	ticker, err := c.GetTicker24h(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetTicker24h: %v", err)
	}
	if ticker.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q", ticker.Symbol)
	}
	if down.Load() != 2 {
		t.Errorf("failing endpoint hit %d times, want 2", down.Load())
	}
}

func TestChainExhaustionReturnsAllSourcesDown(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	c := newTestClient(ClientConfig{Mirrors: []string{bad.URL, bad.URL}})
	_, err := c.GetTicker24h(context.Background(), "BTCUSDT")
	if !errors.Is(err, domain.ErrAllSourcesDown) {
		t.Fatalf("err = %v, want ErrAllSourcesDown", err)
	}
}

func TestCredentialRejectionAbortsChain(t *testing.T) {
	var secondHit atomic.Bool
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code": -2015, "msg": "Invalid API-key, IP, or permissions for action."}`))
	}))
	defer rejecting.Close()
	never := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondHit.Store(true)
		w.Write([]byte(`{"balances": []}`))
	}))
	defer never.Close()

	c := New(ClientConfig{
		Mirrors:        []string{rejecting.URL, never.URL},
		APIKey:         "key",
		AttemptTimeout: 2 * time.Second,
	}, crypto.NewSigner("secret"), nil, nil, testLogger())

	_, err := c.GetBalance(context.Background(), "USDT")
	if err == nil {
		t.Fatal("expected error")
	}
	var re *domain.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if re.Kind != domain.KindConfig {
		t.Errorf("Kind = %q, want config", re.Kind)
	}
	if secondHit.Load() {
		t.Error("chain advanced past a credential rejection")
	}
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code": -1003, "msg": "Too many requests."}`))
	}))
	defer limited.Close()

	c := newTestClient(ClientConfig{Mirrors: []string{limited.URL}})
	_, err := c.GetTicker24h(context.Background(), "ETHUSDT")
	if err == nil {
		t.Fatal("expected error")
	}
	wait, ok := domain.IsRateLimited(err)
	if !ok {
		t.Fatalf("err = %v, want rate-limited", err)
	}
	if wait != 42*time.Second {
		t.Errorf("RetryAfter = %v, want 42s", wait)
	}
}

func TestRateLimitWithoutHeaderLeavesRetryAfterUnknown(t *testing.T) {
	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code": -1003, "msg": "Too many requests."}`))
	}))
	defer limited.Close()

	c := newTestClient(ClientConfig{Mirrors: []string{limited.URL}})
	_, err := c.GetTicker24h(context.Background(), "ETHUSDT")
	if err == nil {
		t.Fatal("expected error")
	}
	wait, ok := domain.IsRateLimited(err)
	if !ok {
		t.Fatalf("err = %v, want rate-limited", err)
	}
	// No Retry-After header: zero signals the provider stated no back-off.
	if wait != 0 {
		t.Errorf("RetryAfter = %v, want 0 for an absent header", wait)
	}
}

func TestAltProviderFallback(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	alt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/coins/markets" {
			t.Errorf("unexpected alt path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("ids"); got != "bitcoin" {
			t.Errorf("ids = %q, want bitcoin", got)
		}
		w.Write([]byte(`[{
			"symbol": "btc",
			"current_price": 49900,
			"high_24h": 51000,
			"low_24h": 48800,
			"price_change_percentage_24h": -1.2,
			"total_volume": 987654
		}]`))
	}))
	defer alt.Close()

	c := newTestClient(ClientConfig{Mirrors: []string{bad.URL}, AltDataURL: alt.URL})
	ticker, err := c.GetTicker24h(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetTicker24h: %v", err)
	}
	if ticker.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want canonical pair name", ticker.Symbol)
	}
	if ticker.LastPrice != 49900 {
		t.Errorf("LastPrice = %v, want 49900", ticker.LastPrice)
	}
	if ticker.PriceChangePercent != -1.2 {
		t.Errorf("PriceChangePercent = %v, want -1.2", ticker.PriceChangePercent)
	}
}

func TestAltProviderUnmappedSymbol(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	c := newTestClient(ClientConfig{Mirrors: []string{bad.URL}, AltDataURL: "http://127.0.0.1:1"})
	_, err := c.GetTicker24h(context.Background(), "OBSCUREUSDT")
	if !errors.Is(err, domain.ErrAllSourcesDown) {
		t.Fatalf("err = %v, want ErrAllSourcesDown", err)
	}
}

func TestSignedRequestWithoutCredentials(t *testing.T) {
	c := New(ClientConfig{Mirrors: []string{"http://127.0.0.1:1"}, AttemptTimeout: time.Second},
		crypto.NewSigner("secret"), nil, nil, testLogger())

	_, err := c.GetBalance(context.Background(), "USDT")
	var re *domain.RemoteError
	if !errors.As(err, &re) || re.Kind != domain.KindConfig {
		t.Fatalf("err = %v, want config-kind RemoteError", err)
	}
}

func TestPlaceOrderMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		q := r.URL.Query()
		if q.Get("type") != "MARKET" {
			t.Errorf("type = %q, want MARKET", q.Get("type"))
		}
		if q.Get("side") != "BUY" {
			t.Errorf("side = %q, want BUY", q.Get("side"))
		}
		if q.Get("signature") == "" {
			t.Error("missing signature")
		}
		if r.Header.Get("X-MBX-APIKEY") != "key" {
			t.Error("missing API key header")
		}
		w.Write([]byte(`{
			"orderId": 12345,
			"clientOrderId": "abc-1",
			"status": "FILLED",
			"executedQty": "0.5",
			"cummulativeQuoteQty": "25000",
			"transactTime": 1700000000000
		}`))
	}))
	defer srv.Close()

	c := New(ClientConfig{Mirrors: []string{srv.URL}, APIKey: "key", AttemptTimeout: 2 * time.Second},
		crypto.NewSigner("secret"), nil, nil, testLogger())

	result, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          domain.TradeSideBuy,
		ClientOrderID: "abc-1",
		Quantity:      0.5,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.OrderID != "12345" {
		t.Errorf("OrderID = %q, want 12345", result.OrderID)
	}
	if result.ExecutedQty != 0.5 {
		t.Errorf("ExecutedQty = %v, want 0.5", result.ExecutedQty)
	}
	if result.AvgPrice != 50000 {
		t.Errorf("AvgPrice = %v, want 50000", result.AvgPrice)
	}
}

func TestInsufficientBalanceClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code": -2010, "msg": "Account has insufficient balance for requested action."}`))
	}))
	defer srv.Close()

	c := New(ClientConfig{Mirrors: []string{srv.URL}, APIKey: "key", AttemptTimeout: 2 * time.Second},
		crypto.NewSigner("secret"), nil, nil, testLogger())

	_, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.TradeSideBuy, ClientOrderID: "x", Quantity: 1,
	})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}
