// Package exchange implements the resilient remote access layer for the
// exchange REST API. Every operation is attempted against an ordered
// endpoint list (primary proxy, then direct mirrors, then an alternate
// public data provider for market data) with an independent timeout per
// attempt; the first success wins and exhaustion of the chain yields an
// aggregate error.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cryptumbot/cryptum/internal/crypto"
	"github.com/cryptumbot/cryptum/internal/domain"
)

// DefaultMirrors are the provider's direct REST mirrors, tried in order
// after the primary proxy.
var DefaultMirrors = []string{
	"https://api.binance.com",
	"https://api1.binance.com",
	"https://api2.binance.com",
	"https://api3.binance.com",
	"https://api4.binance.com",
}

const (
	defaultAttemptTimeout = 5 * time.Second
	recvWindowMillis      = 5000
	rateLimitKey          = "exchange:rest"
)

// ClientConfig holds the connection and credential parameters for the
// exchange client.
type ClientConfig struct {
	// ProxyURL is the primary bridge endpoint, tried first. Optional.
	ProxyURL string
	// Mirrors are the direct provider endpoints, tried in order after the
	// proxy. Defaults to DefaultMirrors when empty.
	Mirrors []string
	// AltDataURL is the alternate public data provider root (different
	// schema, market data only). Optional.
	AltDataURL string
	// APIKey authenticates signed endpoints.
	APIKey string
	// AttemptTimeout bounds each individual endpoint attempt.
	AttemptTimeout time.Duration
}

// Client is the exchange REST client. It is stateless across calls except
// for the optional short-lived quote cache.
type Client struct {
	endpoints      []string
	altDataURL     string
	apiKey         string
	signer         *crypto.Signer
	httpClient     *http.Client
	attemptTimeout time.Duration
	quotes         domain.QuoteCache
	limiter        domain.RateLimiter
	logger         *slog.Logger
}

// New creates a Client. signer must be non-nil for signed operations.
// quotes and limiter are optional; a nil quote cache disables the success
// cache and a nil limiter disables client-side request pacing.
func New(cfg ClientConfig, signer *crypto.Signer, quotes domain.QuoteCache, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	mirrors := cfg.Mirrors
	if len(mirrors) == 0 {
		mirrors = DefaultMirrors
	}
	var endpoints []string
	if cfg.ProxyURL != "" {
		endpoints = append(endpoints, cfg.ProxyURL)
	}
	endpoints = append(endpoints, mirrors...)

	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}

	return &Client{
		endpoints:      endpoints,
		altDataURL:     cfg.AltDataURL,
		apiKey:         cfg.APIKey,
		signer:         signer,
		httpClient:     &http.Client{}, // per-attempt deadlines come from the context
		attemptTimeout: timeout,
		quotes:         quotes,
		limiter:        limiter,
		logger:         logger.With(slog.String("component", "exchange")),
	}
}

// GetTicker24h returns 24-hour statistics for symbol, consulting the quote
// cache first and falling back through the endpoint chain, then the
// alternate data provider, on failure.
func (c *Client) GetTicker24h(ctx context.Context, symbol string) (domain.Ticker24h, error) {
	if c.quotes != nil {
		if cached, err := c.quotes.GetTicker(ctx, symbol); err == nil {
			return cached, nil
		}
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	body, chainErr := c.doPublic(ctx, "/api/v3/ticker/24hr", params)
	if chainErr == nil {
		var api apiTicker24h
		if err := json.Unmarshal(body, &api); err != nil {
			return domain.Ticker24h{}, fmt.Errorf("exchange: decode ticker: %w", err)
		}
		ticker := api.toDomain(time.Now().UTC())
		c.cacheTicker(ctx, ticker)
		return ticker, nil
	}

	// Alternate provider with schema translation, market data only.
	if c.altDataURL != "" {
		ticker, altErr := c.fetchAltTicker(ctx, symbol)
		if altErr == nil {
			c.cacheTicker(ctx, ticker)
			return ticker, nil
		}
		chainErr = errors.Join(chainErr, altErr)
	}

	return domain.Ticker24h{}, fmt.Errorf("exchange: get ticker %s: %w: %w", symbol, domain.ErrAllSourcesDown, chainErr)
}

// GetBalance returns the free/locked balance for a single asset.
func (c *Client) GetBalance(ctx context.Context, asset string) (domain.Balance, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return domain.Balance{}, fmt.Errorf("exchange: get balance: %w", err)
	}

	var account apiAccount
	if err := json.Unmarshal(body, &account); err != nil {
		return domain.Balance{}, fmt.Errorf("exchange: decode account: %w", err)
	}

	for _, b := range account.Balances {
		if b.Asset == asset {
			return domain.Balance{
				Asset:  b.Asset,
				Free:   parseFloat(b.Free),
				Locked: parseFloat(b.Locked),
			}, nil
		}
	}
	return domain.Balance{}, fmt.Errorf("exchange: get balance: asset %s: %w", asset, domain.ErrNotFound)
}

// PlaceOrder submits a market or limit order.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", sideParam(req.Side))
	params.Set("newClientOrderId", req.ClientOrderID)
	params.Set("quantity", strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	if req.Price > 0 {
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
	} else {
		params.Set("type", "MARKET")
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange: place order %s: %w", req.Symbol, err)
	}

	var api apiOrderResult
	if err := json.Unmarshal(body, &api); err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange: decode order result: %w", err)
	}
	return api.toDomain(), nil
}

// CancelOrder cancels a single open order.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	if _, err := c.doSigned(ctx, http.MethodDelete, "/api/v3/order", params); err != nil {
		return fmt.Errorf("exchange: cancel order %s/%s: %w", symbol, orderID, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Endpoint chain
// --------------------------------------------------------------------------

// doPublic performs an unauthenticated GET against the endpoint chain.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.doChain(ctx, func(attemptCtx context.Context, endpoint string) (*http.Request, error) {
		u := endpoint + path
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		return http.NewRequestWithContext(attemptCtx, http.MethodGet, u, nil)
	})
}

// doSigned performs an authenticated request against the endpoint chain. The
// timestamp and signature are regenerated per attempt so a slow first
// endpoint cannot expire the recv window of the second.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.apiKey == "" || c.signer == nil {
		return nil, &domain.RemoteError{
			Kind:     domain.KindConfig,
			Endpoint: path,
			Err:      errors.New("missing API credentials"),
		}
	}

	return c.doChain(ctx, func(attemptCtx context.Context, endpoint string) (*http.Request, error) {
		signed := url.Values{}
		for k, vs := range params {
			signed[k] = vs
		}
		signed.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		signed.Set("recvWindow", strconv.Itoa(recvWindowMillis))
		query := signed.Encode()
		query += "&signature=" + c.signer.Sign(query)

		req, err := http.NewRequestWithContext(attemptCtx, method, endpoint+path+"?"+query, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
		return req, nil
	})
}

// doChain walks the ordered endpoint list, giving each attempt its own
// timeout. Transport failures and 5xx responses advance to the next
// endpoint without retrying the same one; credential and order-level
// rejections abort the chain since they will fail identically everywhere.
func (c *Client) doChain(ctx context.Context, build func(ctx context.Context, endpoint string) (*http.Request, error)) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var attemptErrs []error

	for _, endpoint := range c.endpoints {
		body, err := c.attempt(ctx, endpoint, build)
		if err == nil {
			return body, nil
		}

		var re *domain.RemoteError
		if errors.As(err, &re) && fatalForChain(re) {
			return nil, err
		}

		c.logger.Warn("endpoint attempt failed, advancing",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		attemptErrs = append(attemptErrs, err)

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrContextDone, ctx.Err())
		}
	}

	return nil, fmt.Errorf("%w: %w", domain.ErrAllSourcesDown, errors.Join(attemptErrs...))
}

// attempt runs one endpoint attempt under its own deadline.
func (c *Client) attempt(ctx context.Context, endpoint string, build func(ctx context.Context, endpoint string) (*http.Request, error)) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := build(attemptCtx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.RemoteError{Kind: domain.KindNetwork, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.RemoteError{Kind: domain.KindNetwork, Endpoint: endpoint, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr) // best effort; classify falls back to the status code
	return nil, classify(endpoint, resp.StatusCode, apiErr, resp.Header)
}

// fetchAltTicker queries the alternate public data provider and translates
// its schema into the canonical ticker shape.
func (c *Client) fetchAltTicker(ctx context.Context, symbol string) (domain.Ticker24h, error) {
	id, ok := altAssetID(symbol)
	if !ok {
		return domain.Ticker24h{}, fmt.Errorf("alt provider: no asset mapping for %s", symbol)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/api/v3/coins/markets?vs_currency=usd&ids=%s", c.altDataURL, url.QueryEscape(id))
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Ticker24h{}, fmt.Errorf("alt provider: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Ticker24h{}, &domain.RemoteError{Kind: domain.KindNetwork, Endpoint: c.altDataURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Ticker24h{}, &domain.RemoteError{Kind: domain.KindNetwork, Endpoint: c.altDataURL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		return domain.Ticker24h{}, classify(c.altDataURL, resp.StatusCode, apiErr, resp.Header)
	}

	var markets []geckoMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return domain.Ticker24h{}, fmt.Errorf("alt provider: decode markets: %w", err)
	}
	if len(markets) == 0 {
		return domain.Ticker24h{}, fmt.Errorf("alt provider: %w: %s", domain.ErrNotFound, symbol)
	}

	return markets[0].toDomain(symbol, time.Now().UTC()), nil
}

func (c *Client) cacheTicker(ctx context.Context, ticker domain.Ticker24h) {
	if c.quotes == nil {
		return
	}
	if err := c.quotes.SetTicker(ctx, ticker); err != nil {
		// Cache failures never block a successful fetch.
		c.logger.Debug("quote cache write failed", slog.String("error", err.Error()))
	}
}

func sideParam(side domain.TradeSide) string {
	if side == domain.TradeSideSell {
		return "SELL"
	}
	return "BUY"
}

// altAssetID maps an exchange trading pair to the alternate provider's asset
// identifier.
func altAssetID(symbol string) (string, bool) {
	ids := map[string]string{
		"BTCUSDT":  "bitcoin",
		"ETHUSDT":  "ethereum",
		"BNBUSDT":  "binancecoin",
		"SOLUSDT":  "solana",
		"XRPUSDT":  "ripple",
		"ADAUSDT":  "cardano",
		"DOGEUSDT": "dogecoin",
		"DOTUSDT":  "polkadot",
		"LINKUSDT": "chainlink",
		"AVAXUSDT": "avalanche-2",
	}
	id, ok := ids[symbol]
	return id, ok
}
