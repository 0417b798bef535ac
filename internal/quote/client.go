// Package quote provides the rate-limited REST fallback price source used
// when on-chain decoding yields no price.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"solana-signal-watch/internal/ratelimit"
)

// Defaults for the two limiter families and caching.
const (
	DefaultTimeout   = 4 * time.Second
	DefaultSolTTL    = time.Minute
	tokenMinInterval = time.Second
	tokenPerMinute   = 60
	solMinInterval   = 2 * time.Second
	solPerMinute     = 30
	limiterWindow    = time.Minute
)

// ErrNoQuote is returned when a quote is unavailable and no cached value
// exists to fall back on.
var ErrNoQuote = errors.New("no quote available")

// Config configures the quote client endpoints.
type Config struct {
	// TokenURL is the base URL of the token quote API; the client requests
	// {TokenURL}/latest/dex/tokens/{mint}.
	TokenURL string
	// SolURL returns the SOL-USD quote as {"solana":{"usd":<price>}}.
	SolURL string
	// Timeout bounds each HTTP call.
	Timeout time.Duration
	// SolTTL is how long a fetched SOL-USD price stays fresh.
	SolTTL time.Duration
}

// Client fetches USD token quotes over REST behind two independent
// sliding-window limiters (one per endpoint family). Limiter rejections and
// HTTP failures fall back to the last cached value; only a miss with an
// empty cache surfaces ErrNoQuote. Caches are instance fields, never
// process globals, so independent clients do not share state.
type Client struct {
	cfg          Config
	httpc        *http.Client
	tokenLimiter *ratelimit.Limiter
	solLimiter   *ratelimit.Limiter
	log          zerolog.Logger

	mu     sync.Mutex
	cached map[string]float64
	solUSD float64
	solAt  time.Time
}

// New creates a quote client. Zero config fields fall back to defaults.
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SolTTL <= 0 {
		cfg.SolTTL = DefaultSolTTL
	}
	return &Client{
		cfg:          cfg,
		httpc:        &http.Client{Timeout: cfg.Timeout},
		tokenLimiter: ratelimit.New(tokenMinInterval, tokenPerMinute, limiterWindow),
		solLimiter:   ratelimit.New(solMinInterval, solPerMinute, limiterWindow),
		log:          log.With().Str("component", "quote").Logger(),
	}
}

type tokenResponse struct {
	Pairs []struct {
		PriceNative string `json:"priceNative"`
		PriceUsd    string `json:"priceUsd"`
	} `json:"pairs"`
}

type solResponse struct {
	Solana struct {
		USD float64 `json:"usd"`
	} `json:"solana"`
}

// TokenPriceUSD returns the USD price for a token mint. The native (SOL)
// price from the quote API is converted through the cached SOL-USD rate;
// when that rate is unknown the API's own USD field is used.
func (c *Client) TokenPriceUSD(ctx context.Context, mint string) (float64, error) {
	if !c.tokenLimiter.TryAcquire() {
		return c.cachedPrice(mint, "rate limited")
	}

	url := fmt.Sprintf("%s/latest/dex/tokens/%s", c.cfg.TokenURL, mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build quote request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("mint", mint).Msg("quote request failed")
		return c.cachedPrice(mint, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Debug().Int("status", resp.StatusCode).Str("mint", mint).Msg("quote request rejected")
		return c.cachedPrice(mint, "non-200 response")
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return c.cachedPrice(mint, "malformed response")
	}
	if len(body.Pairs) == 0 {
		return c.cachedPrice(mint, "no pairs")
	}

	pair := body.Pairs[0]
	price, ok := c.convertToUSD(pair.PriceNative, pair.PriceUsd)
	if !ok {
		return c.cachedPrice(mint, "unparseable prices")
	}

	c.mu.Lock()
	if c.cached == nil {
		c.cached = make(map[string]float64)
	}
	c.cached[mint] = price
	c.mu.Unlock()

	return price, nil
}

// convertToUSD prefers native-price * cached SOL-USD, falling back to the
// API's USD field when the SOL rate is unknown.
func (c *Client) convertToUSD(native, usd string) (float64, bool) {
	if nativePrice, err := strconv.ParseFloat(native, 64); err == nil && nativePrice > 0 {
		if sol, ok := c.CachedSolUSD(); ok {
			return nativePrice * sol, true
		}
	}
	if usdPrice, err := strconv.ParseFloat(usd, 64); err == nil && usdPrice > 0 {
		return usdPrice, true
	}
	return 0, false
}

func (c *Client) cachedPrice(mint, cause string) (float64, error) {
	c.mu.Lock()
	price, ok := c.cached[mint]
	c.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w for %s: %s", ErrNoQuote, mint, cause)
	}
	return price, nil
}

// SolUSD returns the SOL-USD rate, refreshing it over REST when the cached
// value is stale and the SOL limiter permits. Stale values are served while
// a refresh is not possible.
func (c *Client) SolUSD(ctx context.Context) (float64, error) {
	c.mu.Lock()
	fresh := c.solUSD > 0 && time.Since(c.solAt) < c.cfg.SolTTL
	cached := c.solUSD
	c.mu.Unlock()

	if fresh {
		return cached, nil
	}
	if !c.solLimiter.TryAcquire() {
		if cached > 0 {
			return cached, nil
		}
		return 0, fmt.Errorf("%w: sol quote rate limited", ErrNoQuote)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.SolURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build sol quote request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		if cached > 0 {
			return cached, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrNoQuote, err)
	}
	defer resp.Body.Close()

	var body solResponse
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&body) != nil || body.Solana.USD <= 0 {
		if cached > 0 {
			return cached, nil
		}
		return 0, fmt.Errorf("%w: bad sol quote response (status %d)", ErrNoQuote, resp.StatusCode)
	}

	c.mu.Lock()
	c.solUSD = body.Solana.USD
	c.solAt = time.Now()
	c.mu.Unlock()

	return body.Solana.USD, nil
}

// CachedSolUSD returns the cached SOL-USD rate without any I/O.
func (c *Client) CachedSolUSD() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.solUSD, c.solUSD > 0
}
