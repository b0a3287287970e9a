package chain

// client.go — HTTP client for a Dexscreener-style pair-price API, with
// rate limiting and retries. Price lookups are the hot path of the
// monitoring cycle, so the limiter stays well under the documented API
// ceiling (300 req/min for the token endpoints).

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultPriceBase = "https://api.dexscreener.com"

	// 300/min documented → run at 60%.
	priceRatePerSec = 3

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// PriceClient fetches DEX pair prices for token addresses.
type PriceClient struct {
	http    *http.Client
	base    string
	chainID string // e.g. "bsc", "ethereum" — filters pairs to one chain
	limiter *rate.Limiter
}

// NewPriceClient creates a price client for the given chain. An empty base
// URL selects the production API.
func NewPriceClient(base, chainID string) *PriceClient {
	if base == "" {
		base = defaultPriceBase
	}
	return &PriceClient{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    base,
		chainID: chainID,
		limiter: rate.NewLimiter(priceRatePerSec, 5),
	}
}

type pairResponse struct {
	Pairs []struct {
		ChainID      string `json:"chainId"`
		PriceUSD     string `json:"priceUsd"`
		LiquidityUSD struct {
			USD float64 `json:"usd"`
		} `json:"liquidity"`
	} `json:"pairs"`
}

// TokenPrice returns the USD price of the most liquid pair for the token on
// this client's chain. A token with no listed pair is an error.
func (c *PriceClient) TokenPrice(ctx context.Context, token string) (float64, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", c.base, token)

	var out pairResponse
	if err := c.get(ctx, url, &out); err != nil {
		return 0, fmt.Errorf("chain.TokenPrice: %w", err)
	}

	best := 0.0
	bestLiquidity := -1.0
	for _, p := range out.Pairs {
		if c.chainID != "" && p.ChainID != c.chainID {
			continue
		}
		price, err := strconv.ParseFloat(p.PriceUSD, 64)
		if err != nil || price <= 0 {
			continue
		}
		if p.LiquidityUSD.USD > bestLiquidity {
			best = price
			bestLiquidity = p.LiquidityUSD.USD
		}
	}
	if best <= 0 {
		return 0, fmt.Errorf("chain.TokenPrice: no priced pair for %s on %s", token, c.chainID)
	}
	return best, nil
}

// get performs a rate-limited GET with retries on 5xx and 429.
func (c *PriceClient) get(ctx context.Context, url string, out any) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = readErr
			case resp.StatusCode == http.StatusOK:
				return json.Unmarshal(body, out)
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				lastErr = fmt.Errorf("status %d", resp.StatusCode)
			default:
				return fmt.Errorf("status %d: %s", resp.StatusCode, body)
			}
		}

		wait := baseRetryWait * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}
