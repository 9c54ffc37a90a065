// Package polymarket fetches active markets from the Polymarket Gamma API and
// flattens them into per-market snapshots.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/models"
)

const eventURLBase = "https://polymarket.com/event/"

// Client provides access to Polymarket API
type Client struct {
	gammaAPIURL    string
	httpClient     *http.Client
	categories     map[string]bool
	maxRetries     int
	retryDelayBase time.Duration
}

// ClientConfig tunes retries and the category filter.
type ClientConfig struct {
	MaxRetries     int
	RetryDelayBase time.Duration
	Categories     []string
}

// gammaEvent represents an event from Polymarket Gamma API
type gammaEvent struct {
	ID       string            `json:"id"`
	Slug     string            `json:"slug"`
	Title    string            `json:"title"`
	Category string            `json:"category"`
	Active   bool              `json:"active"`
	Closed   bool              `json:"closed"`
	Markets  []json.RawMessage `json:"markets"`
}

// gammaMarket represents a market from Polymarket API
type gammaMarket struct {
	ID            string  `json:"id"`
	Question      string  `json:"question"`
	Slug          string  `json:"slug"`
	Outcomes      string  `json:"outcomes"`      // JSON string: "[\"Yes\", \"No\"]"
	OutcomePrices string  `json:"outcomePrices"` // JSON string: "[\"0.75\", \"0.25\"]"
	VolumeNum     float64 `json:"volumeNum"`
	LiquidityNum  float64 `json:"liquidityNum"`
	EndDate       string  `json:"endDate"`
	Active        bool    `json:"active"`
	Closed        bool    `json:"closed"`
}

// NewClient creates a new Polymarket client
func NewClient(gammaAPIURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	categories := make(map[string]bool, len(cfg.Categories))
	for _, c := range cfg.Categories {
		categories[strings.ToLower(c)] = true
	}
	return &Client{
		gammaAPIURL:    strings.TrimRight(gammaAPIURL, "/"),
		httpClient:     &http.Client{Timeout: timeout},
		categories:     categories,
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}
}

// ListActiveMarkets returns up to maxCount open markets ordered by volume.
// Individual malformed events or markets are skipped, not fatal.
func (c *Client) ListActiveMarkets(ctx context.Context, maxCount int) ([]models.MarketSnapshot, error) {
	u, err := url.Parse(c.gammaAPIURL + "/events")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("limit", strconv.Itoa(maxCount))
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	defer resp.Body.Close()

	// Decode entries one by one so a single bad event cannot sink the batch.
	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}

	var markets []models.MarketSnapshot
	skipped := 0
	for _, item := range raw {
		var ev gammaEvent
		if err := json.Unmarshal(item, &ev); err != nil {
			skipped++
			continue
		}
		if ev.Closed || (len(c.categories) > 0 && !c.categories[strings.ToLower(ev.Category)]) {
			continue
		}
		for _, rm := range ev.Markets {
			snap, err := toSnapshot(ev, rm)
			if err != nil {
				skipped++
				logger.Debug("Skipping market in event %s: %v", ev.ID, err)
				continue
			}
			if snap != nil {
				markets = append(markets, *snap)
			}
		}
	}
	if skipped > 0 {
		logger.Debug("Skipped %d malformed entries from Gamma API", skipped)
	}

	sort.SliceStable(markets, func(i, j int) bool {
		return markets[i].Volume > markets[j].Volume
	})
	if len(markets) > maxCount {
		markets = markets[:maxCount]
	}
	return markets, nil
}

// toSnapshot returns nil without error for markets that are simply not open.
func toSnapshot(ev gammaEvent, raw json.RawMessage) (*models.MarketSnapshot, error) {
	var m gammaMarket
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode market: %w", err)
	}
	if m.Closed {
		return nil, nil
	}

	yes, no, err := parseMarketProbabilities(m)
	if err != nil {
		return nil, err
	}

	snap := &models.MarketSnapshot{
		ID:             ev.ID + ":" + m.ID,
		Question:       m.Question,
		YesProbability: yes * 100,
		NoProbability:  no * 100,
		Volume:         m.VolumeNum,
		Liquidity:      m.LiquidityNum,
		Category:       ev.Category,
	}
	if snap.Question == "" {
		snap.Question = ev.Title
	}
	if ev.Slug != "" {
		snap.URL = eventURLBase + ev.Slug
	}
	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			snap.EndDate = t
		}
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// parseMarketProbabilities extracts Yes/No probabilities from a market
func parseMarketProbabilities(market gammaMarket) (float64, float64, error) {
	var outcomes []string
	if err := json.Unmarshal([]byte(market.Outcomes), &outcomes); err != nil {
		return 0, 0, fmt.Errorf("failed to parse outcomes: %w", err)
	}

	var outcomePrices []string
	if err := json.Unmarshal([]byte(market.OutcomePrices), &outcomePrices); err != nil {
		return 0, 0, fmt.Errorf("failed to parse outcome prices: %w", err)
	}

	var yesProb, noProb float64
	var sawYes, sawNo bool
	for i, outcome := range outcomes {
		if i >= len(outcomePrices) {
			break
		}
		price, err := strconv.ParseFloat(outcomePrices[i], 64)
		if err != nil {
			return 0, 0, fmt.Errorf("bad price %q: %w", outcomePrices[i], err)
		}
		switch outcome {
		case "Yes":
			yesProb, sawYes = price, true
		case "No":
			noProb, sawNo = price, true
		}
	}
	if !sawYes || !sawNo {
		return 0, 0, fmt.Errorf("not a yes/no market: %v", outcomes)
	}

	return yesProb, noProb, nil
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelayBase * time.Duration(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
