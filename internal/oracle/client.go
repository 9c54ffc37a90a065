// Package oracle talks to the probability and risk assessment services. Both
// speak JSON over HTTP; responses are decoded strictly and validated against
// the judgment schema, so a malformed answer is an error, never a partial value.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/polyedge/internal/logger"
)

var (
	ErrBadResponse = errors.New("malformed oracle response")
	ErrStatus      = errors.New("unexpected oracle status")
)

const maxResponseBytes = 1 << 20

type Config struct {
	URL               string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
	BreakerFailures   uint32
	BreakerCooldown   time.Duration
}

// Client is the transport shared by both oracle services.
type Client struct {
	name       string
	url        string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	validate   *validator.Validate
}

func NewClient(name string, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Minute
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	failures := cfg.BreakerFailures
	st := gobreaker.Settings{
		Name:    name,
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Oracle %s circuit %s -> %s", name, from, to)
		},
	}

	return &Client{
		name:       name,
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		breaker:    gobreaker.NewCircuitBreaker(st),
		validate:   validator.New(),
	}
}

// call posts payload and decodes the answer into out.
func (c *Client) call(ctx context.Context, payload any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit: %w", c.name, err)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, payload, out)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	return decodeStrict(io.LimitReader(resp.Body, maxResponseBytes), out, c.validate)
}

// decodeStrict rejects unknown fields, trailing data and schema violations.
func decodeStrict(r io.Reader, out any, v *validator.Validate) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after judgment", ErrBadResponse)
	}
	if err := v.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}
