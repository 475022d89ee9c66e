// Package kalshi is an authenticated, rate-limited, retrying client for the
// Kalshi trade API.
package kalshi

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. DefaultBaseURL.
	BaseURL string
	// KeyID is the Kalshi API key identifier.
	KeyID string
	Key   *rsa.PrivateKey
	// Timeout bounds each HTTP attempt. Defaults to 30s.
	Timeout time.Duration
	// Gate admits each attempt. Required.
	Gate  domain.RateGate
	Retry RetryPolicy
	// MaxConcurrent bounds fan-out fetches. Defaults to 5.
	MaxConcurrent int
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client is the REST client for the Kalshi exchange API. All mutable state
// (metrics) lives on the value, so independent clients can coexist.
type Client struct {
	baseURL       string
	pathPrefix    string
	signer        *Signer
	httpClient    *http.Client
	timeout       time.Duration
	gate          domain.RateGate
	retry         RetryPolicy
	maxConcurrent int
	metrics       *Metrics
	logger        *slog.Logger
}

// NewClient creates a new Kalshi REST client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("kalshi: parse base url: %w", err)
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("kalshi: rate gate is required")
	}
	if cfg.Key == nil {
		return nil, fmt.Errorf("kalshi: %w: RSA private key not configured", domain.ErrKeyLoad)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		pathPrefix:    strings.TrimRight(u.Path, "/"),
		signer:        NewSigner(cfg.KeyID, cfg.Key),
		httpClient:    cfg.HTTPClient,
		timeout:       cfg.Timeout,
		gate:          cfg.Gate,
		retry:         cfg.Retry,
		maxConcurrent: cfg.MaxConcurrent,
		metrics:       &Metrics{},
		logger:        cfg.Logger.With(slog.String("component", "kalshi")),
	}, nil
}

// Metrics returns the client's usage counters.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// LogMetrics writes the current usage counters at Info.
func (c *Client) LogMetrics(ctx context.Context) {
	c.logger.InfoContext(ctx, "kalshi api usage", slog.Any("metrics", c.metrics.Snapshot()))
}

// HealthCheck reports whether the API answers an authenticated request.
func (c *Client) HealthCheck(ctx context.Context) bool {
	params := url.Values{"limit": {"1"}}
	if _, err := c.get(ctx, "/events", params, nil); err != nil {
		c.logger.WarnContext(ctx, "health check failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// GetAccountLimits returns account-level quota info.
func (c *Client) GetAccountLimits(ctx context.Context) (AccountLimits, error) {
	var out AccountLimits
	if _, err := c.get(ctx, "/account/limits", nil, &out); err != nil {
		return nil, fmt.Errorf("kalshi: get account limits: %w", err)
	}
	return out, nil
}

// GetOrderbook returns the current orderbook for the given market ticker. A
// missing market yields an empty book.
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (Orderbook, error) {
	path := fmt.Sprintf("/markets/%s/orderbook", url.PathEscape(ticker))

	var resp struct {
		Orderbook Orderbook `json:"orderbook"`
	}
	if _, err := c.get(ctx, path, nil, &resp); err != nil {
		return Orderbook{}, fmt.Errorf("kalshi: get orderbook %s: %w", ticker, err)
	}
	resp.Orderbook.Ticker = ticker
	return resp.Orderbook, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// get performs a signed GET through the retry policy and decodes the body
// into out. It reports found=false, with out untouched, on 404.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) (bool, error) {
	res, attempts := c.retry.Do(ctx,
		func(ctx context.Context) Result {
			return c.attempt(ctx, http.MethodGet, path, params)
		},
		func(r Result, wait time.Duration) {
			c.logger.WarnContext(ctx, "retrying request",
				slog.String("path", path),
				slog.Int("status", r.StatusCode),
				slog.Duration("backoff", wait),
				slog.String("error", errString(r.Err)),
			)
		},
	)
	c.metrics.recordCall(attempts)

	if res.Outcome != OutcomeSuccess {
		return false, res.Err
	}
	if res.StatusCode == http.StatusNotFound {
		c.logger.DebugContext(ctx, "resource not found, treating as empty", slog.String("path", path))
		return false, nil
	}
	if out != nil && len(res.Body) > 0 {
		if err := json.Unmarshal(res.Body, out); err != nil {
			return false, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return true, nil
}

// attempt performs exactly one gated, signed HTTP request.
func (c *Client) attempt(ctx context.Context, method, path string, params url.Values) Result {
	if err := c.gate.Wait(ctx); err != nil {
		return Result{Outcome: OutcomeFatal, Err: fmt.Errorf("rate gate: %w", err)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(reqCtx, method, fullURL, nil)
	if err != nil {
		return Result{Outcome: OutcomeFatal, Err: fmt.Errorf("create request: %w", err)}
	}

	headers, err := c.signer.Sign(method, c.pathPrefix+path)
	if err != nil {
		return Result{Outcome: OutcomeFatal, Err: err}
	}
	headers.Apply(req)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		res := Result{Outcome: Classify(0, err), Err: fmt.Errorf("http request: %w", err)}
		if ctx.Err() != nil {
			res.Outcome = OutcomeFatal
		}
		c.metrics.recordAttempt(res, time.Since(start))
		return res
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	if err != nil {
		res := Result{Outcome: OutcomeRetryable, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
		c.metrics.recordAttempt(res, latency)
		return res
	}

	res := Result{
		Outcome:    Classify(resp.StatusCode, nil),
		StatusCode: resp.StatusCode,
		Body:       body,
	}
	if res.Outcome != OutcomeSuccess {
		res.Err = newAPIError(resp.StatusCode, body)
	}
	c.metrics.recordAttempt(res, latency)

	c.logger.DebugContext(ctx, "kalshi request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", latency),
	)
	return res
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
