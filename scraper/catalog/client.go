package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"tourgraph/config"
	"tourgraph/metrics"
	"tourgraph/models"
	"tourgraph/utils"
)

const (
	acceptHeader    = "application/json;version=2.0"
	quotaHeader     = "X-RateLimit-Remaining"
	maxErrorBodyLen = 200
)

// Options configures a Client. Zero values fall back to the defaults noted.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // 30s

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration // 1s

	// QuotaLowWater triggers QuotaPause before the next call once the
	// remaining-quota header drops below it. 0 disables the check.
	QuotaLowWater int
	QuotaPause    time.Duration

	// PacingEvery pauses PacingPause before every Nth request. 0 disables.
	PacingEvery int
	PacingPause time.Duration

	PageSize int // 50

	HTTPClient *http.Client
	// Sleep replaces the context-aware wait, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// OptionsFromConfig maps application config onto client options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:       cfg.CatalogBaseURL,
		APIKey:        cfg.CatalogAPIKey,
		Timeout:       cfg.CatalogTimeout,
		MaxRetries:    cfg.MaxRetries,
		BaseDelay:     cfg.RetryBaseDelay,
		QuotaLowWater: cfg.QuotaLowWater,
		QuotaPause:    cfg.QuotaPause,
		PacingEvery:   cfg.PacingEvery,
		PacingPause:   cfg.PacingPause,
		PageSize:      cfg.SearchPageSize,
	}
}

// Client talks to the external catalog API. It is safe for concurrent use;
// the request counter and quota state are shared across goroutines.
type Client struct {
	opts   Options
	http   *http.Client
	logger *utils.Logger
	retry  *utils.RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	requests   int
	quotaPause time.Duration
}

// New creates a ready-to-use catalog Client.
func New(opts Options, logger *utils.Logger) *Client {
	if logger == nil {
		logger = utils.NopLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = utils.SleepContext
	}

	return &Client{
		opts:   opts,
		http:   hc,
		logger: logger,
		sleep:  sleep,
		retry: &utils.RetryConfig{
			MaxAttempts: opts.MaxRetries + 1,
			BaseDelay:   opts.BaseDelay,
			Logger:      logger,
			Retryable:   models.IsTransient,
			DelayFor:    models.RetryAfterOf,
			Sleep:       sleep,
		},
	}
}

// Search returns the summaries for one partition under one sort strategy.
func (c *Client) Search(ctx context.Context, partitionID string, strategy SortStrategy) ([]models.ListingSummary, error) {
	body := searchRequest{
		Filtering:  searchFiltering{Destination: partitionID},
		Sorting:    searchSorting{Sort: strategy.Sort, Order: strategy.Order},
		Pagination: searchPagination{Start: 1, Count: c.opts.PageSize},
		Currency:   "USD",
	}

	var resp searchResponse
	if err := c.do(ctx, "search", http.MethodPost, "/products/search", body, &resp); err != nil {
		return nil, fmt.Errorf("catalog: search %s (%s): %w", partitionID, strategy.Name, err)
	}

	out := make([]models.ListingSummary, 0, len(resp.Products))
	for _, p := range resp.Products {
		if p.ProductCode == "" {
			continue
		}
		out = append(out, p.Summary())
	}
	return out, nil
}

// FetchDetail returns the full product record for code.
func (c *Client) FetchDetail(ctx context.Context, code string) (*ProductDetail, error) {
	var detail ProductDetail
	if err := c.do(ctx, "detail", http.MethodGet, "/products/"+url.PathEscape(code), nil, &detail); err != nil {
		return nil, fmt.Errorf("catalog: detail %s: %w", code, err)
	}
	if detail.ProductCode == "" {
		detail.ProductCode = code
	}
	return &detail, nil
}

// Partitions returns the whole destination hierarchy.
func (c *Client) Partitions(ctx context.Context) ([]Destination, error) {
	var resp destinationsResponse
	if err := c.do(ctx, "destinations", http.MethodGet, "/destinations", nil, &resp); err != nil {
		return nil, fmt.Errorf("catalog: destinations: %w", err)
	}
	return resp.Destinations, nil
}

// Requests returns how many HTTP requests have been issued.
func (c *Client) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &models.PermanentError{Op: endpoint, Reason: "encode request", Err: err}
		}
		payload = b
	}

	attempt := 0
	return c.retry.Do(ctx, "catalog "+endpoint, func() error {
		if attempt > 0 {
			metrics.CatalogRetries.WithLabelValues(endpoint).Inc()
		}
		attempt++
		return c.once(ctx, endpoint, method, path, payload, out)
	})
}

// throttle applies the quota pause and the pacing pause before a request.
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	c.requests++
	n := c.requests
	quota := c.quotaPause
	c.quotaPause = 0
	c.mu.Unlock()

	if quota > 0 {
		metrics.CatalogThrottlePauses.WithLabelValues("quota").Inc()
		c.logger.Debug("[catalog] quota low, pausing %v", quota)
		if err := c.sleep(ctx, quota); err != nil {
			return err
		}
	}
	if c.opts.PacingEvery > 0 && n%c.opts.PacingEvery == 0 && c.opts.PacingPause > 0 {
		metrics.CatalogThrottlePauses.WithLabelValues("pacing").Inc()
		if err := c.sleep(ctx, c.opts.PacingPause); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) observeQuota(h http.Header) {
	if c.opts.QuotaLowWater <= 0 {
		return
	}
	raw := h.Get(quotaHeader)
	if raw == "" {
		return
	}
	remaining, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || remaining >= c.opts.QuotaLowWater {
		return
	}
	c.mu.Lock()
	c.quotaPause = c.opts.QuotaPause
	c.mu.Unlock()
}

func (c *Client) once(ctx context.Context, endpoint, method, path string, payload []byte, out any) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, reader)
	if err != nil {
		return &models.PermanentError{Op: endpoint, Reason: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("exp-api-key", c.opts.APIKey)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", "en-US")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordCatalogRequest(endpoint, 0, time.Since(start))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &models.TransientError{Op: endpoint, Err: err}
	}
	defer resp.Body.Close()
	metrics.RecordCatalogRequest(endpoint, resp.StatusCode, time.Since(start))
	c.observeQuota(resp.Header)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return &models.TransientError{
			Op:         endpoint,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return &models.PermanentError{
			Op:         endpoint,
			StatusCode: resp.StatusCode,
			Reason:     strings.TrimSpace(string(snippet)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &models.PermanentError{Op: endpoint, StatusCode: resp.StatusCode, Reason: "malformed body", Err: err}
	}
	return nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Zero when absent or
// unparseable.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
