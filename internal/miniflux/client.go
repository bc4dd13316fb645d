// Package miniflux is a minimal client for the Miniflux REST API.
//
// Only the two metadata lookups needed to enrich webhook entries are
// implemented. Every call goes through a shared concurrency gate so a burst
// of entries cannot flood the upstream instance.
package miniflux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"fluxhook/internal/metrics"
	logx "fluxhook/pkg/logx"
)

// AuthHeader carries the API key.
const AuthHeader = "X-Auth-Token"

const (
	defaultConcurrency = 4
	defaultTimeout     = 30 * time.Second
	maxResponseBytes   = 8 << 20
)

type Config struct {
	BaseURL string
	APIKey  string
	// Concurrency caps simultaneous upstream calls (feeds and icons combined).
	Concurrency int
	Timeout     time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
	gate   *semaphore.Weighted
	log    logx.Logger
}

func NewClient(cfg Config, hc *http.Client, log logx.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("miniflux: base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("miniflux: base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:   base,
		apiKey: cfg.APIKey,
		http:   hc,
		gate:   semaphore.NewWeighted(int64(cfg.Concurrency)),
		log:    log,
	}, nil
}

// Feed fetches GET /v1/feeds/{id}.
func (c *Client) Feed(ctx context.Context, id int64) (*Feed, error) {
	var f Feed
	if err := c.get(ctx, "feed", id, fmt.Sprintf("v1/feeds/%d", id), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Icon fetches GET /v1/icons/{id}.
func (c *Client) Icon(ctx context.Context, id int64) (*Icon, error) {
	var ic Icon
	if err := c.get(ctx, "icon", id, fmt.Sprintf("v1/icons/%d", id), &ic); err != nil {
		return nil, err
	}
	return &ic, nil
}

func (c *Client) get(ctx context.Context, kind string, id int64, path string, out any) error {
	// No timeout on the gate itself; the caller's ctx bounds the wait.
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return &FetchError{Kind: kind, ID: id, Err: err}
	}
	defer c.gate.Release(1)

	start := time.Now()
	status, err := c.do(ctx, path, out)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RecordUpstream(kind, outcome, time.Since(start).Seconds())
	if err != nil {
		c.log.Debug("miniflux request failed", logx.String("kind", kind), logx.Int64("id", id), logx.Int("status", status), logx.Err(err))
		return &FetchError{Kind: kind, ID: id, Status: status, Err: err}
	}
	c.log.Trace("miniflux request done", logx.String("kind", kind), logx.Int64("id", id), logx.Duration("took", time.Since(start)))
	return nil
}

func (c *Client) do(ctx context.Context, path string, out any) (int, error) {
	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return 0, err
	}
	req.Header.Set(AuthHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, errors.New(http.StatusText(resp.StatusCode))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode body: %w", err)
	}
	return resp.StatusCode, nil
}
