// Package lightrag talks to a LightRAG server over its REST API. It serves as
// the extraction service for ingestion and as a graph store for seeding,
// merging and traversal.
package lightrag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	"golang.org/x/time/rate"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter

	maxNodes    int
	concurrency int
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithAPIKey sends the key in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithRateLimit caps requests per second across all callers of the client.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithMaxNodes bounds the subgraph size requested per traversal.
func WithMaxNodes(n int) Option {
	return func(c *Client) {
		c.maxNodes = n
	}
}

// WithLookupConcurrency bounds parallel per-entity lookups in FindEntities.
func WithLookupConcurrency(n int) Option {
	return func(c *Client) {
		c.concurrency = n
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 2 * time.Minute},
		limiter:     rate.NewLimiter(rate.Limit(10), 5),
		maxNodes:    1000,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiError carries the status and body of a non-2xx response.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("lightrag returned %d: %s", e.Status, e.Body)
}

// classify maps a failed call onto the store error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		body := strings.ToLower(apiErr.Body)
		switch {
		case apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500:
			return store.Transient(op, err)
		case apiErr.Status == http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, store.ErrNotFound)
		case apiErr.Status == http.StatusConflict, strings.Contains(body, "already exists"):
			return fmt.Errorf("%s: %w", op, store.ErrConflict)
		case strings.Contains(body, "not found"), strings.Contains(body, "does not exist"):
			return fmt.Errorf("%s: %w", op, store.ErrNotFound)
		case apiErr.Status == http.StatusBadRequest, apiErr.Status == http.StatusUnprocessableEntity:
			return store.Validation("%s: %s", op, apiErr.Body)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return store.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// do sends one request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	logger.Debug("[Store] LightRAG call", "method", method, "path", path, "status", resp.StatusCode, "took", time.Since(start))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
