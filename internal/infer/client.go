// Package infer wraps the opaque LLM inference aggregator spec.md §6
// treats as a single-call collaborator: Infer(prompt, purpose) -> text,
// with caching, retry/backoff, and per-purpose rate limits. Core state
// transitions never block on it and proceed with inference_unavailable
// logged when it errors (spec.md §7).
package infer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/samotage/claude-headspace-sub014/internal/apperr"
	"github.com/samotage/claude-headspace-sub014/internal/config"
	"github.com/samotage/claude-headspace-sub014/internal/logging"
)

// Purposes the State Machine asks the inference collaborator to derive.
const (
	PurposeInstruction       = "instruction"
	PurposeCompletionSummary = "completion_summary"
)

// Client is the single call surface every consumer depends on.
type Client interface {
	Infer(ctx context.Context, prompt, purpose string) (string, error)
}

// cacheEntry is one cache slot keyed on (prompt, purpose).
type cacheEntry struct {
	key   string
	value string
}

// HTTPClient calls the configured inference aggregator over HTTP,
// applying a per-purpose token-bucket rate limiter
// (golang.org/x/time/rate, a teacher dependency otherwise unused —
// this is the component that exercises it) and a small exponential
// backoff retry, plus an in-memory response cache.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	log        *logging.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	ratePer  float64
	burst    int

	cacheMu   sync.Mutex
	cacheCap  int
	cacheKeys []string
	cache     map[string]string
}

// NewHTTPClient builds a Client from InferenceConfig. If cfg.URL is
// empty, use NewUnavailable instead — core callers must not assume a
// live collaborator.
func NewHTTPClient(cfg config.InferenceConfig, log *logging.Logger) *HTTPClient {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cap := cfg.CacheSize
	if cap <= 0 {
		cap = 256
	}
	return &HTTPClient{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
		limiters:   make(map[string]*rate.Limiter),
		ratePer:    cfg.RatePerSecond,
		burst:      cfg.Burst,
		cacheCap:   cap,
		cache:      make(map[string]string),
	}
}

type inferRequest struct {
	Prompt  string `json:"prompt"`
	Purpose string `json:"purpose"`
}

type inferResponse struct {
	Text string `json:"text"`
}

// Infer calls the aggregator, retrying transient failures with backoff,
// subject to the purpose's rate limiter. Cached responses short-circuit
// both the limiter and the network call.
func (c *HTTPClient) Infer(ctx context.Context, prompt, purpose string) (string, error) {
	key := purpose + "\x00" + prompt
	if cached, ok := c.cacheGet(key); ok {
		return cached, nil
	}

	limiter := c.limiterFor(purpose)
	if err := limiter.Wait(ctx); err != nil {
		return "", apperr.InferenceUnavailable("rate limiter wait: %v", err)
	}

	const maxAttempts = 3
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		text, err := c.doRequest(ctx, prompt, purpose)
		if err == nil {
			c.cachePut(key, text)
			return text, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return "", apperr.InferenceUnavailable("context done: %v", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if c.log != nil {
		c.log.Warn("infer: exhausted retries", zap.Error(lastErr))
	}
	return "", apperr.InferenceUnavailable("inference call failed after retries: %v", lastErr)
}

func (c *HTTPClient) doRequest(ctx context.Context, prompt, purpose string) (string, error) {
	body, err := json.Marshal(inferRequest{Prompt: prompt, Purpose: purpose})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("inference request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("inference aggregator returned status %d", resp.StatusCode)
	}
	var out inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Text, nil
}

func (c *HTTPClient) limiterFor(purpose string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[purpose]
	if ok {
		return l
	}
	perSec := c.ratePer
	if perSec <= 0 {
		perSec = 2
	}
	burst := c.burst
	if burst <= 0 {
		burst = 4
	}
	l = rate.NewLimiter(rate.Limit(perSec), burst)
	c.limiters[purpose] = l
	return l
}

func (c *HTTPClient) cacheGet(key string) (string, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	v, ok := c.cache[key]
	return v, ok
}

func (c *HTTPClient) cachePut(key, value string) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if _, exists := c.cache[key]; !exists {
		if len(c.cacheKeys) >= c.cacheCap {
			oldest := c.cacheKeys[0]
			c.cacheKeys = c.cacheKeys[1:]
			delete(c.cache, oldest)
		}
		c.cacheKeys = append(c.cacheKeys, key)
	}
	c.cache[key] = value
}

// Unavailable always returns inference_unavailable — used when
// InferenceConfig.URL is unset so core logic still proceeds without
// derived summaries, per spec.md §6's "core must function without
// inference".
type Unavailable struct{}

func NewUnavailable() Unavailable { return Unavailable{} }

func (Unavailable) Infer(_ context.Context, _, _ string) (string, error) {
	return "", apperr.InferenceUnavailable("inference collaborator not configured")
}
