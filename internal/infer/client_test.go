package infer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samotage/claude-headspace-sub014/internal/apperr"
	"github.com/samotage/claude-headspace-sub014/internal/config"
)

func TestUnavailableAlwaysReturnsInferenceUnavailable(t *testing.T) {
	c := NewUnavailable()
	_, err := c.Infer(context.Background(), "prompt", PurposeInstruction)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeInferenceUnavail, appErr.Code)
}

func newTestHTTPClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(config.InferenceConfig{
		URL:           srv.URL,
		TimeoutSec:    2,
		RatePerSecond: 100,
		Burst:         100,
		CacheSize:     16,
	}, nil)
}

func TestHTTPClientInferCachesIdenticalRequests(t *testing.T) {
	var calls atomic.Int32
	c := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(inferResponse{Text: "hello"})
	})

	first, err := c.Infer(context.Background(), "prompt", PurposeInstruction)
	require.NoError(t, err)
	require.Equal(t, "hello", first)

	second, err := c.Infer(context.Background(), "prompt", PurposeInstruction)
	require.NoError(t, err)
	require.Equal(t, "hello", second)

	require.EqualValues(t, 1, calls.Load(), "second call with the same key must hit the cache, not the network")
}

func TestHTTPClientInferRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(inferResponse{Text: "third time lucky"})
	})

	text, err := c.Infer(context.Background(), "prompt", PurposeCompletionSummary)
	require.NoError(t, err)
	require.Equal(t, "third time lucky", text)
	require.EqualValues(t, 3, calls.Load())
}

func TestHTTPClientInferExhaustsRetriesReturnsInferenceUnavailable(t *testing.T) {
	c := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Infer(context.Background(), "prompt", PurposeInstruction)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeInferenceUnavail, appErr.Code)
}

func TestHTTPClientInferRespectsContextCancellation(t *testing.T) {
	c := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Infer(ctx, "slow-prompt", PurposeInstruction)
	require.Error(t, err)
}

func TestCachePutEvictsOldestPastCapacity(t *testing.T) {
	c := NewHTTPClient(config.InferenceConfig{URL: "http://unused", CacheSize: 2}, nil)
	c.cachePut("a", "1")
	c.cachePut("b", "2")
	c.cachePut("c", "3") // evicts "a"

	_, ok := c.cacheGet("a")
	require.False(t, ok)
	v, ok := c.cacheGet("c")
	require.True(t, ok)
	require.Equal(t, "3", v)
}
