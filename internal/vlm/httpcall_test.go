// File: internal/vlm/httpcall_test.go
package vlm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/droidpilot/droidpilot/internal/safety"
)

// testCaller points an httpCaller at a local test server. Construction goes
// through the struct because newHTTPCaller's endpoint vetting rejects
// loopback addresses, which is exactly where httptest listens.
func testCaller(t *testing.T, endpoint string, maxRetries int) *httpCaller {
	t.Helper()
	return &httpCaller{
		endpoint:   endpoint,
		apiKey:     "test-key",
		apiTimeout: 2 * time.Second,
		maxRetries: maxRetries,
		client:     safety.NewHardenedClient(nil),
		logger:     zaptest.NewLogger(t),
	}
}

type echoRequest struct {
	Value string `json:"value"`
}

type echoResponse struct {
	Value string `json:"value"`
}

func TestHTTPCallerPostSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"value": "pong"}`))
	}))
	defer server.Close()

	caller := testCaller(t, server.URL, 3)
	var out echoResponse
	require.NoError(t, caller.post(context.Background(), echoRequest{Value: "ping"}, &out))
	assert.Equal(t, "pong", out.Value)
}

func TestHTTPCallerPostClientErrorsArePermanent(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	caller := testCaller(t, server.URL, 3)
	var out echoResponse
	err := caller.post(context.Background(), echoRequest{}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), attempts.Load(), "a 4xx is never retried")
}

func TestHTTPCallerPostRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"value": "recovered"}`))
	}))
	defer server.Close()

	caller := testCaller(t, server.URL, 3)
	var out echoResponse
	require.NoError(t, caller.post(context.Background(), echoRequest{}, &out))
	assert.Equal(t, "recovered", out.Value)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestHTTPCallerPostRetryCeilingBoundsAttempts(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	caller := testCaller(t, server.URL, 1)
	var out echoResponse
	err := caller.post(context.Background(), echoRequest{}, &out)
	require.Error(t, err)
	assert.Equal(t, int32(2), attempts.Load(), "one initial attempt plus one retry")
}

func TestHTTPCallerPostRecoversFromRateLimit(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"value": "after-wait"}`))
	}))
	defer server.Close()

	caller := testCaller(t, server.URL, 3)
	var out echoResponse
	start := time.Now()
	require.NoError(t, caller.post(context.Background(), echoRequest{}, &out))
	assert.Equal(t, "after-wait", out.Value)
	assert.Equal(t, int32(2), attempts.Load())
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "the Retry-After hint is waited out")
}

func TestHTTPCallerPostRejectsMalformedResponse(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	caller := testCaller(t, server.URL, 3)
	var out echoResponse
	err := caller.post(context.Background(), echoRequest{}, &out)
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load(), "an undecodable body is not retried")
}
