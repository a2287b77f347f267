package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func send(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestLimiter_BurstThenReject(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerMin: 60, BurstSize: 3, CleanupMinutes: 1})
	defer l.Stop()
	h := l.Handler(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, send(h, "192.168.1.100:1").Code, "request %d", i+1)
	}

	rr := send(h, "192.168.1.100:1")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)

	retry, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)

	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body["error"]["code"])
}

func TestLimiter_SeparateBucketsPerIP(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerMin: 60, BurstSize: 1})
	defer l.Stop()
	h := l.Handler(okHandler())

	assert.Equal(t, http.StatusOK, send(h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, "10.0.0.1:2").Code)
	assert.Equal(t, http.StatusOK, send(h, "10.0.0.2:1").Code)
}

func TestLimiter_RejectedRequestsDoNotConsumeTokens(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerMin: 60, BurstSize: 1})
	defer l.Stop()

	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	assert.Zero(t, l.reserve("a"))
	for i := 0; i < 5; i++ {
		assert.Equal(t, time.Second, l.reserve("a"))
	}

	now = now.Add(time.Second)
	assert.Zero(t, l.reserve("a"))
}

func TestLimiter_Sweep(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerMin: 60, BurstSize: 1, CleanupMinutes: 1})
	defer l.Stop()

	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	l.reserve("old")
	now = now.Add(2 * time.Minute)
	l.reserve("fresh")

	l.sweep()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.clients, "old")
	assert.Contains(t, l.clients, "fresh")
}

func TestLimiter_Concurrent(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerMin: 1, BurstSize: 10})
	defer l.Stop()
	h := l.Handler(okHandler())

	var mu sync.Mutex
	codes := map[int]int{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code := send(h, "172.16.0.1:1").Code
			mu.Lock()
			codes[code]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, codes[http.StatusOK])
	assert.Equal(t, 40, codes[http.StatusTooManyRequests])
}

func TestMiddleware_Disabled(t *testing.T) {
	h := Middleware(Config{Enabled: false, RequestsPerMin: 1, BurstSize: 1})(okHandler())
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, send(h, "10.0.0.1:1").Code)
	}
}

func TestStop_Idempotent(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerMin: 60, BurstSize: 1})
	l.Stop()
	l.Stop()
}
