package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (*Info, error) { return nil, errors.New("down") }
func (failingLimiter) Close() error                                { return nil }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddleware_LimitsPerClient(t *testing.T) {
	tb := NewTokenBucket(TokenBucketConfig{Capacity: 1, RefillRate: time.Hour})
	defer tb.Close()
	h := Middleware(tb, MiddlewareConfig{Logger: zaptest.NewLogger(t)})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.RemoteAddr = "10.0.0.1:5000"

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "1", w.Header().Get(HeaderLimit))
	assert.Equal(t, "0", w.Header().Get(HeaderRemaining))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRetryAfter))

	other := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	other.RemoteAddr = "10.0.0.2:5000"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, other)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestMiddleware_CustomRejection(t *testing.T) {
	tb := NewTokenBucket(TokenBucketConfig{Capacity: 1, RefillRate: time.Hour})
	defer tb.Close()

	var limited *Info
	h := Middleware(tb, MiddlewareConfig{
		KeyFunc: func(r *http.Request) string { return "everyone" },
		OnLimited: func(w http.ResponseWriter, r *http.Request, info *Info) {
			limited = info
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})(okHandler())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NotNil(t, limited)
	assert.False(t, limited.Allowed)
}

func TestMiddleware_FailsOpen(t *testing.T) {
	h := Middleware(failingLimiter{}, MiddlewareConfig{})(okHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get(HeaderLimit))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.10:1234"
	assert.Equal(t, "192.168.1.10", ClientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientIP(req))

	req.Header.Del("X-Forwarded-For")
	req.RemoteAddr = "unix"
	assert.Equal(t, "unix", ClientIP(req))
}
