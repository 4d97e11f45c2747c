// Package ratelimit limits the request rate of each client, in memory or in Redis.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Rate limit response headers
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Limiter decides whether a request keyed by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (*Info, error)
	Close() error
}

// Info is the limit state of a key after a request
type Info struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Allowed   bool
}

// MiddlewareConfig configures Middleware
type MiddlewareConfig struct {
	// KeyFunc identifies the client; defaults to ClientIP
	KeyFunc func(r *http.Request) string
	// OnLimited writes the rejection; defaults to a plain 429
	OnLimited func(w http.ResponseWriter, r *http.Request, info *Info)
	Logger    *zap.Logger
}

// Middleware rejects requests over the limit of their client. Limiter
// failures let the request through.
func Middleware(limiter Limiter, config MiddlewareConfig) func(http.Handler) http.Handler {
	keyFunc := config.KeyFunc
	if keyFunc == nil {
		keyFunc = ClientIP
	}
	onLimited := config.OnLimited
	if onLimited == nil {
		onLimited = func(w http.ResponseWriter, r *http.Request, info *Info) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			info, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limit check failed", zap.String("key", key), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set(HeaderLimit, strconv.Itoa(info.Limit))
			h.Set(HeaderRemaining, strconv.Itoa(info.Remaining))
			h.Set(HeaderReset, strconv.FormatInt(info.ResetAt.Unix(), 10))

			if !info.Allowed {
				retry := int(time.Until(info.ResetAt).Seconds())
				if retry < 1 {
					retry = 1
				}
				h.Set(HeaderRetryAfter, strconv.Itoa(retry))
				logger.Debug("rate limited", zap.String("key", key), zap.Int("limit", info.Limit))
				onLimited(w, r, info)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For address, else the host of RemoteAddr
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
