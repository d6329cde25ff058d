package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/vango-go/vai-reception/pkg/core"
)

type RateLimitConfig struct {
	// RequestLimit per WindowSize per client; <= 0 disables the limiter.
	RequestLimit int
	WindowSize   time.Duration
	// TrustProxyHeaders keys clients by X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool
}

// RateLimit caps requests per client IP with a sliding window.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RequestLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = time.Minute
	}
	keyFunc := httprate.KeyByIP
	if cfg.TrustProxyHeaders {
		keyFunc = httprate.KeyByRealIP
	}
	retryAfter := strconv.Itoa(max(1, int(cfg.WindowSize.Seconds())))
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			reqID, _ := RequestIDFrom(r.Context())
			w.Header().Set("Retry-After", retryAfter)
			WriteJSONError(w, http.StatusTooManyRequests, reqID, &core.Error{
				Type:    core.ErrAPI,
				Code:    "rate_limited",
				Message: "rate limit exceeded",
			})
		}),
	)
}
