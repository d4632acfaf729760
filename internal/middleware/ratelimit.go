// 包 middleware：入口中间件（限流、源站白名单）
package middleware

import (
	"net/http"
	"time"

	"cadastral-api/internal/logger"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiter：按访问来源 IP 的令牌桶限流，空闲 10 分钟的桶自动回收
// 约束：不排队，超限直接返回 429
type RateLimiter struct {
	qps     rate.Limit
	burst   int
	buckets *gocache.Cache
}

func NewRateLimiter(qps int) *RateLimiter {
	if qps <= 0 {
		qps = 50
	}
	return &RateLimiter{
		qps:     rate.Limit(qps),
		burst:   qps,
		buckets: gocache.New(10*time.Minute, time.Minute),
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	if v, ok := rl.buckets.Get(key); ok {
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(rl.qps, rl.burst)
	// 并发首次访问时以先写入者为准
	if err := rl.buckets.Add(key, l, gocache.DefaultExpiration); err != nil {
		if v, ok := rl.buckets.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return l
}

// Allow：key 当前是否有可用令牌
func (rl *RateLimiter) Allow(key string) bool {
	l := rl.limiter(key)
	rl.buckets.SetDefault(key, l)
	return l.Allow()
}

// Wrap：限流中间件；enabled 为 false 时原样返回 next
func Wrap(next http.Handler, enabled bool, qps int) http.Handler {
	if !enabled {
		return next
	}
	rl := NewRateLimiter(qps)
	logger.L().Info("rate_limit_enabled", "qps", qps)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := VisitorIP(r)
		if !rl.Allow(ip) {
			logger.L().Debug("rate_limited", "ip", ip, "path", r.URL.Path)
			w.Header().Set("retry-after", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
