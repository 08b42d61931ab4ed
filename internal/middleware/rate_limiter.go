package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"jcm-p2p-backend/pkg/utils"
)

const (
	cleanupEvery = time.Minute
	idleAfter    = 3 * time.Minute
)

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	ips map[string]*visitor
	mu  sync.Mutex
	r   rate.Limit
	b   int
	now func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter allows r requests per second with bursts of b. Idle IPs are
// forgotten by a background sweep that stops with ctx.
func NewIPRateLimiter(ctx context.Context, r rate.Limit, b int) *IPRateLimiter {
	i := &IPRateLimiter{
		ips: make(map[string]*visitor),
		r:   r,
		b:   b,
		now: time.Now,
	}
	go i.cleanupVisitors(ctx)
	return i
}

// GetLimiter returns the bucket for ip, creating it on first sight.
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	v, exists := i.ips[ip]
	if !exists {
		limiter := rate.NewLimiter(i.r, i.b)
		i.ips[ip] = &visitor{limiter, i.now()}
		return limiter
	}

	v.lastSeen = i.now()
	return v.limiter
}

func (i *IPRateLimiter) cleanupVisitors(ctx context.Context) {
	ticker := time.NewTicker(cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.sweep()
		}
	}
}

func (i *IPRateLimiter) sweep() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for ip, v := range i.ips {
		if i.now().Sub(v.lastSeen) > idleAfter {
			delete(i.ips, ip)
		}
	}
}

func (i *IPRateLimiter) size() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.ips)
}

func RateLimitMiddleware(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.GetLimiter(c.ClientIP()).Allow() {
			utils.AbortResponse(c, http.StatusTooManyRequests, "Too many requests, slow down", nil)
			return
		}
		c.Next()
	}
}
