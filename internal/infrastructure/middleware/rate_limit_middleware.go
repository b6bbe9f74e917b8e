package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"camstream/pkg/config"
	"camstream/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// rateLimiterStore stores per-key (for example, per IP) rate limiters.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rate      rate.Limit
	burstSize int
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*rate.Limiter),
		rate:      r,
		burstSize: burst,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, exists := s.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(s.rate, s.burstSize)
		s.limiters[key] = limiter
	}
	return limiter
}

// clientIP extracts the caller's address, preferring the first hop listed in
// X-Forwarded-For.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewConnectionRateLimitMiddleware limits how many websocket upgrades a single
// IP may attempt per minute.
func NewConnectionRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	perMinute := cfg.RateLimiting.ConnectionsPerMinute
	store := newRateLimiterStore(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)

	return func(c *gin.Context) {
		limiter := store.getLimiter(clientIP(c.Request))
		if !limiter.Allow() {
			abortWithAppError(c, errors.NewRateLimitError().WithContext("retry_after_seconds", 60/perMinute+1))
			return
		}
		c.Next()
	}
}
