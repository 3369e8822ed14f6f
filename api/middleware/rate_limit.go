package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"cardlink/internal/dto"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles per client address. Idle buckets are dropped after
// idleTTL.
type RateLimiter struct {
	mutex   sync.Mutex
	buckets map[string]*bucket
	every   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

func NewRateLimiter(every rate.Limit, burst int, idleTTL time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		every:   every,
		burst:   burst,
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

func (l *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if wait, ok := l.allow(clientKey(c)); !ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				return c.JSON(http.StatusTooManyRequests, dto.MessageResponse{
					Success: false,
					Message: "too many requests, please try again later",
				})
			}
			return next(c)
		}
	}
}

// allow spends one token for key. When none is left it reports how long
// until the next one.
func (l *RateLimiter) allow(key string) (time.Duration, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		l.evictIdle(now)
		b = &bucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	reservation := b.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return time.Minute, false
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return delay, false
	}
	return 0, true
}

func (l *RateLimiter) evictIdle(now time.Time) {
	if l.idleTTL <= 0 {
		return
	}
	cutoff := now.Add(-l.idleTTL)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// clientKey trusts forwarding headers only when the server was given an
// IPExtractor that knows which proxies to believe.
func clientKey(c echo.Context) string {
	if c.Echo().IPExtractor != nil {
		return c.RealIP()
	}
	return echo.ExtractIPDirect()(c.Request())
}
