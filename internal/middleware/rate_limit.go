// internal/middleware/rate_limit.go
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/javajoker/coop-registry/internal/i18n"
	"github.com/javajoker/coop-registry/internal/utils"
)

const visitorTTL = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	visitors map[string]*visitor
	mtx      sync.Mutex
	rate     rate.Limit
	burst    int
	stop     chan struct{}
	stopOnce sync.Once
}

func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     r,
		burst:    b,
		stop:     make(chan struct{}),
	}

	go rl.cleanupVisitors()

	return rl
}

func (rl *RateLimiter) cleanupVisitors() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mtx.Lock()
			for ip, v := range rl.visitors {
				if time.Since(v.lastSeen) > visitorTTL {
					delete(rl.visitors, ip)
				}
			}
			rl.mtx.Unlock()
		}
	}
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) getVisitor(ip string) *rate.Limiter {
	rl.mtx.Lock()
	defer rl.mtx.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.rate, rl.burst)
		rl.visitors[ip] = &visitor{limiter, time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	retryAfter := "1"
	if rl.rate > 0 {
		retryAfter = strconv.Itoa(int(time.Duration(float64(time.Second)/float64(rl.rate)).Seconds()) + 1)
	}

	return func(c *gin.Context) {
		limiter := rl.getVisitor(c.ClientIP())

		if !limiter.Allow() {
			lang := utils.GetLangFromContext(c)
			c.Header("Retry-After", retryAfter)
			utils.ErrorResponse(c, http.StatusTooManyRequests, "RATE_LIMITED", i18n.T(lang, i18n.KeyRateLimited), nil)
			c.Abort()
			return
		}

		c.Next()
	}
}

// RateLimits holds the limiters used by the router. A disabled set passes every request.
type RateLimits struct {
	enabled    bool
	General    *RateLimiter
	Auth       *RateLimiter
	Submission *RateLimiter
	Upload     *RateLimiter
}

func NewRateLimits(enabled bool) *RateLimits {
	if !enabled {
		return &RateLimits{}
	}
	return &RateLimits{
		enabled:    true,
		General:    NewRateLimiter(rate.Every(100*time.Millisecond), 20), // 10 requests per second
		Auth:       NewRateLimiter(rate.Every(12*time.Second), 5),        // 5 auth requests per minute
		Submission: NewRateLimiter(rate.Every(time.Minute), 5),
		Upload:     NewRateLimiter(rate.Every(6*time.Second), 10), // 10 uploads per minute
	}
}

func (r *RateLimits) handler(rl *RateLimiter) gin.HandlerFunc {
	if !r.enabled || rl == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return rl.Middleware()
}

func (r *RateLimits) GeneralRateLimit() gin.HandlerFunc    { return r.handler(r.General) }
func (r *RateLimits) AuthRateLimit() gin.HandlerFunc       { return r.handler(r.Auth) }
func (r *RateLimits) SubmissionRateLimit() gin.HandlerFunc { return r.handler(r.Submission) }
func (r *RateLimits) UploadRateLimit() gin.HandlerFunc     { return r.handler(r.Upload) }

func (r *RateLimits) Stop() {
	for _, rl := range []*RateLimiter{r.General, r.Auth, r.Submission, r.Upload} {
		if rl != nil {
			rl.Stop()
		}
	}
}
