package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lendcore/application_layer/internal/errors"
	"github.com/lendcore/application_layer/pkg/logger"
)

// maxTrackedKeys bounds the limiter map; once crossed the map is rebuilt,
// resetting all buckets.
const maxTrackedKeys = 10000

// cleanupInterval is how often the background sweep runs.
const cleanupInterval = time.Minute

// RateLimiter applies a per-caller token bucket of requestsPerSecond with
// the given burst. Callers are keyed by resolved actor id, falling back to
// the remote address. It is a lifecycle service: Start launches the
// periodic cleanup sweep and Stop ends it.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	log      *logger.Logger
	stop     chan struct{}
}

// NewRateLimiter creates an in-process rate limiter.
func NewRateLimiter(requestsPerSecond, burst int, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.NewDefault("ratelimit")
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		log:      log,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// Handler returns the rate limiting middleware handler.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ActorID(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}

		if !rl.getLimiter(key).Allow() {
			rl.log.WithFields(map[string]interface{}{
				"key":    key,
				"path":   r.URL.Path,
				"method": r.Method,
			}).Warn("rate limit exceeded")
			writeServiceError(w, errors.RateLimited("rate limit exceeded"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup drops the accumulated limiters once the map grows past the bound.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.limiters) > maxTrackedKeys {
		rl.limiters = make(map[string]*rate.Limiter)
	}
}

// Name identifies the limiter to the lifecycle manager.
func (rl *RateLimiter) Name() string { return "rate-limiter" }

// Start launches the periodic cleanup sweep.
func (rl *RateLimiter) Start(context.Context) error {
	rl.stop = make(chan struct{})
	ticker := time.NewTicker(cleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-rl.stop:
				return
			}
		}
	}()
	return nil
}

// Stop ends the cleanup sweep. Safe to call when Start never ran.
func (rl *RateLimiter) Stop(context.Context) error {
	if rl.stop != nil {
		close(rl.stop)
		rl.stop = nil
	}
	return nil
}
