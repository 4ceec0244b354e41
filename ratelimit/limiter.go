// Package ratelimit gates outbound calls to external services with per-service
// token buckets. Every extractor or storage call goes through Wait so a burst of
// channel workers cannot hammer the platform.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/channel-harvest/telemetry"
)

// Default bucket applied when a service has no explicit configuration.
const (
	DefaultRate  = 2.0
	DefaultBurst = 5
)

// ServiceConfig holds one bucket's parameters.
type ServiceConfig struct {
	Rate  float64 // tokens per second
	Burst int     // bucket capacity
}

// Status is a read-only snapshot of one service's bucket.
type Status struct {
	Rate        float64
	Burst       int
	Tokens      float64
	Utilization float64 // percent of capacity currently consumed
}

// Limiter maps service names to token buckets. Unknown services fall back to
// the package defaults on first use. Safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	configs  map[string]ServiceConfig
	limiters map[string]*rate.Limiter
}

// New validates the provided per-service configuration and builds a Limiter.
// Validation is fail-fast: a non-positive rate or a burst below 1 is a
// configuration error.
func New(configs map[string]ServiceConfig) (*Limiter, error) {
	for svc, c := range configs {
		if c.Rate <= 0 {
			return nil, fmt.Errorf("ratelimit: service %q: rate must be > 0, got %v", svc, c.Rate)
		}
		if c.Burst < 1 {
			return nil, fmt.Errorf("ratelimit: service %q: burst must be >= 1, got %d", svc, c.Burst)
		}
	}
	l := &Limiter{
		configs:  make(map[string]ServiceConfig, len(configs)),
		limiters: make(map[string]*rate.Limiter, len(configs)),
	}
	for svc, c := range configs {
		l.configs[svc] = c
	}
	return l, nil
}

// bucket returns the limiter for a service, creating a default-configured one
// on first sight.
func (l *Limiter) bucket(service string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[service]; ok {
		return lim
	}
	cfg, ok := l.configs[service]
	if !ok {
		cfg = ServiceConfig{Rate: DefaultRate, Burst: DefaultBurst}
		l.configs[service] = cfg
	}
	lim := rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst)
	l.limiters[service] = lim
	return lim
}

// Acquire attempts to take n tokens without blocking.
func (l *Limiter) Acquire(service string, n int) bool {
	ok := l.bucket(service).AllowN(time.Now(), n)
	if !ok {
		telemetry.RateLimitRejections.WithLabelValues(service).Inc()
	}
	return ok
}

// Wait blocks until n tokens are available or the timeout elapses. It returns
// true when the tokens were acquired. Context cancellation and timeout both
// return false; the caller decides whether that is retryable.
func (l *Limiter) Wait(ctx context.Context, service string, n int, timeout time.Duration) bool {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := l.bucket(service).WaitN(wctx, n); err != nil {
		telemetry.RateLimitWaitsTimedOut.WithLabelValues(service).Inc()
		return false
	}
	return true
}

// StatusAll reports per-service bucket state for diagnostics.
func (l *Limiter) StatusAll() map[string]Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Status, len(l.limiters))
	for svc, lim := range l.limiters {
		cfg := l.configs[svc]
		tokens := lim.TokensAt(time.Now())
		if tokens < 0 {
			tokens = 0
		}
		util := 0.0
		if cfg.Burst > 0 {
			util = (float64(cfg.Burst) - tokens) / float64(cfg.Burst) * 100
		}
		out[svc] = Status{Rate: cfg.Rate, Burst: cfg.Burst, Tokens: tokens, Utilization: util}
	}
	return out
}
