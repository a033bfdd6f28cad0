// Package ratelimit provides per-identity admission control for inbound
// messages: one lazily created token bucket per sender.
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/94cram/botcore/internal/metrics"
)

// Config tunes the per-identity buckets.
type Config struct {
	// Capacity 桶容量，即单个身份的突发上限
	Capacity int `yaml:"capacity" json:"capacity"`

	// Refill 每秒补充的令牌数
	Refill float64 `yaml:"refill" json:"refill"`

	// SweepIdle 空闲多久后回收桶
	SweepIdle time.Duration `yaml:"sweep_idle" json:"sweep_idle"`
}

// DefaultConfig returns the production tuning: burst 30, 30 tokens/second.
func DefaultConfig() Config {
	return Config{
		Capacity:  30,
		Refill:    30,
		SweepIdle: 3 * time.Minute,
	}
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter admits or rejects per identity. Buckets are created full on first
// use and retained until swept. Safe for concurrent use.
type Limiter struct {
	config Config

	mu      sync.Mutex
	buckets map[string]*bucket

	logger *zap.Logger
	mc     *metrics.Collector
}

// NewLimiter creates an admission controller.
func NewLimiter(config Config, logger *zap.Logger, mc *metrics.Collector) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Capacity <= 0 {
		config = DefaultConfig()
	}
	return &Limiter{
		config:  config,
		buckets: make(map[string]*bucket),
		logger:  logger.With(zap.String("component", "ratelimit")),
		mc:      mc,
	}
}

// Allow reports whether one request from identity is admitted right now.
// Non-blocking: a rejection is returned immediately, nothing is queued.
func (l *Limiter) Allow(identity string) bool {
	l.mu.Lock()
	b, ok := l.buckets[identity]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.config.Refill), l.config.Capacity)}
		l.buckets[identity] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	allowed := b.lim.Allow()
	l.mc.RecordRateLimit(allowed)
	if !allowed {
		l.logger.Debug("request rejected", zap.String("identity", identity))
	}
	return allowed
}

// Sweep drops buckets idle for longer than idleFor and reports how many were
// removed. Intended to run on a janitor schedule.
func (l *Limiter) Sweep(idleFor time.Duration) int {
	if idleFor <= 0 {
		idleFor = l.config.SweepIdle
	}
	cutoff := time.Now().Add(-idleFor)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for identity, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, identity)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Info("idle buckets swept", zap.Int("removed", removed))
	}
	return removed
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
