// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 限流指标
	rateLimitDecisions *prometheus.CounterVec

	// 广播指标
	broadcastJobsTotal prometheus.Counter
	broadcastSends     *prometheus.CounterVec

	// 记忆管道指标
	contextDuration *prometheus.HistogramVec
	turnDuration    prometheus.Histogram
	compactions     *prometheus.CounterVec
	extractions     *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。
// 传入独立的 Registerer 以便测试构造隔离实例（避免 promauto 全局注册冲突）。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"store", "tier"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses (all tiers missed)",
		},
		[]string{"store"},
	)

	// 限流指标
	c.rateLimitDecisions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Total number of rate limit admission decisions",
		},
		[]string{"result"}, // allowed, rejected
	)

	// 广播指标
	c.broadcastJobsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_jobs_total",
			Help:      "Total number of broadcast jobs enqueued",
		},
	)

	c.broadcastSends = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_sends_total",
			Help:      "Total number of broadcast sends",
		},
		[]string{"result"}, // succeeded, failed
	)

	// 记忆管道指标
	c.contextDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_context_duration_seconds",
			Help:      "Memory context assembly duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"bot_type"},
	)

	c.turnDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_record_turn_duration_seconds",
			Help:      "Background turn-recording duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	c.compactions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_compactions_total",
			Help:      "Total number of conversation compactions",
		},
		[]string{"result"}, // ok, fallback
	)

	c.extractions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_extractions_total",
			Help:      "Total number of tenant fact extraction attempts",
		},
		[]string{"result"}, // fact, none
	)

	return c
}

// =============================================================================
// 🎯 记录方法
// =============================================================================
// 所有方法对 nil Collector 安全，组件可以不注入指标收集器。

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(store, tier string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(store, tier).Inc()
}

// RecordCacheMiss 记录缓存未命中（所有层都未命中）
func (c *Collector) RecordCacheMiss(store string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(store).Inc()
}

// RecordRateLimit 记录限流判定
func (c *Collector) RecordRateLimit(allowed bool) {
	if c == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	c.rateLimitDecisions.WithLabelValues(result).Inc()
}

// RecordBroadcastJob 记录广播任务入队
func (c *Collector) RecordBroadcastJob() {
	if c == nil {
		return
	}
	c.broadcastJobsTotal.Inc()
}

// RecordBroadcastSend 记录单条广播发送结果
func (c *Collector) RecordBroadcastSend(succeeded bool) {
	if c == nil {
		return
	}
	result := "succeeded"
	if !succeeded {
		result = "failed"
	}
	c.broadcastSends.WithLabelValues(result).Inc()
}

// RecordContextAssembly 记录上下文组装耗时
func (c *Collector) RecordContextAssembly(botType string, duration time.Duration) {
	if c == nil {
		return
	}
	c.contextDuration.WithLabelValues(botType).Observe(duration.Seconds())
}

// RecordTurn 记录后台回合处理耗时
func (c *Collector) RecordTurn(duration time.Duration) {
	if c == nil {
		return
	}
	c.turnDuration.Observe(duration.Seconds())
}

// RecordCompaction 记录对话压缩结果
func (c *Collector) RecordCompaction(fallback bool) {
	if c == nil {
		return
	}
	result := "ok"
	if fallback {
		result = "fallback"
	}
	c.compactions.WithLabelValues(result).Inc()
}

// RecordExtraction 记录租户事实提取结果
func (c *Collector) RecordExtraction(found bool) {
	if c == nil {
		return
	}
	result := "none"
	if found {
		result = "fact"
	}
	c.extractions.WithLabelValues(result).Inc()
}
