package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/94cram/botcore/internal/metrics"
)

// =============================================================================
// 🧅 分层缓存
// =============================================================================

// Tier 单层缓存接口。值以序列化字节存储，每层持有自己的副本，
// 层与层之间不共享引用。
type Tier interface {
	Name() string
	// Get 在未命中时返回 ErrCacheMiss
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Layered 按顺序组合多个缓存层。读取逐层探测并回填，
// 写入与失效并发扇出到所有层。所有层均为非权威层，
// 单层失败只记录日志，不影响整体调用。
type Layered struct {
	store  string
	tiers  []Tier
	ttl    time.Duration
	logger *zap.Logger
	mc     *metrics.Collector
}

// NewLayered 创建分层缓存。store 用于日志与指标标签，
// ttl 同时作为写入与回填的过期时间。
func NewLayered(store string, ttl time.Duration, logger *zap.Logger, mc *metrics.Collector, tiers ...Tier) *Layered {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Layered{
		store:  store,
		tiers:  tiers,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "cache"), zap.String("store", store)),
		mc:     mc,
	}
}

// TTL 返回本缓存的过期时间
func (l *Layered) TTL() time.Duration { return l.ttl }

// Get 逐层探测缓存。在第 i 层命中后，先将该值回填到 0..i-1 层
// 再返回。任何一层的读取错误都按未命中处理。
func (l *Layered) Get(ctx context.Context, key string) ([]byte, bool) {
	for i, tier := range l.tiers {
		value, err := tier.Get(ctx, key)
		if err != nil {
			if !IsCacheMiss(err) {
				l.logger.Warn("tier read failed, treating as miss",
					zap.String("tier", tier.Name()),
					zap.String("key", key),
					zap.Error(err),
				)
			}
			continue
		}

		l.mc.RecordCacheHit(l.store, tier.Name())
		l.backfill(ctx, key, value, i)
		return value, true
	}

	l.mc.RecordCacheMiss(l.store)
	return nil, false
}

// backfill 将慢层命中的值写入更快的 0..hit-1 层
func (l *Layered) backfill(ctx context.Context, key string, value []byte, hit int) {
	for i := 0; i < hit; i++ {
		if err := l.tiers[i].Set(ctx, key, value, l.ttl); err != nil {
			l.logger.Warn("tier backfill failed",
				zap.String("tier", l.tiers[i].Name()),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}

// Set 并发写入所有层并等待完成。单层失败记录日志后吞掉。
func (l *Layered) Set(ctx context.Context, key string, value []byte) {
	l.fanOut(ctx, "set", func(ctx context.Context, tier Tier) error {
		return tier.Set(ctx, key, value, l.ttl)
	})
}

// Delete 并发失效所有层中的该键
func (l *Layered) Delete(ctx context.Context, key string) {
	l.fanOut(ctx, "delete", func(ctx context.Context, tier Tier) error {
		return tier.Delete(ctx, key)
	})
}

// Clear 并发清空所有层
func (l *Layered) Clear(ctx context.Context) {
	l.fanOut(ctx, "clear", func(ctx context.Context, tier Tier) error {
		return tier.Clear(ctx)
	})
}

func (l *Layered) fanOut(ctx context.Context, op string, fn func(context.Context, Tier) error) {
	g, ctx := errgroup.WithContext(ctx)
	for _, tier := range l.tiers {
		g.Go(func() error {
			if err := fn(ctx, tier); err != nil {
				l.logger.Warn("tier write failed",
					zap.String("op", op),
					zap.String("tier", tier.Name()),
					zap.Error(err),
				)
			}
			// 缓存层都不是权威层，失败不向上传播
			return nil
		})
	}
	_ = g.Wait()
}
