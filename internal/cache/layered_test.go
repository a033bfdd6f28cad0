package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Layered 测试
// =============================================================================

// faultyTier 所有操作都失败的缓存层，用于验证降级语义
type faultyTier struct{}

func (f *faultyTier) Name() string { return "faulty" }
func (f *faultyTier) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}
func (f *faultyTier) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}
func (f *faultyTier) Delete(context.Context, string) error {
	return errors.New("connection refused")
}
func (f *faultyTier) Clear(context.Context) error {
	return errors.New("connection refused")
}

// countingTier 包装 Memory 层并统计 Get 次数
type countingTier struct {
	*Memory
	mu   sync.Mutex
	gets int
}

func (c *countingTier) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.Memory.Get(ctx, key)
}

func (c *countingTier) getCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets
}

func TestLayered_BackfillOnHit(t *testing.T) {
	fast := NewMemory(10)
	slow := &countingTier{Memory: NewMemory(10)}
	ctx := context.Background()

	// 只在慢层预置值
	require.NoError(t, slow.Memory.Set(ctx, "k1", []byte("v1"), time.Hour))

	l := NewLayered("test", time.Hour, zap.NewNop(), nil, fast, slow)

	got, ok := l.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)
	assert.Equal(t, 1, slow.getCount())

	// 命中已回填到快层，再次读取不触达慢层
	got, ok = l.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)
	assert.Equal(t, 1, slow.getCount())
}

func TestLayered_SetFansOutToAllTiers(t *testing.T) {
	a := NewMemory(10)
	b := NewMemory(10)
	ctx := context.Background()

	l := NewLayered("test", time.Hour, zap.NewNop(), nil, a, b)
	l.Set(ctx, "k1", []byte("v1"))

	got, err := a.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	got, err = b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
}

func TestLayered_DeleteFansOutToAllTiers(t *testing.T) {
	a := NewMemory(10)
	b := NewMemory(10)
	ctx := context.Background()

	l := NewLayered("test", time.Hour, zap.NewNop(), nil, a, b)
	l.Set(ctx, "k1", []byte("v1"))
	l.Delete(ctx, "k1")

	_, ok := l.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestLayered_FaultyTierDegradesToMiss(t *testing.T) {
	healthy := NewMemory(10)
	ctx := context.Background()

	// 故障层在前，健康层在后：读取必须落到健康层
	l := NewLayered("test", time.Hour, zap.NewNop(), nil, &faultyTier{}, healthy)

	require.NoError(t, healthy.Set(ctx, "k1", []byte("v1"), time.Hour))

	got, ok := l.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)

	// 写入扇出遇到故障层不报错
	l.Set(ctx, "k2", []byte("v2"))
	got, err := healthy.Get(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestLayered_FullMiss(t *testing.T) {
	l := NewLayered("test", time.Hour, zap.NewNop(), nil, NewMemory(10), NewMemory(10))

	_, ok := l.Get(context.Background(), "absent")
	assert.False(t, ok)
}
