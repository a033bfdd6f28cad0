package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// 🧪 Memory 层测试
// =============================================================================

func TestMemory_SetAndGet(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()

	err := m.Set(ctx, "k1", []byte("v1"), time.Minute)
	require.NoError(t, err)

	got, err := m.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
}

func TestMemory_MissReturnsErrCacheMiss(t *testing.T) {
	m := NewMemory(10)

	_, err := m.Get(context.Background(), "absent")
	assert.True(t, IsCacheMiss(err))
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()

	// 注入可控时钟
	now := time.Now()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k1", []byte("v1"), time.Minute))

	// TTL 内可读
	_, err := m.Get(ctx, "k1")
	require.NoError(t, err)

	// 过期后视为缺失并被惰性删除
	now = now.Add(time.Minute + time.Second)
	_, err = m.Get(ctx, "k1")
	assert.True(t, IsCacheMiss(err))
	assert.Equal(t, 0, m.Len())
}

func TestMemory_LRUEviction(t *testing.T) {
	m := NewMemory(2)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), time.Minute))

	// 访问 a，使 b 成为最久未使用
	_, err := m.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, m.Set(ctx, "c", []byte("3"), time.Minute))

	_, err = m.Get(ctx, "b")
	assert.True(t, IsCacheMiss(err), "b should be evicted")
	_, err = m.Get(ctx, "a")
	assert.NoError(t, err)
	_, err = m.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestMemory_OwnsCopy(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()

	src := []byte("original")
	require.NoError(t, m.Set(ctx, "k1", src, time.Minute))

	// 修改调用方切片不得影响缓存内容
	src[0] = 'X'

	got, err := m.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)

	// 修改读出的切片同样不影响缓存
	got[0] = 'Y'
	again, err := m.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

func TestMemory_DeleteAndClear(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k1", []byte("v1"), time.Minute))
	require.NoError(t, m.Set(ctx, "k2", []byte("v2"), time.Minute))

	require.NoError(t, m.Delete(ctx, "k1"))
	_, err := m.Get(ctx, "k1")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, m.Clear(ctx))
	assert.Equal(t, 0, m.Len())
}
