package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGlobalStore(repo *fakeGlobalRepo) *GlobalStore {
	return NewGlobalStore(repo, newTestLayered("global", time.Hour), zap.NewNop())
}

func TestGlobalStore_ReadThrough(t *testing.T) {
	repo := newFakeGlobalRepo()
	repo.entries["e1"] = GlobalEntry{ID: "e1", Category: GlobalFAQPattern, Title: "greeting", Active: true}
	repo.entries["e2"] = GlobalEntry{ID: "e2", Category: GlobalCommonCorrection, Title: "inactive", Active: false}

	store := newTestGlobalStore(repo)
	ctx := context.Background()

	entries, err := store.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].ID)
	assert.Equal(t, 1, repo.readCount())

	// 第二次读取命中缓存，不再触达持久层
	entries, err = store.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 1, repo.readCount())
}

func TestGlobalStore_AddInvalidatesCache(t *testing.T) {
	repo := newFakeGlobalRepo()
	store := newTestGlobalStore(repo)
	ctx := context.Background()

	entries, err := store.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	id, err := store.Add(ctx, GlobalEntry{
		Category: GlobalFAQPattern,
		Title:    "refund policy",
		Content:  "see handbook",
		Keywords: []string{"refund"},
		Source:   "manual",
		Active:   true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// 新增后缓存已失效，下一次读取看到新条目
	entries, err = store.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, 0, entries[0].UsageCount)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestGlobalStore_AddSurfacesDurableError(t *testing.T) {
	repo := newFakeGlobalRepo()
	repo.setDown(true)
	store := newTestGlobalStore(repo)

	_, err := store.Add(context.Background(), GlobalEntry{Title: "x", Active: true})
	assert.ErrorIs(t, err, errStoreDown)

	_, err = store.Entries(context.Background())
	assert.ErrorIs(t, err, errStoreDown)
}

func TestGlobalStore_IncrementUsageBestEffort(t *testing.T) {
	repo := newFakeGlobalRepo()
	repo.entries["e1"] = GlobalEntry{ID: "e1", Active: true}
	store := newTestGlobalStore(repo)

	store.IncrementUsage("e1")

	require.Eventually(t, func() bool {
		return repo.usage("e1") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestGlobalStore_IncrementUsageSwallowsFailure(t *testing.T) {
	repo := newFakeGlobalRepo()
	repo.setDown(true)
	store := newTestGlobalStore(repo)

	// 失败只记录日志，不得 panic 或阻塞
	store.IncrementUsage("absent")
	time.Sleep(20 * time.Millisecond)
}
