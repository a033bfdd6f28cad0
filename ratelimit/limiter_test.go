package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(capacity int, refill float64) *Limiter {
	return NewLimiter(Config{Capacity: capacity, Refill: refill, SweepIdle: time.Minute}, zap.NewNop(), nil)
}

func TestLimiter_BurstThenReject(t *testing.T) {
	l := newTestLimiter(30, 30)

	admitted := 0
	for i := 0; i < 100; i++ {
		if l.Allow("sender-1") {
			admitted++
		}
	}
	assert.Equal(t, 30, admitted)
}

func TestLimiter_RefillsAfterWait(t *testing.T) {
	l := newTestLimiter(30, 30)

	for i := 0; i < 100; i++ {
		l.Allow("sender-1")
	}

	time.Sleep(1100 * time.Millisecond)

	admitted := 0
	for i := 0; i < 30; i++ {
		if l.Allow("sender-1") {
			admitted++
		}
	}
	assert.Equal(t, 30, admitted)
}

func TestLimiter_IdentitiesAreIndependent(t *testing.T) {
	l := newTestLimiter(2, 1)

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	// 另一个身份的桶不受影响
	assert.True(t, l.Allow("b"))
	assert.True(t, l.Allow("b"))
	assert.False(t, l.Allow("b"))
}

func TestLimiter_BucketCreatedFull(t *testing.T) {
	l := newTestLimiter(5, 0.001)

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("fresh"), "request %d should be admitted from a full bucket", i)
	}
	assert.False(t, l.Allow("fresh"))
}

func TestLimiter_ConcurrentAllowIsAtomic(t *testing.T) {
	l := newTestLimiter(30, 0.001)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared") {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 30, admitted)
	assert.Equal(t, 1, l.Len())
}

func TestLimiter_Sweep(t *testing.T) {
	l := newTestLimiter(30, 30)

	l.Allow("old")
	l.Allow("fresh")
	require.Equal(t, 2, l.Len())

	// 回溯 old 的活跃时间，使其落在清扫窗口之外
	l.mu.Lock()
	l.buckets["old"].lastSeen = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	removed := l.Sweep(10 * time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, l.Len())

	// 被清扫的身份重新出现时拿到一个全新的满桶
	assert.True(t, l.Allow("old"))
}
