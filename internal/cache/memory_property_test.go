package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// 随机操作序列下，条目数不得超过容量，且最近写入的键在 TTL 内
// 必须可读并返回最后一次写入的值。
func TestMemory_PropertyCapacityAndFreshness(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 8).Draw(t, "capacity")
		m := NewMemory(capacity)
		ctx := context.Background()

		ops := rapid.IntRange(1, 100).Draw(t, "ops")
		var lastKey string
		var lastValue []byte

		for i := 0; i < ops; i++ {
			key := fmt.Sprintf("k%d", rapid.IntRange(0, 15).Draw(t, "key"))
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0, 1:
				value := []byte(rapid.StringN(0, 32, 64).Draw(t, "value"))
				if err := m.Set(ctx, key, value, time.Hour); err != nil {
					t.Fatalf("set failed: %v", err)
				}
				lastKey, lastValue = key, value
			case 2:
				if err := m.Delete(ctx, key); err != nil {
					t.Fatalf("delete failed: %v", err)
				}
				if key == lastKey {
					lastKey = ""
				}
			}

			if m.Len() > capacity {
				t.Fatalf("capacity exceeded: %d > %d", m.Len(), capacity)
			}
		}

		// 最近写入的键是 MRU，不可能被淘汰
		if lastKey != "" {
			got, err := m.Get(ctx, lastKey)
			if err != nil {
				t.Fatalf("most recent key %q missing: %v", lastKey, err)
			}
			if string(got) != string(lastValue) {
				t.Fatalf("stale value for %q: got %q want %q", lastKey, got, lastValue)
			}
		}
	})
}
