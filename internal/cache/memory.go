package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// =============================================================================
// 🧠 进程内缓存层
// =============================================================================

// memoryEntry 单个缓存条目。value 为本层私有副本，
// 过期即视为缺失，由下次读取惰性删除。
type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Memory 进程内缓存层，按访问序 LRU 淘汰。
// 实例由持有者显式创建并注入，不使用包级全局状态。
type Memory struct {
	capacity int
	mu       sync.Mutex
	order    *list.List // 队首为最近访问
	entries  map[string]*list.Element

	// now 可替换以便测试控制时钟
	now func() time.Time
}

// NewMemory 创建进程内缓存层。capacity <= 0 表示不限容量。
func NewMemory(capacity int) *Memory {
	return &Memory{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Name 返回层名
func (m *Memory) Name() string { return "memory" }

// Get 获取缓存值，过期或缺失返回 ErrCacheMiss
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	entry := elem.Value.(*memoryEntry)
	if !m.now().Before(entry.expiresAt) {
		// 惰性删除过期条目
		m.order.Remove(elem)
		delete(m.entries, key)
		return nil, ErrCacheMiss
	}

	m.order.MoveToFront(elem)
	cp := make([]byte, len(entry.value))
	copy(cp, entry.value)
	return cp, nil
}

// Set 设置缓存值并刷新访问序
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	expiresAt := m.now().Add(ttl)

	if elem, ok := m.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = cp
		entry.expiresAt = expiresAt
		m.order.MoveToFront(elem)
		return nil
	}

	elem := m.order.PushFront(&memoryEntry{key: key, value: cp, expiresAt: expiresAt})
	m.entries[key] = elem

	// 超容后按访问序淘汰最久未使用的条目
	if m.capacity > 0 && m.order.Len() > m.capacity {
		oldest := m.order.Back()
		if oldest != nil {
			m.order.Remove(oldest)
			delete(m.entries, oldest.Value.(*memoryEntry).key)
		}
	}
	return nil
}

// Delete 删除缓存值
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		m.order.Remove(elem)
		delete(m.entries, key)
	}
	return nil
}

// Clear 清空本层
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.order.Init()
	m.entries = make(map[string]*list.Element)
	return nil
}

// Len 返回当前条目数（含未被惰性删除的过期条目）
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
