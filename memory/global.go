package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/94cram/botcore/internal/cache"
)

// globalCacheKey is the single cache key for the active entry set.
const globalCacheKey = "entries"

// GlobalRepository is the durable storage contract for global memory.
type GlobalRepository interface {
	// ActiveEntries returns all entries with active = true.
	ActiveEntries(ctx context.Context) ([]GlobalEntry, error)
	Insert(ctx context.Context, entry *GlobalEntry) error
	// Entry returns (nil, nil) when the entry does not exist.
	Entry(ctx context.Context, id string) (*GlobalEntry, error)
	UpdateUsage(ctx context.Context, id string, usageCount int, updatedAt time.Time) error
}

// GlobalStore serves tenant-agnostic knowledge entries through the layered
// cache. The entry set is read-mostly and cached as a whole.
type GlobalStore struct {
	repo   GlobalRepository
	cache  *cache.Layered
	logger *zap.Logger
}

// NewGlobalStore creates a global memory store.
func NewGlobalStore(repo GlobalRepository, layered *cache.Layered, logger *zap.Logger) *GlobalStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GlobalStore{
		repo:   repo,
		cache:  layered,
		logger: logger.With(zap.String("component", "global_memory")),
	}
}

// Entries returns all active global entries, read-through the layered cache.
// On a full cache miss the set is loaded from durable storage and both cache
// tiers are populated.
func (s *GlobalStore) Entries(ctx context.Context) ([]GlobalEntry, error) {
	if raw, ok := s.cache.Get(ctx, globalCacheKey); ok {
		var entries []GlobalEntry
		err := json.Unmarshal(raw, &entries)
		if err == nil {
			return entries, nil
		}
		// corrupt cached payload is treated as a miss
		s.logger.Warn("corrupt cached entry set, falling through", zap.Error(err))
		s.cache.Delete(ctx, globalCacheKey)
	}

	s.logger.Debug("global memory miss, loading from durable store")
	entries, err := s.repo.ActiveEntries(ctx)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []GlobalEntry{}
	}

	if raw, err := json.Marshal(entries); err == nil {
		s.cache.Set(ctx, globalCacheKey, raw)
	}
	return entries, nil
}

// Add writes a new entry through to durable storage with a zeroed usage
// counter and fresh timestamps, then invalidates the cached set so the next
// read is consistent. Returns the entry ID.
func (s *GlobalStore) Add(ctx context.Context, entry GlobalEntry) (string, error) {
	now := time.Now()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.UsageCount = 0
	entry.CreatedAt = now
	entry.UpdatedAt = now

	if err := s.repo.Insert(ctx, &entry); err != nil {
		return "", err
	}

	s.cache.Delete(ctx, globalCacheKey)

	s.logger.Info("global memory entry added",
		zap.String("id", entry.ID),
		zap.String("category", string(entry.Category)),
	)
	return entry.ID, nil
}

// IncrementUsage bumps an entry's usage counter in the background.
// Best-effort: concurrent increments may be lost and failures are logged,
// never retried.
func (s *GlobalStore) IncrementUsage(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		entry, err := s.repo.Entry(ctx, id)
		if err != nil || entry == nil {
			s.logger.Warn("failed to read entry for usage increment",
				zap.String("id", id), zap.Error(err))
			return
		}
		if err := s.repo.UpdateUsage(ctx, id, entry.UsageCount+1, time.Now()); err != nil {
			s.logger.Warn("failed to increment usage count",
				zap.String("id", id), zap.Error(err))
		}
	}()
}
