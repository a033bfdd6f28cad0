package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/94cram/botcore/internal/cache"
)

// UserRepository is the durable storage contract for user memory.
type UserRepository interface {
	// Doc returns (nil, nil) when the conversation has no document yet.
	Doc(ctx context.Context, key string) (*UserDoc, error)
	Replace(ctx context.Context, doc *UserDoc) error
}

// UserConfig bounds the per-user document.
type UserConfig struct {
	// CompactionThreshold 原始消息超过此数量后标记需要压缩
	CompactionThreshold int `yaml:"compaction_threshold" json:"compaction_threshold"`
	// CompactionSlice 每次压缩取最旧的多少条消息
	CompactionSlice int `yaml:"compaction_slice" json:"compaction_slice"`
	// MaxSummaries 滚动摘要上限，超出后淘汰最旧
	MaxSummaries int `yaml:"max_summaries" json:"max_summaries"`
	// MaxUserFacts 用户事实上限，超出后淘汰最旧
	MaxUserFacts int `yaml:"max_user_facts" json:"max_user_facts"`
}

// DefaultUserConfig returns the limits used in production.
func DefaultUserConfig() UserConfig {
	return UserConfig{
		CompactionThreshold: 20,
		CompactionSlice:     10,
		MaxSummaries:        10,
		MaxUserFacts:        20,
	}
}

// UserStore holds one document per (botType, userID): the live raw message
// window, rolling summaries and per-user facts. Mutations are serialized per
// conversation key.
type UserStore struct {
	repo   UserRepository
	cache  *cache.Layered
	config UserConfig
	writes *keyedMutex
	logger *zap.Logger
}

// NewUserStore creates a user memory store.
func NewUserStore(repo UserRepository, layered *cache.Layered, config UserConfig, logger *zap.Logger) *UserStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CompactionThreshold <= 0 {
		config = DefaultUserConfig()
	}
	return &UserStore{
		repo:   repo,
		cache:  layered,
		config: config,
		writes: newKeyedMutex(),
		logger: logger.With(zap.String("component", "user_memory")),
	}
}

// DocKey builds the storage key for one conversation.
func DocKey(botType BotType, userID string) string {
	return fmt.Sprintf("%s_%s", botType, userID)
}

// Doc returns the user's memory document, read-through the layered cache.
// Returns nil when the conversation has no document.
func (s *UserStore) Doc(ctx context.Context, botType BotType, userID string) (*UserDoc, error) {
	key := DocKey(botType, userID)

	if raw, ok := s.cache.Get(ctx, key); ok {
		var doc UserDoc
		err := json.Unmarshal(raw, &doc)
		if err == nil {
			doc.Key = key
			return &doc, nil
		}
		s.logger.Warn("corrupt cached user doc, falling through",
			zap.String("key", key), zap.Error(err))
		s.cache.Delete(ctx, key)
	}

	s.logger.Debug("user memory miss, loading from durable store", zap.String("key", key))
	doc, err := s.repo.Doc(ctx, key)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}

	if raw, err := json.Marshal(doc); err == nil {
		s.cache.Set(ctx, key, raw)
	}
	return doc, nil
}

// AppendMessage appends one message to the live window, creating the
// document on first use. Reports whether the window has crossed the
// compaction threshold.
func (s *UserStore) AppendMessage(ctx context.Context, botType BotType, userID, tenantID string, msg Message) (bool, error) {
	key := DocKey(botType, userID)
	unlock := s.writes.Lock(key)
	defer unlock()

	now := time.Now()
	msg.Timestamp = now

	doc, err := s.repo.Doc(ctx, key)
	if err != nil {
		return false, err
	}
	if doc == nil {
		doc = &UserDoc{
			Key:       key,
			BotType:   botType,
			UserID:    userID,
			TenantID:  tenantID,
			Messages:  []Message{},
			Summaries: []Summary{},
			UserFacts: []UserFact{},
			CreatedAt: now,
		}
	}

	doc.Messages = append(doc.Messages, msg)
	doc.UpdatedAt = now

	if err := s.repo.Replace(ctx, doc); err != nil {
		return false, err
	}
	s.cache.Delete(ctx, key)

	s.logger.Debug("message appended",
		zap.String("key", key), zap.Int("message_count", len(doc.Messages)))
	return len(doc.Messages) > s.config.CompactionThreshold, nil
}

// Compact atomically swaps the oldest summary.MessageCount raw messages for
// the summary: the slice disappears exactly as the summary appears.
// Summaries are capped; the oldest are dropped once over the limit.
func (s *UserStore) Compact(ctx context.Context, botType BotType, userID string, summary Summary) error {
	key := DocKey(botType, userID)
	unlock := s.writes.Lock(key)
	defer unlock()

	doc, err := s.repo.Doc(ctx, key)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	n := summary.MessageCount
	if n > len(doc.Messages) {
		n = len(doc.Messages)
	}
	doc.Messages = doc.Messages[n:]

	doc.Summaries = append(doc.Summaries, summary)
	if len(doc.Summaries) > s.config.MaxSummaries {
		doc.Summaries = doc.Summaries[len(doc.Summaries)-s.config.MaxSummaries:]
	}
	doc.UpdatedAt = time.Now()

	if err := s.repo.Replace(ctx, doc); err != nil {
		return err
	}
	s.cache.Delete(ctx, key)

	s.logger.Info("messages compacted",
		zap.String("key", key),
		zap.Int("compacted", n),
		zap.Int("remaining", len(doc.Messages)),
	)
	return nil
}

// AddFact appends a freeform note about the user, evicting the oldest once
// over the cap. No-op when the conversation has no document.
func (s *UserStore) AddFact(ctx context.Context, botType BotType, userID string, fact UserFact) error {
	key := DocKey(botType, userID)
	unlock := s.writes.Lock(key)
	defer unlock()

	doc, err := s.repo.Doc(ctx, key)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	fact.CreatedAt = time.Now()
	doc.UserFacts = append(doc.UserFacts, fact)
	if len(doc.UserFacts) > s.config.MaxUserFacts {
		doc.UserFacts = doc.UserFacts[len(doc.UserFacts)-s.config.MaxUserFacts:]
	}
	doc.UpdatedAt = time.Now()

	if err := s.repo.Replace(ctx, doc); err != nil {
		return err
	}
	s.cache.Delete(ctx, key)

	s.logger.Info("user fact added", zap.String("key", key), zap.String("fact", fact.Fact))
	return nil
}

// Config returns the store's limits.
func (s *UserStore) Config() UserConfig { return s.config }
