package memory

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/94cram/botcore/internal/cache"
)

// TenantRepository is the durable storage contract for tenant memory.
// One document per tenant, replaced as a whole on every write.
type TenantRepository interface {
	// Doc returns (nil, nil) when the tenant has no document yet.
	Doc(ctx context.Context, tenantID string) (*TenantDoc, error)
	Replace(ctx context.Context, doc *TenantDoc) error
}

// TenantStore serves per-tenant facts through the layered cache. Mutations
// are whole-document read-modify-writes, serialized per tenant so that
// concurrent upserts cannot clobber each other.
type TenantStore struct {
	repo   TenantRepository
	cache  *cache.Layered
	writes *keyedMutex
	logger *zap.Logger
}

// NewTenantStore creates a tenant memory store.
func NewTenantStore(repo TenantRepository, layered *cache.Layered, logger *zap.Logger) *TenantStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantStore{
		repo:   repo,
		cache:  layered,
		writes: newKeyedMutex(),
		logger: logger.With(zap.String("component", "tenant_memory")),
	}
}

// Doc returns the tenant's memory document, read-through the layered cache.
// Returns nil when the tenant has no document.
func (s *TenantStore) Doc(ctx context.Context, tenantID string) (*TenantDoc, error) {
	if raw, ok := s.cache.Get(ctx, tenantID); ok {
		var doc TenantDoc
		err := json.Unmarshal(raw, &doc)
		if err == nil {
			return &doc, nil
		}
		s.logger.Warn("corrupt cached tenant doc, falling through",
			zap.String("tenant_id", tenantID), zap.Error(err))
		s.cache.Delete(ctx, tenantID)
	}

	s.logger.Debug("tenant memory miss, loading from durable store",
		zap.String("tenant_id", tenantID))
	doc, err := s.repo.Doc(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}

	if raw, err := json.Marshal(doc); err == nil {
		s.cache.Set(ctx, tenantID, raw)
	}
	return doc, nil
}

// UpsertFact inserts or replaces a fact in the tenant's fact list, keyed by
// fact.Key. On a key collision only content, confidence and last_used_at are
// replaced; the original created_at is preserved. The full fact list is
// written back as one document and the tenant's cache entry invalidated.
func (s *TenantStore) UpsertFact(ctx context.Context, tenantID string, fact TenantFact) error {
	unlock := s.writes.Lock(tenantID)
	defer unlock()

	now := time.Now()
	existing, err := s.Doc(ctx, tenantID)
	if err != nil {
		return err
	}

	if existing == nil {
		fact.LastUsedAt = now
		fact.CreatedAt = now
		doc := &TenantDoc{
			TenantID:  tenantID,
			Facts:     []TenantFact{fact},
			UpdatedAt: now,
		}
		if err := s.repo.Replace(ctx, doc); err != nil {
			return err
		}
		s.cache.Delete(ctx, tenantID)
		s.logger.Info("tenant fact upserted",
			zap.String("tenant_id", tenantID), zap.String("fact_key", fact.Key))
		return nil
	}

	found := false
	for i := range existing.Facts {
		if existing.Facts[i].Key == fact.Key {
			existing.Facts[i].Content = fact.Content
			existing.Facts[i].Confidence = fact.Confidence
			existing.Facts[i].LastUsedAt = now
			found = true
			break
		}
	}
	if !found {
		fact.LastUsedAt = now
		fact.CreatedAt = now
		existing.Facts = append(existing.Facts, fact)
	}
	existing.UpdatedAt = now

	if err := s.repo.Replace(ctx, existing); err != nil {
		return err
	}
	s.cache.Delete(ctx, tenantID)

	s.logger.Info("tenant fact upserted",
		zap.String("tenant_id", tenantID), zap.String("fact_key", fact.Key))
	return nil
}

// RemoveFact filters the fact with the given key out of the tenant's list
// and writes the document back. No-op when the tenant has no document.
func (s *TenantStore) RemoveFact(ctx context.Context, tenantID, factKey string) error {
	unlock := s.writes.Lock(tenantID)
	defer unlock()

	existing, err := s.Doc(ctx, tenantID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	facts := existing.Facts[:0]
	for _, f := range existing.Facts {
		if f.Key != factKey {
			facts = append(facts, f)
		}
	}
	existing.Facts = facts
	existing.UpdatedAt = time.Now()

	if err := s.repo.Replace(ctx, existing); err != nil {
		return err
	}
	s.cache.Delete(ctx, tenantID)

	s.logger.Info("tenant fact removed",
		zap.String("tenant_id", tenantID), zap.String("fact_key", factKey))
	return nil
}
