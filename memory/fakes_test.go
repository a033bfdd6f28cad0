package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/94cram/botcore/internal/cache"
)

// In-memory repository fakes for the durable tier, mirroring the
// last-writer-wins document store the production code talks to.

var errStoreDown = errors.New("durable store unavailable")

type fakeGlobalRepo struct {
	mu      sync.Mutex
	entries map[string]GlobalEntry
	reads   int
	down    bool
}

func newFakeGlobalRepo() *fakeGlobalRepo {
	return &fakeGlobalRepo{entries: make(map[string]GlobalEntry)}
}

func (r *fakeGlobalRepo) ActiveEntries(context.Context) ([]GlobalEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errStoreDown
	}
	r.reads++
	var out []GlobalEntry
	for _, e := range r.entries {
		if e.Active {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeGlobalRepo) Insert(_ context.Context, entry *GlobalEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errStoreDown
	}
	r.entries[entry.ID] = *entry
	return nil
}

func (r *fakeGlobalRepo) Entry(_ context.Context, id string) (*GlobalEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errStoreDown
	}
	e, ok := r.entries[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *fakeGlobalRepo) UpdateUsage(_ context.Context, id string, usageCount int, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errStoreDown
	}
	e, ok := r.entries[id]
	if !ok {
		return errors.New("no such entry")
	}
	e.UsageCount = usageCount
	e.UpdatedAt = updatedAt
	r.entries[id] = e
	return nil
}

func (r *fakeGlobalRepo) readCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

func (r *fakeGlobalRepo) setDown(down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down = down
}

func (r *fakeGlobalRepo) usage(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id].UsageCount
}

type fakeTenantRepo struct {
	mu   sync.Mutex
	docs map[string]TenantDoc
	down bool
}

func newFakeTenantRepo() *fakeTenantRepo {
	return &fakeTenantRepo{docs: make(map[string]TenantDoc)}
}

func (r *fakeTenantRepo) Doc(_ context.Context, tenantID string) (*TenantDoc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errStoreDown
	}
	doc, ok := r.docs[tenantID]
	if !ok {
		return nil, nil
	}
	cp := doc
	cp.Facts = append([]TenantFact(nil), doc.Facts...)
	return &cp, nil
}

func (r *fakeTenantRepo) Replace(_ context.Context, doc *TenantDoc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errStoreDown
	}
	cp := *doc
	cp.Facts = append([]TenantFact(nil), doc.Facts...)
	r.docs[doc.TenantID] = cp
	return nil
}

func (r *fakeTenantRepo) setDown(down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down = down
}

type fakeUserRepo struct {
	mu   sync.Mutex
	docs map[string]UserDoc
	down bool
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{docs: make(map[string]UserDoc)}
}

func (r *fakeUserRepo) Doc(_ context.Context, key string) (*UserDoc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errStoreDown
	}
	doc, ok := r.docs[key]
	if !ok {
		return nil, nil
	}
	cp := doc
	cp.Messages = append([]Message(nil), doc.Messages...)
	cp.Summaries = append([]Summary(nil), doc.Summaries...)
	cp.UserFacts = append([]UserFact(nil), doc.UserFacts...)
	return &cp, nil
}

func (r *fakeUserRepo) Replace(_ context.Context, doc *UserDoc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errStoreDown
	}
	cp := *doc
	cp.Messages = append([]Message(nil), doc.Messages...)
	cp.Summaries = append([]Summary(nil), doc.Summaries...)
	cp.UserFacts = append([]UserFact(nil), doc.UserFacts...)
	r.docs[doc.Key] = cp
	return nil
}

func (r *fakeUserRepo) setDown(down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down = down
}

// stubLLM returns a canned response or error for every call.
type stubLLM struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (s *stubLLM) CompleteJSON(context.Context, string, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// newTestLayered builds a two-tier cache from in-process tiers only.
func newTestLayered(store string, ttl time.Duration) *cache.Layered {
	return cache.NewLayered(store, ttl, zap.NewNop(), nil,
		cache.NewMemory(64), cache.NewMemory(64))
}
