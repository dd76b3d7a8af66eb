package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kalambet/pumpdrive/internal/profile"
)

// MemoryStore is a process-local Store. It is used when the SQLite file
// cannot be opened and by tests; contents are lost on exit.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]CacheEntry
	analytics []AnalyticsRecord
	now       func() time.Time
	closed    bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{entries: make(map[string]CacheEntry), now: o.now}
}

var errClosed = errors.New("memory store closed")

func (m *MemoryStore) check(op string) error {
	if m.closed {
		return unavailable(op, errClosed)
	}
	return nil
}

func copyEntry(e CacheEntry) CacheEntry {
	e.Profile = e.Profile.Clone()
	e.Recommendation = append([]byte(nil), e.Recommendation...)
	return e
}

func (m *MemoryStore) Get(_ context.Context, hash string) (CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("reading cache entry"); err != nil {
		return CacheEntry{}, err
	}
	e, ok := m.entries[hash]
	if !ok {
		return CacheEntry{}, ErrNotFound
	}
	return copyEntry(e), nil
}

func (m *MemoryStore) Put(_ context.Context, p profile.Profile, recommendation []byte) (CacheEntry, error) {
	if !json.Valid(recommendation) {
		return CacheEntry{}, errors.New("recommendation is not valid JSON")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("writing cache entry"); err != nil {
		return CacheEntry{}, err
	}

	hash := profile.Hash(p)
	now := m.now().UTC()
	e := CacheEntry{
		ProfileHash:    hash,
		Profile:        p.Clone(),
		Recommendation: append([]byte(nil), recommendation...),
		CreatedAt:      now,
		LastUsedAt:     now,
		UseCount:       1,
	}
	if old, ok := m.entries[hash]; ok {
		e.CreatedAt = old.CreatedAt
	}
	m.entries[hash] = e
	return copyEntry(e), nil
}

func (m *MemoryStore) Touch(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("touching cache entry"); err != nil {
		return err
	}
	e, ok := m.entries[hash]
	if !ok {
		return ErrNotFound
	}
	e.LastUsedAt = m.now().UTC()
	e.UseCount++
	m.entries[hash] = e
	return nil
}

// sortedLocked returns entries in the same recency order SQLiteStore uses.
func (m *MemoryStore) sortedLocked() []CacheEntry {
	out := make([]CacheEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.After(b.LastUsedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ProfileHash < b.ProfileHash
	})
	return out
}

func (m *MemoryStore) RecentByUse(_ context.Context, limit int) ([]CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("listing cache entries"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	sorted := m.sortedLocked()
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	for i := range sorted {
		sorted[i] = copyEntry(sorted[i])
	}
	return sorted, nil
}

func (m *MemoryStore) PruneToSize(_ context.Context, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("pruning cache"); err != nil {
		return 0, err
	}
	keep = max(keep, 0)
	sorted := m.sortedLocked()
	if len(sorted) <= keep {
		return 0, nil
	}
	for _, e := range sorted[keep:] {
		delete(m.entries, e.ProfileHash)
	}
	return len(sorted) - keep, nil
}

func (m *MemoryStore) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("counting cache entries"); err != nil {
		return 0, err
	}
	return len(m.entries), nil
}

func (m *MemoryStore) RecordAnalytics(_ context.Context, rec AnalyticsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("recording analytics"); err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	m.analytics = append(m.analytics, rec)
	return nil
}

func (m *MemoryStore) AnalyticsSince(_ context.Context, since time.Time) ([]AnalyticsRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("reading analytics"); err != nil {
		return nil, err
	}
	var out []AnalyticsRecord
	for _, r := range m.analytics {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStore) PruneAnalytics(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("pruning analytics"); err != nil {
		return 0, err
	}
	kept := m.analytics[:0]
	for _, r := range m.analytics {
		if !r.Timestamp.Before(before) {
			kept = append(kept, r)
		}
	}
	n := len(m.analytics) - len(kept)
	m.analytics = kept
	return n, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
