package cache

import (
	"context"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// unboundedSize is the LRU capacity used for stores without a limit.
const unboundedSize = 1 << 20

// MemoryStorage is an in-process Storage. Each named store is an LRU.
type MemoryStorage struct {
	mu     sync.Mutex
	stores map[string]*lru.Cache[string, *Entry]
	limits Limits
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage(limits Limits) *MemoryStorage {
	return &MemoryStorage{
		stores: make(map[string]*lru.Cache[string, *Entry]),
		limits: limits,
	}
}

func (m *MemoryStorage) store(name string, create bool) (*lru.Cache[string, *Entry], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[name]; ok || !create {
		return s, nil
	}

	size := m.limits.of(name)
	if size == 0 {
		size = unboundedSize
	}
	s, err := lru.NewWithEvict[string, *Entry](size, func(string, *Entry) {
		CacheEvictions.WithLabelValues(name).Inc()
	})
	if err != nil {
		return nil, err
	}
	m.stores[name] = s
	return s, nil
}

// Match returns a copy of the stored entry.
func (m *MemoryStorage) Match(_ context.Context, name string, key Key) (*Entry, error) {
	s, _ := m.store(name, false)
	if s == nil {
		CacheMisses.WithLabelValues(name).Inc()
		return nil, ErrCacheMiss
	}
	entry, ok := s.Get(key.String())
	if !ok {
		CacheMisses.WithLabelValues(name).Inc()
		return nil, ErrCacheMiss
	}
	CacheHits.WithLabelValues(name).Inc()
	return entry.Clone(), nil
}

// Put stores a copy of entry.
func (m *MemoryStorage) Put(_ context.Context, name string, key Key, entry *Entry) error {
	if err := checkPut(key, entry); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return err
	}
	s, err := m.store(name, true)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return err
	}
	s.Add(key.String(), entry.Clone())
	CacheWrites.WithLabelValues(name).Inc()
	return nil
}

// Delete drops the named store.
func (m *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stores[name]; !ok {
		return false, nil
	}
	delete(m.stores, name)
	CacheDeletes.Inc()
	return true, nil
}

// Names lists existing stores.
func (m *MemoryStorage) Names(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Len returns the number of entries in a store (0 if absent).
func (m *MemoryStorage) Len(name string) int {
	s, _ := m.store(name, false)
	if s == nil {
		return 0
	}
	return s.Len()
}
