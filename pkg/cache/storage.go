package cache

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrCacheMiss indicates the requested key was not found in the store
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrNotCacheable is returned by Put for non-GET keys
	ErrNotCacheable = errors.New("only GET requests are cacheable")
)

// Storage is a set of independently named stores. A store comes into
// existence on its first Put and disappears on Delete.
//
// Implementations must be safe for concurrent use. Concurrent Puts to the
// same key resolve last-write-wins.
type Storage interface {
	// Match returns the entry for key in store name, or ErrCacheMiss.
	Match(ctx context.Context, name string, key Key) (*Entry, error)

	// Put replaces the entry for key in store name.
	Put(ctx context.Context, name string, key Key, entry *Entry) error

	// Delete drops the whole store. It reports whether the store existed.
	Delete(ctx context.Context, name string) (bool, error)

	// Names lists existing stores in lexical order.
	Names(ctx context.Context) ([]string, error)
}

// Limits bounds the number of entries per store. A key matches the exact
// store name or its logical name, so "lms-dynamic" bounds every
// "lms-dynamic-<version>". Stores not listed are unbounded. Bounded stores
// evict least recently used entries.
type Limits map[string]int

func (l Limits) of(name string) int {
	if n := l[name]; n > 0 {
		return n
	}
	// Versions may contain dashes, so match "<logical>-" prefixes and
	// prefer the longest logical name
	limit, best := 0, 0
	for logical, n := range l {
		if n > 0 && len(logical) > best && strings.HasPrefix(name, logical+"-") {
			limit, best = n, len(logical)
		}
	}
	return limit
}

func checkPut(key Key, entry *Entry) error {
	if entry == nil {
		return errors.New("cache entry cannot be nil")
	}
	if !key.Cacheable() {
		return ErrNotCacheable
	}
	return nil
}
