// Package cache provides the offline proxy's named, versioned cache stores.
//
// A Storage holds any number of independently named stores. Each store maps
// a Key (method + absolute URL) to an Entry, an immutable snapshot of a
// response. Only GET keys are ever written.
//
// Three backends are provided:
//
//   - MemoryStorage: in-process LRU stores (tests, embedded use)
//   - RedisStorage: persistent, shared between proxy instances
//   - SQLiteStorage: persistent, single node
//
// # Basic Usage
//
//	storage := cache.NewRedisStorage(redisClient, "offline", cache.Limits{
//		"lms-dynamic-v1": 100,
//	})
//
//	key := cache.GetKey("https://lms.example.edu/api/courses")
//
//	entry, err := storage.Match(ctx, "lms-api-v1", key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from network
//	}
//
// # HTTP Response Caching
//
//	entry, err := cache.ResponseToEntry(resp)
//	if err != nil {
//		return err
//	}
//	if err := storage.Put(ctx, "lms-api-v1", key, entry); err != nil {
//		return err
//	}
//
//	// later
//	resp := cache.EntryToResponse(entry, req)
//
// # Eviction
//
// Stores listed in Limits are bounded and evict the least recently used
// entry once full. Stores not listed grow until their store is deleted,
// which happens when a new version activates.
//
// # Metrics
//
//   - offline_proxy_cache_hits_total{cache}
//   - offline_proxy_cache_misses_total{cache}
//   - offline_proxy_cache_writes_total{cache}
//   - offline_proxy_cache_evictions_total{cache}
//   - offline_proxy_cache_store_deletes_total
//   - offline_proxy_cache_errors_total{operation}
package cache
