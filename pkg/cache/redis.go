package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces all keys written by RedisStorage.
const DefaultRedisPrefix = "offline"

// deleteBatch is the number of entry keys removed per DEL on store deletion.
const deleteBatch = 500

// RedisStorage persists stores in Redis.
//
// Layout:
//
//	<prefix>:names         SET of existing store names
//	<prefix>:index:<name>  ZSET of entry keys scored by last access (unix nanos)
//	<prefix>:entry:<name>:<key>  JSON-encoded Entry
type RedisStorage struct {
	redis  *redis.Client
	prefix string
	limits Limits
}

// NewRedisStorage creates a Redis-backed storage.
func NewRedisStorage(redisClient *redis.Client, prefix string, limits Limits) *RedisStorage {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStorage{
		redis:  redisClient,
		prefix: prefix,
		limits: limits,
	}
}

func (s *RedisStorage) namesKey() string {
	return s.prefix + ":names"
}

func (s *RedisStorage) indexKey(name string) string {
	return s.prefix + ":index:" + name
}

func (s *RedisStorage) entryKey(name, key string) string {
	return s.prefix + ":entry:" + name + ":" + key
}

// Match retrieves an entry. Bounded stores record the access for LRU order.
func (s *RedisStorage) Match(ctx context.Context, name string, key Key) (*Entry, error) {
	k := key.String()

	data, err := s.redis.Get(ctx, s.entryKey(name, k)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(name).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("match").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("match").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if s.limits.of(name) > 0 {
		// XX: only touch members that still exist
		err := s.redis.ZAddXX(ctx, s.indexKey(name), redis.Z{
			Score:  float64(time.Now().UnixNano()),
			Member: k,
		}).Err()
		if err != nil {
			CacheErrors.WithLabelValues("match").Inc()
		}
	}

	CacheHits.WithLabelValues(name).Inc()
	return &entry, nil
}

// Put writes an entry, registers the store name and trims bounded stores.
func (s *RedisStorage) Put(ctx context.Context, name string, key Key, entry *Entry) error {
	if err := checkPut(key, entry); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return err
	}
	k := key.String()

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.entryKey(name, k), data, 0)
	pipe.ZAdd(ctx, s.indexKey(name), redis.Z{Score: float64(time.Now().UnixNano()), Member: k})
	pipe.SAdd(ctx, s.namesKey(), name)
	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis put: %w", err)
	}
	CacheWrites.WithLabelValues(name).Inc()

	if limit := s.limits.of(name); limit > 0 {
		if err := s.trim(ctx, name, limit); err != nil {
			CacheErrors.WithLabelValues("put").Inc()
			return fmt.Errorf("trim %s: %w", name, err)
		}
	}
	return nil
}

// trim removes the least recently used entries above limit.
func (s *RedisStorage) trim(ctx context.Context, name string, limit int) error {
	count, err := s.redis.ZCard(ctx, s.indexKey(name)).Result()
	if err != nil {
		return fmt.Errorf("redis zcard: %w", err)
	}
	excess := count - int64(limit)
	if excess <= 0 {
		return nil
	}

	victims, err := s.redis.ZRange(ctx, s.indexKey(name), 0, excess-1).Result()
	if err != nil {
		return fmt.Errorf("redis zrange: %w", err)
	}

	pipe := s.redis.TxPipeline()
	for _, v := range victims {
		pipe.Del(ctx, s.entryKey(name, v))
		pipe.ZRem(ctx, s.indexKey(name), v)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis evict: %w", err)
	}
	CacheEvictions.WithLabelValues(name).Add(float64(len(victims)))
	return nil
}

// Delete removes every entry of the store, its index and its name.
func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	members, err := s.redis.ZRange(ctx, s.indexKey(name), 0, -1).Result()
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("redis zrange: %w", err)
	}

	for start := 0; start < len(members); start += deleteBatch {
		end := min(start+deleteBatch, len(members))
		keys := make([]string, 0, end-start)
		for _, m := range members[start:end] {
			keys = append(keys, s.entryKey(name, m))
		}
		if err := s.redis.Del(ctx, keys...).Err(); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			return false, fmt.Errorf("redis del: %w", err)
		}
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, s.indexKey(name))
	removed := pipe.SRem(ctx, s.namesKey(), name)
	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("redis srem: %w", err)
	}

	existed := removed.Val() > 0 || len(members) > 0
	if existed {
		CacheDeletes.Inc()
	}
	return existed, nil
}

// Names lists the registered store names.
func (s *RedisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := s.redis.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		CacheErrors.WithLabelValues("names").Inc()
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
