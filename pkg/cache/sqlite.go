package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_stores (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_entries (
	store       TEXT NOT NULL,
	key         TEXT NOT NULL,
	url         TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	status      TEXT NOT NULL,
	header      TEXT NOT NULL,
	body        BLOB NOT NULL,
	cached_at   INTEGER NOT NULL,
	accessed_at INTEGER NOT NULL,
	PRIMARY KEY (store, key)
);
CREATE INDEX IF NOT EXISTS cache_entries_lru ON cache_entries (store, accessed_at);
`

// SQLiteStorage persists stores in a single SQLite database file.
type SQLiteStorage struct {
	sqlDB  *sql.DB
	limits Limits
}

// OpenSQLite opens (or creates) a SQLite storage at path.
func OpenSQLite(path string, limits Limits) (*SQLiteStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single writer: SQLite serializes writes anyway.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStorage{sqlDB: sqlDB, limits: limits}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStorage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Match returns the entry for key in store name.
func (s *SQLiteStorage) Match(ctx context.Context, name string, key Key) (*Entry, error) {
	k := key.String()
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT url, status_code, status, header, body, cached_at
		   FROM cache_entries WHERE store = ? AND key = ?`, name, k)

	var (
		entry    Entry
		header   string
		cachedAt int64
	)
	if err := row.Scan(&entry.URL, &entry.StatusCode, &entry.Status, &header, &entry.Body, &cachedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			CacheMisses.WithLabelValues(name).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("match").Inc()
		return nil, fmt.Errorf("select cache entry: %w", err)
	}
	entry.Header = http.Header{}
	if err := json.Unmarshal([]byte(header), &entry.Header); err != nil {
		CacheErrors.WithLabelValues("match").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	entry.CachedAt = time.UnixMilli(cachedAt).UTC()

	if s.limits.of(name) > 0 {
		if _, err := s.sqlDB.ExecContext(ctx,
			`UPDATE cache_entries SET accessed_at = ? WHERE store = ? AND key = ?`,
			time.Now().UnixNano(), name, k); err != nil {
			CacheErrors.WithLabelValues("match").Inc()
		}
	}

	CacheHits.WithLabelValues(name).Inc()
	return &entry, nil
}

// Put upserts an entry and trims the store to its limit in one transaction.
func (s *SQLiteStorage) Put(ctx context.Context, name string, key Key, entry *Entry) error {
	if err := checkPut(key, entry); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return err
	}
	header, err := json.Marshal(entry.Header)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal header: %w", err)
	}
	body := entry.Body
	if body == nil {
		body = []byte{}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_stores (name, created_at) VALUES (?, ?)`,
		name, now.UnixMilli()); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("insert cache store: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cache_entries (store, key, url, status_code, status, header, body, cached_at, accessed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (store, key) DO UPDATE SET
		   url = excluded.url,
		   status_code = excluded.status_code,
		   status = excluded.status,
		   header = excluded.header,
		   body = excluded.body,
		   cached_at = excluded.cached_at,
		   accessed_at = excluded.accessed_at`,
		name, key.String(), entry.URL, entry.StatusCode, entry.Status, string(header), body,
		entry.CachedAt.UTC().UnixMilli(), now.UnixNano()); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("upsert cache entry: %w", err)
	}

	var evicted int64
	if limit := s.limits.of(name); limit > 0 {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE store = ? AND key IN (
			   SELECT key FROM cache_entries WHERE store = ?
			   ORDER BY accessed_at DESC LIMIT -1 OFFSET ?)`,
			name, name, limit)
		if err != nil {
			CacheErrors.WithLabelValues("put").Inc()
			return fmt.Errorf("trim cache store: %w", err)
		}
		evicted, _ = res.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("commit: %w", err)
	}
	CacheWrites.WithLabelValues(name).Inc()
	if evicted > 0 {
		CacheEvictions.WithLabelValues(name).Add(float64(evicted))
	}
	return nil
}

// Delete drops every entry of the store and the store itself.
func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	entries, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE store = ?`, name)
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("delete cache entries: %w", err)
	}
	stores, err := tx.ExecContext(ctx, `DELETE FROM cache_stores WHERE name = ?`, name)
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("delete cache store: %w", err)
	}
	if err := tx.Commit(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("commit: %w", err)
	}

	nEntries, _ := entries.RowsAffected()
	nStores, _ := stores.RowsAffected()
	existed := nEntries > 0 || nStores > 0
	if existed {
		CacheDeletes.Inc()
	}
	return existed, nil
}

// Names lists existing stores.
func (s *SQLiteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM cache_stores ORDER BY name`)
	if err != nil {
		CacheErrors.WithLabelValues("names").Inc()
		return nil, fmt.Errorf("select cache stores: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			CacheErrors.WithLabelValues("names").Inc()
			return nil, fmt.Errorf("scan cache store: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		CacheErrors.WithLabelValues("names").Inc()
		return nil, fmt.Errorf("iterate cache stores: %w", err)
	}
	return names, nil
}
