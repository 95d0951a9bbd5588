package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a test Redis client. Tests are skipped when no
// Redis is listening on localhost:6379.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

type storageFactory func(t *testing.T, limits Limits) Storage

func backends() map[string]storageFactory {
	return map[string]storageFactory{
		"memory": func(t *testing.T, limits Limits) Storage {
			return NewMemoryStorage(limits)
		},
		"sqlite": func(t *testing.T, limits Limits) Storage {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"), limits)
			if err != nil {
				t.Fatalf("OpenSQLite failed: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
		"redis": func(t *testing.T, limits Limits) Storage {
			return NewRedisStorage(setupTestRedis(t), "test", limits)
		},
	}
}

func testEntry(body string) *Entry {
	return &Entry{
		URL:        "https://lms.example.edu/api/courses",
		StatusCode: 200,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(body),
		CachedAt:   time.Now().Truncate(time.Millisecond),
	}
}

func TestStorage_PutAndMatch(t *testing.T) {
	for name, newStorage := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStorage(t, nil)
			ctx := context.Background()
			key := GetKey("https://lms.example.edu/api/courses")

			if _, err := s.Match(ctx, "lms-api-v1", key); !errors.Is(err, ErrCacheMiss) {
				t.Fatalf("Expected ErrCacheMiss on empty store, got %v", err)
			}

			if err := s.Put(ctx, "lms-api-v1", key, testEntry(`{"n":1}`)); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			got, err := s.Match(ctx, "lms-api-v1", key)
			if err != nil {
				t.Fatalf("Match failed: %v", err)
			}
			if string(got.Body) != `{"n":1}` {
				t.Errorf("Body = %s", got.Body)
			}
			if got.StatusCode != 200 {
				t.Errorf("StatusCode = %d", got.StatusCode)
			}
			if got.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q", got.Header.Get("Content-Type"))
			}

			// Stores are independent
			if _, err := s.Match(ctx, "lms-dynamic-v1", key); !errors.Is(err, ErrCacheMiss) {
				t.Errorf("Expected miss in another store, got %v", err)
			}
		})
	}
}

func TestStorage_LastWriteWins(t *testing.T) {
	for name, newStorage := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStorage(t, nil)
			ctx := context.Background()
			key := GetKey("https://lms.example.edu/api/courses")

			if err := s.Put(ctx, "api", key, testEntry("first")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			if err := s.Put(ctx, "api", key, testEntry("second")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			got, err := s.Match(ctx, "api", key)
			if err != nil {
				t.Fatalf("Match failed: %v", err)
			}
			if string(got.Body) != "second" {
				t.Errorf("Body = %s, want second", got.Body)
			}
		})
	}
}

func TestStorage_RejectsNonGET(t *testing.T) {
	for name, newStorage := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStorage(t, nil)
			ctx := context.Background()
			key := Key{Method: http.MethodPost, URL: "https://lms.example.edu/api/assignments"}

			if err := s.Put(ctx, "api", key, testEntry("x")); !errors.Is(err, ErrNotCacheable) {
				t.Errorf("Put(POST) = %v, want ErrNotCacheable", err)
			}
			names, err := s.Names(ctx)
			if err != nil {
				t.Fatalf("Names failed: %v", err)
			}
			if len(names) != 0 {
				t.Errorf("rejected Put must not create a store, got %v", names)
			}
		})
	}
}

func TestStorage_NamesAndDelete(t *testing.T) {
	for name, newStorage := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStorage(t, nil)
			ctx := context.Background()

			for _, store := range []string{"lms-static-v1", "lms-api-v1", "lms-static-v2"} {
				if err := s.Put(ctx, store, GetKey("https://lms.example.edu/"), testEntry("x")); err != nil {
					t.Fatalf("Put(%s) failed: %v", store, err)
				}
			}

			names, err := s.Names(ctx)
			if err != nil {
				t.Fatalf("Names failed: %v", err)
			}
			want := []string{"lms-api-v1", "lms-static-v1", "lms-static-v2"}
			if fmt.Sprint(names) != fmt.Sprint(want) {
				t.Errorf("Names = %v, want %v", names, want)
			}

			existed, err := s.Delete(ctx, "lms-static-v1")
			if err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if !existed {
				t.Error("Delete should report existing store")
			}
			if _, err := s.Match(ctx, "lms-static-v1", GetKey("https://lms.example.edu/")); !errors.Is(err, ErrCacheMiss) {
				t.Errorf("entries must be gone after Delete, got %v", err)
			}

			existed, err = s.Delete(ctx, "lms-static-v1")
			if err != nil {
				t.Fatalf("second Delete failed: %v", err)
			}
			if existed {
				t.Error("second Delete should report missing store")
			}

			names, _ = s.Names(ctx)
			want = []string{"lms-api-v1", "lms-static-v2"}
			if fmt.Sprint(names) != fmt.Sprint(want) {
				t.Errorf("Names after delete = %v, want %v", names, want)
			}
		})
	}
}

func TestStorage_LRUBound(t *testing.T) {
	for name, newStorage := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStorage(t, Limits{"dynamic": 2})
			ctx := context.Background()
			a := GetKey("https://lms.example.edu/a")
			b := GetKey("https://lms.example.edu/b")
			c := GetKey("https://lms.example.edu/c")

			mustPut := func(k Key) {
				t.Helper()
				if err := s.Put(ctx, "dynamic", k, testEntry(k.URL)); err != nil {
					t.Fatalf("Put failed: %v", err)
				}
				time.Sleep(2 * time.Millisecond)
			}

			mustPut(a)
			mustPut(b)
			// Touch a so b becomes least recently used
			if _, err := s.Match(ctx, "dynamic", a); err != nil {
				t.Fatalf("Match(a) failed: %v", err)
			}
			time.Sleep(2 * time.Millisecond)
			mustPut(c)

			if _, err := s.Match(ctx, "dynamic", b); !errors.Is(err, ErrCacheMiss) {
				t.Errorf("b should have been evicted, got %v", err)
			}
			for _, k := range []Key{a, c} {
				if _, err := s.Match(ctx, "dynamic", k); err != nil {
					t.Errorf("%s should be present: %v", k, err)
				}
			}

			// Unbounded stores keep everything
			for _, k := range []Key{a, b, c} {
				if err := s.Put(ctx, "static", k, testEntry("x")); err != nil {
					t.Fatalf("Put failed: %v", err)
				}
			}
			for _, k := range []Key{a, b, c} {
				if _, err := s.Match(ctx, "static", k); err != nil {
					t.Errorf("unbounded store lost %s: %v", k, err)
				}
			}
		})
	}
}

func TestStorage_LRUBoundDashedVersion(t *testing.T) {
	for name, newStorage := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStorage(t, Limits{"lms-dynamic": 2})
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				k := GetKey(fmt.Sprintf("https://lms.example.edu/page/%d", i))
				if err := s.Put(ctx, "lms-dynamic-2024-10-01", k, testEntry(k.URL)); err != nil {
					t.Fatalf("Put failed: %v", err)
				}
				time.Sleep(2 * time.Millisecond)
			}

			present := 0
			for i := 0; i < 5; i++ {
				k := GetKey(fmt.Sprintf("https://lms.example.edu/page/%d", i))
				if _, err := s.Match(ctx, "lms-dynamic-2024-10-01", k); err == nil {
					present++
				}
			}
			if present != 2 {
				t.Errorf("store kept %d entries, want 2", present)
			}
		})
	}
}

func TestStorage_ConcurrentPuts(t *testing.T) {
	for name, newStorage := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStorage(t, nil)
			ctx := context.Background()
			key := GetKey("https://lms.example.edu/api/courses")

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if err := s.Put(ctx, "api", key, testEntry(fmt.Sprintf("v%d", i))); err != nil {
						t.Errorf("Put failed: %v", err)
					}
				}(i)
			}
			wg.Wait()

			got, err := s.Match(ctx, "api", key)
			if err != nil {
				t.Fatalf("Match failed: %v", err)
			}
			if len(got.Body) < 2 || got.Body[0] != 'v' {
				t.Errorf("unexpected body after concurrent writes: %q", got.Body)
			}
		})
	}
}

func TestMemoryStorage_Isolation(t *testing.T) {
	s := NewMemoryStorage(nil)
	ctx := context.Background()
	key := GetKey("https://lms.example.edu/api/courses")

	entry := testEntry("original")
	if err := s.Put(ctx, "api", key, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	entry.Body[0] = 'X'

	got, _ := s.Match(ctx, "api", key)
	if string(got.Body) != "original" {
		t.Errorf("stored entry was mutated through caller: %s", got.Body)
	}
	if s.Len("api") != 1 {
		t.Errorf("Len = %d, want 1", s.Len("api"))
	}
}

func TestNewRedisStorage_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStorage should panic with nil redis client")
		}
	}()
	NewRedisStorage(nil, "", nil)
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	if _, err := OpenSQLite("  ", nil); err == nil {
		t.Error("OpenSQLite should reject an empty path")
	}
}

func TestLimits_Of(t *testing.T) {
	limits := Limits{"lms-dynamic": 100, "scratch-v1": 5, "lms": 7}

	tests := []struct {
		name string
		want int
	}{
		{"lms-dynamic-v1", 100},
		{"lms-dynamic-v2", 100},
		{"lms-dynamic-2024-10-01", 100},
		{"lms-dynamic-1.4.0-rc-2", 100},
		{"lms-static-v1", 7},
		{"scratch-v1", 5},
		{"scratch-v2", 0},
		{"dynamic", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := limits.of(tt.name); got != tt.want {
				t.Errorf("of(%q) = %d, want %d", tt.name, got, tt.want)
			}
		})
	}

	if got := Limits(nil).of("lms-dynamic-v1"); got != 0 {
		t.Errorf("nil limits should be unbounded, got %d", got)
	}
}
