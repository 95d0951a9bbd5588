//go:build integration

package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer starts a Redis container and returns a client
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedisStorage_Integration_VersionCleanup(t *testing.T) {
	client, cleanup := setupRedisContainer(t)
	defer cleanup()

	ctx := context.Background()
	s := NewRedisStorage(client, "it", Limits{"lms-dynamic-v2": 10})

	key := GetKey("https://lms.example.edu/")
	for _, store := range []string{"lms-static-v1", "lms-dynamic-v1", "lms-static-v2", "lms-dynamic-v2"} {
		if err := s.Put(ctx, store, key, testEntry(store)); err != nil {
			t.Fatalf("Put(%s) failed: %v", store, err)
		}
	}

	// A second storage instance sees the same stores
	other := NewRedisStorage(client, "it", nil)
	names, err := other.Names(ctx)
	if err != nil {
		t.Fatalf("Names failed: %v", err)
	}
	if len(names) != 4 {
		t.Fatalf("Names = %v, want 4 stores", names)
	}

	for _, old := range []string{"lms-static-v1", "lms-dynamic-v1"} {
		if _, err := other.Delete(ctx, old); err != nil {
			t.Fatalf("Delete(%s) failed: %v", old, err)
		}
	}

	if _, err := s.Match(ctx, "lms-static-v1", key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("old version entry should be gone, got %v", err)
	}
	got, err := s.Match(ctx, "lms-dynamic-v2", key)
	if err != nil {
		t.Fatalf("current version entry lost: %v", err)
	}
	if string(got.Body) != "lms-dynamic-v2" {
		t.Errorf("Body = %s", got.Body)
	}
}
