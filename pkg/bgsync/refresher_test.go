package bgsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/lms-offline-proxy/internal/testutil"
	"github.com/Sternrassler/lms-offline-proxy/pkg/cache"
	"github.com/Sternrassler/lms-offline-proxy/pkg/config"
	"github.com/Sternrassler/lms-offline-proxy/pkg/network"
	"github.com/rs/zerolog"
)

func setupRefresher(t *testing.T) (*Refresher, *testutil.MockOrigin, *cache.MemoryStorage, config.Config) {
	t.Helper()
	origin := testutil.NewMockOrigin()
	t.Cleanup(origin.Close)

	cfg := config.Default()
	cfg.Origin = origin.URL()

	fetcher, err := network.New(network.Config{UserAgent: "test/1.0", Timeout: 5 * time.Second}, zerolog.Nop())
	if err != nil {
		t.Fatalf("network.New failed: %v", err)
	}
	storage := cache.NewMemoryStorage(nil)
	r, err := NewRefresher(cfg, storage, fetcher, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRefresher failed: %v", err)
	}
	return r, origin, storage, cfg
}

func TestRefresher_OverwritesAPIStore(t *testing.T) {
	r, origin, storage, cfg := setupRefresher(t)
	for _, path := range cfg.SyncEndpoints {
		origin.SetResponse(path, testutil.NewJSONResponse(`{"fresh":true}`))
	}

	key := cache.GetKey(origin.URL() + "/api/courses")
	storage.Put(context.Background(), cfg.Names().API, key, &cache.Entry{StatusCode: 200, Body: []byte("stale")})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := storage.Len(cfg.Names().API); got != len(cfg.SyncEndpoints) {
		t.Errorf("API store has %d entries, want %d", got, len(cfg.SyncEndpoints))
	}
	entry, err := storage.Match(context.Background(), cfg.Names().API, key)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if string(entry.Body) != `{"fresh":true}` {
		t.Errorf("entry not overwritten: %s", entry.Body)
	}
}

func TestRefresher_PartialFailure(t *testing.T) {
	r, origin, storage, cfg := setupRefresher(t)
	origin.SetResponse("/api/courses", testutil.NewJSONResponse(`[]`))
	origin.SetResponse("/api/assignments", testutil.NewServerErrorResponse())
	// profile and notifications answer 404

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("partial failure should not fail the sync: %v", err)
	}
	if got := storage.Len(cfg.Names().API); got != 1 {
		t.Errorf("API store has %d entries, want 1", got)
	}
}

func TestRefresher_AllFailed(t *testing.T) {
	r, origin, _, _ := setupRefresher(t)
	origin.SetOffline(true)

	err := r.Run(context.Background())
	if !errors.Is(err, ErrSyncFailed) {
		t.Fatalf("expected ErrSyncFailed, got %v", err)
	}
	if !errors.Is(err, network.ErrOffline) {
		t.Errorf("expected the offline cause to be kept, got %v", err)
	}
}
