// Package bgsync refreshes the API store in the background and drives
// sync tags through a persisted retry queue.
package bgsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/Sternrassler/lms-offline-proxy/pkg/cache"
	"github.com/Sternrassler/lms-offline-proxy/pkg/config"
	"github.com/Sternrassler/lms-offline-proxy/pkg/network"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TagBackgroundSync is the only tag the proxy acts on.
const TagBackgroundSync = "background-sync"

// ErrSyncFailed is returned when no endpoint could be refreshed.
var ErrSyncFailed = errors.New("background sync failed")

// refreshConcurrency bounds parallel endpoint refreshes.
const refreshConcurrency = 4

var endpointRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "offline_proxy_sync_endpoint_refreshes_total",
	Help: "Total sync endpoint refreshes by result",
}, []string{"result"})

// Refresher re-fetches the sync endpoints into the API store.
type Refresher struct {
	endpoints []string
	store     string
	storage   cache.Storage
	fetcher   network.Fetcher
	logger    zerolog.Logger
}

// NewRefresher creates a Refresher for cfg's sync endpoints.
func NewRefresher(cfg config.Config, storage cache.Storage, fetcher network.Fetcher, logger zerolog.Logger) (*Refresher, error) {
	endpoints := make([]string, 0, len(cfg.SyncEndpoints))
	for _, ref := range cfg.SyncEndpoints {
		u, err := cfg.Resolve(ref)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, u)
	}
	return &Refresher{
		endpoints: endpoints,
		store:     cfg.Names().API,
		storage:   storage,
		fetcher:   fetcher,
		logger:    logger,
	}, nil
}

// Run refreshes every endpoint. An endpoint failure is logged and does not
// stop the others; Run fails only when every endpoint failed, which the
// queue treats as "still offline".
func (r *Refresher) Run(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(refreshConcurrency)
	for _, u := range r.endpoints {
		g.Go(func() error {
			if err := r.refresh(ctx, u); err != nil {
				endpointRefreshes.WithLabelValues("failed").Inc()
				r.logger.Warn().Err(err).Str("url", u).Msg("Sync endpoint refresh failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			endpointRefreshes.WithLabelValues("ok").Inc()
			return nil
		})
	}
	g.Wait()

	r.logger.Info().
		Int("endpoints", len(r.endpoints)).
		Int("failed", len(errs)).
		Msg("Background sync finished")

	if len(r.endpoints) > 0 && len(errs) == len(r.endpoints) {
		return fmt.Errorf("%w: %w", ErrSyncFailed, errors.Join(errs...))
	}
	return nil
}

func (r *Refresher) refresh(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := network.StatusError(resp); err != nil {
		return err
	}

	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		return fmt.Errorf("capture %s: %w", u, err)
	}
	if err := r.storage.Put(ctx, r.store, cache.GetKey(u), entry); err != nil {
		return fmt.Errorf("store %s: %w", u, err)
	}
	return nil
}
