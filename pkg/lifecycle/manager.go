// Package lifecycle installs and activates proxy versions.
//
// Install pre-warms the static store from the manifest, all or nothing.
// Activate deletes every store that does not belong to the current
// version. Registration decides which installed version controls traffic.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/lms-offline-proxy/pkg/cache"
	"github.com/Sternrassler/lms-offline-proxy/pkg/config"
	"github.com/Sternrassler/lms-offline-proxy/pkg/network"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInstallFailed wraps every pre-warm failure.
	ErrInstallFailed = errors.New("install failed")
)

// prewarmConcurrency bounds parallel manifest fetches.
const prewarmConcurrency = 6

var (
	installsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_installs_total",
		Help: "Total install attempts by result",
	}, []string{"result"})

	staleStoresDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_stale_stores_deleted_total",
		Help: "Total stale store deletions during activation by result",
	}, []string{"result"})
)

// Manager runs install and activate for one Config.
type Manager struct {
	cfg     config.Config
	storage cache.Storage
	fetcher network.Fetcher
	logger  zerolog.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(cfg config.Config, storage cache.Storage, fetcher network.Fetcher, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		storage: storage,
		fetcher: fetcher,
		logger:  logger.With().Str("version", cfg.Version).Logger(),
	}
}

// Version returns the version this manager installs.
func (m *Manager) Version() string {
	return m.cfg.Version
}

// Install fetches every manifest URL and, only when all succeeded, writes
// them into the static store. On failure nothing of this version remains
// and ErrInstallFailed is returned.
func (m *Manager) Install(ctx context.Context) error {
	staticName := m.cfg.Names().Static

	entries := make([]*cache.Entry, len(m.cfg.Manifest))
	keys := make([]cache.Key, len(m.cfg.Manifest))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prewarmConcurrency)
	for i, ref := range m.cfg.Manifest {
		g.Go(func() error {
			u, err := m.cfg.Resolve(ref)
			if err != nil {
				return err
			}
			entry, err := m.prewarm(gctx, u)
			if err != nil {
				return err
			}
			entries[i] = entry
			keys[i] = cache.GetKey(u)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		installsTotal.WithLabelValues("failed").Inc()
		m.logger.Error().Err(err).Msg("Install pre-warm failed - keeping previous version")
		return fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}

	for i, entry := range entries {
		if err := m.storage.Put(ctx, staticName, keys[i], entry); err != nil {
			m.discard(ctx, staticName)
			installsTotal.WithLabelValues("failed").Inc()
			m.logger.Error().Err(err).Str("cache", staticName).Msg("Install write failed - keeping previous version")
			return fmt.Errorf("%w: write %s: %v", ErrInstallFailed, keys[i].URL, err)
		}
	}

	installsTotal.WithLabelValues("ok").Inc()
	m.logger.Info().
		Str("cache", staticName).
		Int("assets", len(entries)).
		Msg("Installed")
	return nil
}

func (m *Manager) prewarm(ctx context.Context, u string) (*cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := network.StatusError(resp); err != nil {
		return nil, err
	}
	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", u, err)
	}
	return entry, nil
}

// discard removes a half-written static store of this version.
func (m *Manager) discard(ctx context.Context, name string) {
	if _, err := m.storage.Delete(context.WithoutCancel(ctx), name); err != nil {
		m.logger.Warn().Err(err).Str("cache", name).Msg("Failed to discard partial install")
	}
}

// Activate deletes every store not recognized by the current Config. Each
// deletion is attempted independently; failures are logged and joined
// into the returned error.
func (m *Manager) Activate(ctx context.Context) error {
	names, err := m.storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}

	var errs []error
	for _, name := range names {
		if m.cfg.Recognized(name) {
			continue
		}
		if _, err := m.storage.Delete(ctx, name); err != nil {
			staleStoresDeleted.WithLabelValues("failed").Inc()
			m.logger.Warn().Err(err).Str("cache", name).Msg("Failed to delete stale store")
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		staleStoresDeleted.WithLabelValues("ok").Inc()
		m.logger.Info().Str("cache", name).Msg("Deleted stale store")
	}

	m.logger.Info().Int("failed_deletions", len(errs)).Msg("Activated")
	return errors.Join(errs...)
}
