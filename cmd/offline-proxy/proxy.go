package main

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Sternrassler/lms-offline-proxy/pkg/bgsync"
	"github.com/Sternrassler/lms-offline-proxy/pkg/cache"
	"github.com/Sternrassler/lms-offline-proxy/pkg/config"
	"github.com/Sternrassler/lms-offline-proxy/pkg/connectivity"
	"github.com/Sternrassler/lms-offline-proxy/pkg/lifecycle"
	"github.com/Sternrassler/lms-offline-proxy/pkg/logging"
	"github.com/Sternrassler/lms-offline-proxy/pkg/metrics"
	"github.com/Sternrassler/lms-offline-proxy/pkg/network"
	"github.com/Sternrassler/lms-offline-proxy/pkg/push"
	"github.com/Sternrassler/lms-offline-proxy/pkg/worker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// proxy wires one storage backend, one registration and the sync queue.
type proxy struct {
	env      config.Env
	storage  cache.Storage
	fetcher  *network.Client
	tracker  *connectivity.Tracker
	notifier push.Notifier
	extender *lifecycle.Extender
	pending  bgsync.Pending
	queue    *bgsync.Queue
	reg      *lifecycle.Registration[*worker.Worker]
	redis    *redis.Client
	closers  []func() error
	logger   zerolog.Logger
}

// newProxy builds the proxy. redisClient is required for the redis store.
func newProxy(e config.Env, redisClient *redis.Client, logger zerolog.Logger) (*proxy, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.Store == "redis" && redisClient == nil {
		return nil, fmt.Errorf("redis store needs a redis client")
	}

	cfg := e.Proxy()
	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, err
	}
	upstream, err := url.Parse(e.Upstream)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("%w: upstream %q must be absolute", config.ErrInvalid, e.Upstream)
	}

	p := &proxy{
		env:      e,
		redis:    redisClient,
		extender: lifecycle.NewExtender(e.Timeout, logging.NewLogger(logging.ComponentWorker)),
		reg:      lifecycle.NewRegistration[*worker.Worker](logging.NewLogger(logging.ComponentLifecycle)),
		logger:   logger,
	}

	limits := cache.Limits{cfg.DynamicName: cfg.DynamicMaxEntries}
	switch e.Store {
	case "redis":
		p.storage = cache.NewRedisStorage(redisClient, "offline:cache", limits)
		p.notifier = push.NewRedisNotifier(redisClient, push.DefaultChannel)
		p.pending = bgsync.NewRedisPending(redisClient, "offline:sync")
	case "sqlite":
		s, err := cache.OpenSQLite(e.SQLitePath, limits)
		if err != nil {
			return nil, err
		}
		p.storage = s
		p.closers = append(p.closers, s.Close)
		p.notifier = push.NewMemoryNotifier()
		p.pending = bgsync.NewMemoryPending()
	default:
		p.storage = cache.NewMemoryStorage(limits)
		p.notifier = push.NewMemoryNotifier()
		p.pending = bgsync.NewMemoryPending()
	}

	p.tracker = connectivity.NewTracker(redisClient, logging.NewLogger(logging.ComponentConnectivity))

	p.fetcher, err = network.New(network.Config{
		UserAgent: e.UserAgent,
		Timeout:   e.Timeout,
		Transport: &upstreamTransport{origin: origin, upstream: upstream, base: newBaseTransport()},
		Observer:  p.tracker,
	}, logging.NewLogger(logging.ComponentNetwork))
	if err != nil {
		p.Close()
		return nil, err
	}

	qcfg := bgsync.DefaultQueueConfig()
	qcfg.PollInterval = e.SyncInterval
	qcfg.MaxAttempts = e.SyncMaxAttempts
	p.queue, err = bgsync.NewQueue(p.pending, qcfg, logging.NewLogger(logging.ComponentSync))
	if err != nil {
		p.Close()
		return nil, err
	}
	p.queue.Handle(bgsync.TagBackgroundSync, p.sync)

	p.tracker.OnOffline(func() {
		if err := p.queue.Register(context.Background(), bgsync.TagBackgroundSync); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to register background sync")
		}
	})
	p.queue.SetOnlineCheck(p.tracker.Online)

	p.tracker.OnOnline(func() {
		ctx := context.Background()
		// The tag may have been dropped after exhausting retries
		if err := p.queue.Register(ctx, bgsync.TagBackgroundSync); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to register background sync")
		}
		if err := p.queue.Trigger(ctx); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to trigger background sync")
		}
	})

	return p, nil
}

// newWorker builds a worker for cfg sharing the proxy's collaborators.
func (p *proxy) newWorker(cfg config.Config) (*worker.Worker, error) {
	return worker.New(cfg, worker.Options{
		Storage:     p.storage,
		Fetcher:     p.fetcher,
		Notifier:    p.notifier,
		Extender:    p.extender,
		SkipWaiting: p.skipWaiting,
	}, logging.NewLogger(logging.ComponentWorker))
}

// update installs cfg as a new version.
func (p *proxy) update(ctx context.Context, cfg config.Config) error {
	w, err := p.newWorker(cfg)
	if err != nil {
		return err
	}
	if err := p.reg.Update(ctx, w); err != nil {
		return err
	}
	p.publishVersion()
	return nil
}

func (p *proxy) skipWaiting(ctx context.Context) error {
	if err := p.reg.SkipWaiting(ctx); err != nil {
		return err
	}
	p.publishVersion()
	return nil
}

func (p *proxy) publishVersion() {
	if active := p.reg.Status().Active; active != "" {
		metrics.SetActiveVersion(active)
	}
}

// sync runs a queued tag on the active worker.
func (p *proxy) sync(ctx context.Context, tag string) error {
	w, err := p.reg.Controller()
	if err != nil {
		return err
	}
	_, err = w.Handle(ctx, worker.Sync{Tag: tag})
	return err
}

// Close releases storage handles.
func (p *proxy) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
