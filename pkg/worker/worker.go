// Package worker is the proxy's single entry point: every lifecycle step,
// intercepted request, push, page message, sync tag and notification
// click goes through Worker.Handle.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/lms-offline-proxy/pkg/bgsync"
	"github.com/Sternrassler/lms-offline-proxy/pkg/cache"
	"github.com/Sternrassler/lms-offline-proxy/pkg/classify"
	"github.com/Sternrassler/lms-offline-proxy/pkg/config"
	"github.com/Sternrassler/lms-offline-proxy/pkg/lifecycle"
	"github.com/Sternrassler/lms-offline-proxy/pkg/network"
	"github.com/Sternrassler/lms-offline-proxy/pkg/push"
	"github.com/Sternrassler/lms-offline-proxy/pkg/strategy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrInvalidEvent is returned for events Handle cannot process.
var ErrInvalidEvent = errors.New("invalid event")

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_events_total",
		Help: "Total handled events by kind and result",
	}, []string{"kind", "result"})

	eventDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offline_proxy_event_duration_seconds",
		Help:    "Event handling duration in seconds by kind",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)

// Options are the collaborators of a Worker.
type Options struct {
	Storage  cache.Storage
	Fetcher  network.Fetcher
	Notifier push.Notifier
	Extender *lifecycle.Extender

	// SkipWaiting promotes the waiting version (optional)
	SkipWaiting func(ctx context.Context) error
}

// Worker is one version of the proxy.
type Worker struct {
	cfg         config.Config
	rules       classify.Rules
	storage     cache.Storage
	fetcher     network.Fetcher
	manager     *lifecycle.Manager
	executor    *strategy.Executor
	refresher   *bgsync.Refresher
	notifier    push.Notifier
	router      *push.Router
	extender    *lifecycle.Extender
	skipWaiting func(ctx context.Context) error
	logger      zerolog.Logger
}

// New creates a Worker for cfg.
func New(cfg config.Config, opts Options, logger zerolog.Logger) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Storage == nil || opts.Fetcher == nil || opts.Notifier == nil {
		return nil, fmt.Errorf("storage, fetcher and notifier are required")
	}
	if opts.Extender == nil {
		opts.Extender = lifecycle.NewExtender(cfg.RequestTimeout, logger)
	}

	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, err
	}
	logger = logger.With().Str("version", cfg.Version).Logger()

	executor, err := strategy.New(cfg, opts.Storage, opts.Fetcher, opts.Extender, logger)
	if err != nil {
		return nil, fmt.Errorf("create strategy executor: %w", err)
	}
	refresher, err := bgsync.NewRefresher(cfg, opts.Storage, opts.Fetcher, logger)
	if err != nil {
		return nil, fmt.Errorf("create refresher: %w", err)
	}
	router, err := push.NewRouter(cfg, opts.Notifier, logger)
	if err != nil {
		return nil, fmt.Errorf("create notification router: %w", err)
	}

	return &Worker{
		cfg:         cfg,
		rules:       classify.Rules{Origin: origin, APIPrefix: cfg.APIPrefix},
		storage:     opts.Storage,
		fetcher:     opts.Fetcher,
		manager:     lifecycle.NewManager(cfg, opts.Storage, opts.Fetcher, logger),
		executor:    executor,
		refresher:   refresher,
		notifier:    opts.Notifier,
		router:      router,
		extender:    opts.Extender,
		skipWaiting: opts.SkipWaiting,
		logger:      logger,
	}, nil
}

// Version returns the configured version.
func (w *Worker) Version() string {
	return w.cfg.Version
}

// Config returns the worker's configuration.
func (w *Worker) Config() config.Config {
	return w.cfg
}

// Install runs the install step.
func (w *Worker) Install(ctx context.Context) error {
	_, err := w.Handle(ctx, Install{})
	return err
}

// Activate runs the activate step.
func (w *Worker) Activate(ctx context.Context) error {
	_, err := w.Handle(ctx, Activate{})
	return err
}

// Handle processes one event.
func (w *Worker) Handle(ctx context.Context, ev Event) (Outcome, error) {
	if ev == nil {
		return Outcome{}, fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}

	start := time.Now()
	out, err := w.dispatch(ctx, ev)
	eventDuration.WithLabelValues(string(ev.Kind())).Observe(time.Since(start).Seconds())

	result := "ok"
	if err != nil {
		result = "error"
	}
	eventsTotal.WithLabelValues(string(ev.Kind()), result).Inc()
	return out, err
}

func (w *Worker) dispatch(ctx context.Context, ev Event) (Outcome, error) {
	switch e := ev.(type) {
	case Install:
		return Outcome{}, w.manager.Install(ctx)

	case Activate:
		return Outcome{}, w.manager.Activate(ctx)

	case Fetch:
		if e.Request == nil || e.Request.URL == nil || !e.Request.URL.IsAbs() {
			return Outcome{}, fmt.Errorf("%w: fetch needs a request with an absolute URL", ErrInvalidEvent)
		}
		class := classify.Classify(e.Request, w.rules)
		resp, err := w.executor.Execute(ctx, class, e.Request)
		return Outcome{Response: resp}, err

	case Push:
		intent := push.Parse(e.Data)
		if err := w.notifier.Show(ctx, intent); err != nil {
			return Outcome{}, fmt.Errorf("show notification: %w", err)
		}
		return Outcome{Notification: &intent}, nil

	case Message:
		return w.handleMessage(ctx, e.Data)

	case Sync:
		if e.Tag != bgsync.TagBackgroundSync {
			w.logger.Debug().Str("tag", e.Tag).Msg("Ignoring unknown sync tag")
			return Outcome{}, nil
		}
		return Outcome{}, w.refresher.Run(ctx)

	case NotificationClick:
		nav := w.router.Click(ctx, push.Click{NotificationID: e.NotificationID, Action: e.Action})
		return Outcome{Navigation: &nav}, nil

	default:
		return Outcome{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind())
	}
}

// Drain waits for background work started by fetches.
func (w *Worker) Drain(ctx context.Context) error {
	return w.extender.Wait(ctx)
}
