// Package strategy answers classified requests from the network, the
// cache stores or a synthetic offline payload.
//
// Each classification has one strategy:
//
//	API         stale-while-revalidate (GET), network only otherwise
//	Static      cache-first, failures propagate
//	Navigation  network-first, then exact URL, root page, offline page
//	Passthrough network only, never cached
//
// Requests passed to Execute must carry an absolute URL.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/lms-offline-proxy/pkg/cache"
	"github.com/Sternrassler/lms-offline-proxy/pkg/classify"
	"github.com/Sternrassler/lms-offline-proxy/pkg/config"
	"github.com/Sternrassler/lms-offline-proxy/pkg/lifecycle"
	"github.com/Sternrassler/lms-offline-proxy/pkg/network"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Response sources for metrics.
const (
	sourceNetwork   = "network"
	sourceCache     = "cache"
	sourceRoot      = "root"
	sourceSynthetic = "synthetic"
	sourceError     = "error"
)

var responsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "offline_proxy_strategy_responses_total",
	Help: "Total responses by classification and source",
}, []string{"classification", "source"})

// Executor runs the strategy of a classification.
type Executor struct {
	names    config.Names
	rootURL  string
	storage  cache.Storage
	fetcher  network.Fetcher
	extender *lifecycle.Extender
	logger   zerolog.Logger

	// revalidations deduplicates background refetches per key
	revalidations singleflight.Group

	now func() time.Time
}

// New creates an Executor for cfg.
func New(cfg config.Config, storage cache.Storage, fetcher network.Fetcher, extender *lifecycle.Extender, logger zerolog.Logger) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if storage == nil || fetcher == nil || extender == nil {
		return nil, fmt.Errorf("storage, fetcher and extender are required")
	}
	root, err := cfg.Resolve(cfg.RootPath)
	if err != nil {
		return nil, err
	}

	return &Executor{
		names:    cfg.Names(),
		rootURL:  root,
		storage:  storage,
		fetcher:  fetcher,
		extender: extender,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Execute answers r with the strategy of class.
func (e *Executor) Execute(ctx context.Context, class classify.Classification, r *http.Request) (*http.Response, error) {
	var (
		resp   *http.Response
		source string
		err    error
	)
	switch class {
	case classify.API:
		resp, source, err = e.api(ctx, r)
	case classify.Static:
		resp, source, err = e.static(ctx, r)
	case classify.Navigation:
		resp, source, err = e.navigation(ctx, r)
	default:
		class = classify.Passthrough
		resp, source, err = e.passthrough(ctx, r)
	}

	responsesTotal.WithLabelValues(string(class), source).Inc()
	e.logger.Debug().
		Str("classification", string(class)).
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("source", source).
		Err(err).
		Msg("Request answered")
	return resp, err
}

// api is stale-while-revalidate for GET. Other methods never touch a store.
func (e *Executor) api(ctx context.Context, r *http.Request) (*http.Response, string, error) {
	if r.Method != http.MethodGet {
		return e.passthrough(ctx, r)
	}

	key := cache.KeyFor(r)
	if entry := e.match(ctx, e.names.API, key); entry != nil {
		e.revalidate(ctx, e.names.API, r)
		return e.cached(entry, r, ""), sourceCache, nil
	}

	resp, entry, err := e.fetch(ctx, r)
	if entry != nil {
		e.put(ctx, e.names.API, key, entry)
		return resp, sourceNetwork, nil
	}

	// A revalidation from another tab may have written the entry meanwhile
	if entry := e.match(ctx, e.names.API, key); entry != nil {
		closeBody(resp)
		return e.cached(entry, r, sourceCache), sourceCache, nil
	}
	if err == nil {
		// Non-OK answer from a reachable server
		return resp, sourceNetwork, nil
	}
	return OfflineAPIResponse(r, e.now()), sourceSynthetic, nil
}

// static is cache-first. A miss without network is an error.
func (e *Executor) static(ctx context.Context, r *http.Request) (*http.Response, string, error) {
	key := cache.KeyFor(r)
	if !key.Cacheable() {
		return e.passthrough(ctx, r)
	}
	if entry := e.match(ctx, e.names.Static, key); entry != nil {
		return e.cached(entry, r, ""), sourceCache, nil
	}

	resp, entry, err := e.fetch(ctx, r)
	if err != nil {
		return nil, sourceError, err
	}
	if entry != nil {
		e.put(ctx, e.names.Static, key, entry)
	}
	return resp, sourceNetwork, nil
}

// navigation is network-first. The three fallback levels apply only when
// the network is unreachable or the server fails with a 5xx status.
func (e *Executor) navigation(ctx context.Context, r *http.Request) (*http.Response, string, error) {
	key := cache.KeyFor(r)
	if !key.Cacheable() {
		return e.passthrough(ctx, r)
	}

	resp, entry, err := e.fetch(ctx, r)
	if entry != nil {
		e.put(ctx, e.names.Dynamic, key, entry)
		return resp, sourceNetwork, nil
	}
	// Redirects and client errors are the server's answer, not a failure
	if err == nil && resp.StatusCode < http.StatusInternalServerError {
		return resp, sourceNetwork, nil
	}

	// Pre-warmed pages live in the static store
	if entry := e.match(ctx, e.names.Dynamic, key); entry != nil {
		closeBody(resp)
		return e.cached(entry, r, sourceCache), sourceCache, nil
	}
	if entry := e.match(ctx, e.names.Static, key); entry != nil {
		closeBody(resp)
		return e.cached(entry, r, sourceCache), sourceCache, nil
	}

	rootKey := cache.GetKey(e.rootURL)
	for _, name := range []string{e.names.Dynamic, e.names.Static} {
		if entry := e.match(ctx, name, rootKey); entry != nil {
			closeBody(resp)
			return e.cached(entry, r, sourceRoot), sourceRoot, nil
		}
	}

	if err == nil {
		return resp, sourceNetwork, nil
	}
	return OfflinePageResponse(r), sourceSynthetic, nil
}

func (e *Executor) passthrough(ctx context.Context, r *http.Request) (*http.Response, string, error) {
	resp, err := e.fetcher.Fetch(ctx, r)
	if err != nil {
		return nil, sourceError, err
	}
	return resp, sourceNetwork, nil
}

// fetch asks the network for r. entry is set only for a captured 2xx
// response; resp is set whenever the server answered; err reports a
// transport failure.
func (e *Executor) fetch(ctx context.Context, r *http.Request) (*http.Response, *cache.Entry, error) {
	resp, err := e.fetcher.Fetch(ctx, r)
	if err != nil {
		return nil, nil, err
	}
	if !network.IsOK(resp) {
		return resp, nil, nil
	}
	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		closeBody(resp)
		return nil, nil, &network.FetchError{URL: r.URL.String(), Class: network.ErrorClassNetwork, Err: err}
	}
	return resp, entry, nil
}

// revalidate refetches r in the background and overwrites the entry on a
// 2xx response. Concurrent revalidations of one key share a single fetch.
func (e *Executor) revalidate(ctx context.Context, name string, r *http.Request) {
	key := cache.KeyFor(r)
	req := r.Clone(context.WithoutCancel(ctx))
	e.extender.Go(ctx, "revalidate", func(ctx context.Context) error {
		_, err, _ := e.revalidations.Do(name+" "+key.String(), func() (any, error) {
			resp, entry, err := e.fetch(ctx, req.WithContext(ctx))
			if err != nil {
				return nil, err
			}
			if entry == nil {
				closeBody(resp)
				return nil, network.StatusError(resp)
			}
			return nil, e.put(ctx, name, key, entry)
		})
		if errors.Is(err, network.ErrOffline) {
			e.logger.Debug().Str("key", key.String()).Msg("Revalidation skipped - offline")
			return nil
		}
		return err
	})
}

// match returns the entry or nil. Storage errors count as a miss.
func (e *Executor) match(ctx context.Context, name string, key cache.Key) *cache.Entry {
	entry, err := e.storage.Match(ctx, name, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			e.logger.Warn().Err(err).Str("cache", name).Str("key", key.String()).Msg("Cache read failed")
		}
		return nil
	}
	return entry
}

// put writes an entry. Failures are logged and swallowed by callers that
// are still serving the response.
func (e *Executor) put(ctx context.Context, name string, key cache.Key, entry *cache.Entry) error {
	if err := e.storage.Put(context.WithoutCancel(ctx), name, key, entry); err != nil {
		e.logger.Warn().Err(err).Str("cache", name).Str("key", key.String()).Msg("Cache write failed")
		return err
	}
	return nil
}

func (e *Executor) cached(entry *cache.Entry, r *http.Request, fallback string) *http.Response {
	resp := cache.EntryToResponse(entry, r)
	if fallback != "" {
		resp.Header.Set(HeaderFallback, fallback)
	}
	return resp
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}
