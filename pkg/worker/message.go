package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/lms-offline-proxy/pkg/cache"
	"github.com/Sternrassler/lms-offline-proxy/pkg/lifecycle"
	"github.com/Sternrassler/lms-offline-proxy/pkg/network"
	"golang.org/x/sync/errgroup"
)

// Recognized message types. Every other type is ignored.
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageCacheURLs   = "CACHE_URLS"
)

// precacheConcurrency bounds parallel CACHE_URLS fetches.
const precacheConcurrency = 4

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (w *Worker) handleMessage(ctx context.Context, data []byte) (Outcome, error) {
	var msg envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		w.logger.Debug().Err(err).Msg("Ignoring malformed message")
		return Outcome{}, nil
	}

	switch msg.Type {
	case MessageSkipWaiting:
		if w.skipWaiting == nil {
			return Outcome{}, nil
		}
		if err := w.skipWaiting(ctx); err != nil && !errors.Is(err, lifecycle.ErrNoWaiting) {
			return Outcome{}, err
		}
		return Outcome{}, nil

	case MessageCacheURLs:
		var urls []string
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &urls); err != nil {
				w.logger.Debug().Err(err).Msg("Ignoring CACHE_URLS with malformed payload")
				return Outcome{}, nil
			}
		}
		return Outcome{Cached: w.precache(ctx, urls)}, nil

	default:
		w.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown message type")
		return Outcome{}, nil
	}
}

// precache stores every URL it can fetch in the dynamic store and returns
// those it stored, in request order. Failures are logged per URL.
func (w *Worker) precache(ctx context.Context, urls []string) []string {
	stored := make([]bool, len(urls))
	resolved := make([]string, len(urls))

	var g errgroup.Group
	g.SetLimit(precacheConcurrency)
	for i, ref := range urls {
		g.Go(func() error {
			u, err := w.cfg.Resolve(ref)
			if err == nil {
				err = w.precacheOne(ctx, u)
			}
			if err != nil {
				w.logger.Warn().Err(err).Str("url", ref).Msg("Failed to pre-cache URL")
				return nil
			}
			stored[i], resolved[i] = true, u
			return nil
		})
	}
	g.Wait()

	var cached []string
	for i, ok := range stored {
		if ok {
			cached = append(cached, resolved[i])
		}
	}
	w.logger.Info().Int("requested", len(urls)).Int("cached", len(cached)).Msg("Pre-cached URLs")
	return cached
}

func (w *Worker) precacheOne(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := network.StatusError(resp); err != nil {
		return err
	}
	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		return err
	}
	return w.storage.Put(ctx, w.cfg.Names().Dynamic, cache.GetKey(u), entry)
}
