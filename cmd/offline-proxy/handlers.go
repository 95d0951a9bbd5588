package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/lms-offline-proxy/pkg/bgsync"
	"github.com/Sternrassler/lms-offline-proxy/pkg/lifecycle"
	"github.com/Sternrassler/lms-offline-proxy/pkg/metrics"
	"github.com/Sternrassler/lms-offline-proxy/pkg/push"
	"github.com/Sternrassler/lms-offline-proxy/pkg/worker"
)

// maxControlBody bounds control endpoint request bodies.
const maxControlBody = 1 << 20

// hopHeaders are connection-level headers not copied to the client.
var hopHeaders = []string{"Connection", "Keep-Alive", "Proxy-Connection", "Transfer-Encoding", "Upgrade", "Te", "Trailer"}

func (p *proxy) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", p.readyHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("GET /__proxy/status", p.statusHandler)
	mux.HandleFunc("POST /__proxy/message", p.messageHandler)
	mux.HandleFunc("POST /__proxy/push", p.pushHandler)
	mux.HandleFunc("POST /__proxy/sync", p.syncHandler)
	mux.HandleFunc("POST /__proxy/notificationclick", p.notificationClickHandler)
	mux.HandleFunc("/", p.interceptHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports ready once a version controls traffic and the
// shared backend answers.
func (p *proxy) readyHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := p.reg.Controller(); err != nil {
		http.Error(w, "no active version", http.StatusServiceUnavailable)
		return
	}
	if p.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.redis.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

type statusResponse struct {
	lifecycle.Status
	Online  bool          `json:"online"`
	Pending []bgsync.Task `json:"pending"`
}

func (p *proxy) statusHandler(w http.ResponseWriter, r *http.Request) {
	tasks, err := p.queue.Tasks(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:  p.reg.Status(),
		Online:  p.tracker.Online(),
		Pending: tasks,
	})
}

// interceptHandler answers every page request through the active worker.
// Without an active version requests go straight to the network.
func (p *proxy) interceptHandler(w http.ResponseWriter, r *http.Request) {
	ctrl, err := p.reg.Controller()
	if err != nil {
		p.forward(w, r)
		return
	}

	req, err := absolute(r, ctrl.Config().Origin)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out, err := ctrl.Handle(r.Context(), worker.Fetch{Request: req})
	if err != nil {
		p.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("Request failed")
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	p.copyResponse(w, r, out.Response)
}

func (p *proxy) forward(w http.ResponseWriter, r *http.Request) {
	req, err := absolute(r, p.env.Origin)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp, err := p.fetcher.Fetch(r.Context(), req)
	if err != nil {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	p.copyResponse(w, r, resp)
}

// absolute clones r with its URL resolved against origin.
func absolute(r *http.Request, origin string) (*http.Request, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	out := r.Clone(r.Context())
	out.URL = base.ResolveReference(&url.URL{
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	})
	out.Host = out.URL.Host
	return out, nil
}

func (p *proxy) copyResponse(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	defer resp.Body.Close()

	header := w.Header()
	for key, values := range resp.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	if n, err := io.Copy(w, resp.Body); err != nil {
		// Headers are out, so the client just sees a truncated body
		p.logger.Debug().
			Err(err).
			Str("url", r.URL.String()).
			Int("status_code", resp.StatusCode).
			Int64("bytes_written", n).
			Msg("Failed to write response body")
	}
}

// controller returns the active worker or writes 503.
func (p *proxy) controller(w http.ResponseWriter) (*worker.Worker, bool) {
	ctrl, err := p.reg.Controller()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return nil, false
	}
	return ctrl, true
}

func (p *proxy) messageHandler(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := p.controller(w)
	if !ok {
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	out, err := ctrl.Handle(r.Context(), worker.Message{Data: data})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cached": out.Cached, "status": p.reg.Status()})
}

func (p *proxy) pushHandler(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := p.controller(w)
	if !ok {
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	out, err := ctrl.Handle(r.Context(), worker.Push{Data: data})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, out.Notification)
}

func (p *proxy) syncHandler(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		tag = bgsync.TagBackgroundSync
	}
	if err := p.queue.Register(r.Context(), tag); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (p *proxy) notificationClickHandler(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := p.controller(w)
	if !ok {
		return
	}
	var click push.Click
	if err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&click); err != nil {
		http.Error(w, fmt.Sprintf("invalid click: %v", err), http.StatusBadRequest)
		return
	}

	out, err := ctrl.Handle(r.Context(), worker.NotificationClick{NotificationID: click.NotificationID, Action: click.Action})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out.Navigation)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
