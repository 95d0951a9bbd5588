package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/lms-offline-proxy/pkg/config"
	"github.com/Sternrassler/lms-offline-proxy/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 15 * time.Second

func main() {
	e, err := config.FromEnv()
	if err != nil {
		l := logging.NewLogger(logging.ComponentHost)
		l.Fatal().Err(err).Msg("Failed to read configuration")
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(e.LogLevel),
		Pretty: e.LogPretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger(logging.ComponentHost)

	if err := run(e, logger); err != nil {
		logger.Fatal().Err(err).Msg("Offline proxy failed")
	}
}

func run(e config.Env, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if e.Store == "redis" {
		redisClient = redis.NewClient(&redis.Options{Addr: e.RedisAddr, DB: e.RedisDB})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		logger.Info().Str("addr", e.RedisAddr).Msg("Connected to Redis")
	}

	p, err := newProxy(e, redisClient, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	// A failed first install leaves requests passing straight through
	if err := p.update(ctx, e.Proxy()); err != nil {
		logger.Error().Err(err).Str("version", e.Version).Msg("Initial install failed - retry with SIGHUP")
	}

	go p.queue.Run(ctx)
	go p.watchReload(ctx)

	server := &http.Server{
		Addr:              ":" + e.Port,
		Handler:           p.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("origin", e.Origin).
			Str("upstream", e.Upstream).
			Str("store", e.Store).
			Msg("Starting offline proxy")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Server shutdown incomplete")
	}
	if err := p.extender.Wait(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Background tasks still running at exit")
	}
	return nil
}

// watchReload installs a new version on SIGHUP using the current
// environment. The new version waits for SKIP_WAITING unless none is active.
func (p *proxy) watchReload(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		e, err := config.FromEnv()
		if err == nil {
			err = e.Proxy().Validate()
		}
		if err != nil {
			p.logger.Error().Err(err).Msg("Reload rejected")
			continue
		}
		if err := p.update(ctx, e.Proxy()); err != nil {
			p.logger.Error().Err(err).Str("version", e.Version).Msg("Reload install failed")
			continue
		}
		p.logger.Info().Interface("registration", p.reg.Status()).Msg("Reloaded")
	}
}

func newBaseTransport() http.RoundTripper {
	return http.DefaultTransport.(*http.Transport).Clone()
}
