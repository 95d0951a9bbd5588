package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	extendedInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offline_proxy_extended_tasks_in_flight",
		Help: "Background tasks the process must finish before shutting down",
	})

	extendedFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_extended_task_failures_total",
		Help: "Total failed background tasks by task name",
	}, []string{"task"})
)

// DefaultTaskTimeout bounds a single extended task.
const DefaultTaskTimeout = 30 * time.Second

// Extender is the lifecycle-extension handle: work started through Go
// outlives the request that started it, and Wait blocks shutdown until
// that work has finished.
type Extender struct {
	wg      sync.WaitGroup
	timeout time.Duration
	logger  zerolog.Logger
}

// NewExtender creates an Extender. timeout <= 0 uses DefaultTaskTimeout.
func NewExtender(timeout time.Duration, logger zerolog.Logger) *Extender {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &Extender{timeout: timeout, logger: logger}
}

// Go runs fn in the background. fn gets a context detached from ctx's
// cancellation but carrying its values, bounded by the task timeout.
func (e *Extender) Go(ctx context.Context, task string, fn func(ctx context.Context) error) {
	e.wg.Add(1)
	extendedInFlight.Inc()

	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	go func() {
		defer e.wg.Done()
		defer extendedInFlight.Dec()
		defer cancel()

		if err := fn(taskCtx); err != nil {
			extendedFailures.WithLabelValues(task).Inc()
			e.logger.Warn().Err(err).Str("task", task).Msg("Background task failed")
		}
	}()
}

// Wait blocks until every task started with Go has returned, or ctx ends.
func (e *Extender) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
