package bgsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var syncAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "offline_proxy_sync_attempts_total",
	Help: "Total sync tag attempts by tag and result (ok, retry, dropped)",
}, []string{"tag", "result"})

// Handler runs one sync attempt for a tag.
type Handler func(ctx context.Context, tag string) error

// QueueConfig holds the retry schedule.
type QueueConfig struct {
	// PollInterval is how often due tasks are checked
	PollInterval time.Duration

	// MaxAttempts drops a tag after this many failed attempts
	MaxAttempts int

	// InitialInterval and MaxInterval bound the exponential backoff
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultQueueConfig returns the default retry schedule.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		PollInterval:    5 * time.Second,
		MaxAttempts:     5,
		InitialInterval: 5 * time.Second,
		MaxInterval:     10 * time.Minute,
	}
}

// Queue retries sync tags until their handler succeeds.
type Queue struct {
	pending  Pending
	config   QueueConfig
	logger   zerolog.Logger
	handlers map[string]Handler

	// online parks due tags while it reports false
	online func() bool

	// runMu keeps passes from overlapping
	runMu sync.Mutex
	wake  chan struct{}
	now   func() time.Time
}

// NewQueue creates a Queue over pending.
func NewQueue(pending Pending, cfg QueueConfig, logger zerolog.Logger) (*Queue, error) {
	if pending == nil {
		return nil, fmt.Errorf("pending store is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be > 0 (got %s)", cfg.PollInterval)
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be >= 1 (got %d)", cfg.MaxAttempts)
	}
	if cfg.InitialInterval <= 0 || cfg.MaxInterval < cfg.InitialInterval {
		return nil, fmt.Errorf("invalid backoff interval %s..%s", cfg.InitialInterval, cfg.MaxInterval)
	}

	return &Queue{
		pending:  pending,
		config:   cfg,
		logger:   logger,
		handlers: make(map[string]Handler),
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}, nil
}

// Handle sets the handler for tag. It must be called before Run.
func (q *Queue) Handle(tag string, h Handler) {
	q.handlers[tag] = h
}

// SetOnlineCheck makes passes skip every tag while online reports false.
// Parked tags keep their attempt count and run once Trigger is called.
// It must be called before Run.
func (q *Queue) SetOnlineCheck(online func() bool) {
	q.online = online
}

// Register enqueues tag for an immediate attempt. A tag already pending
// keeps its schedule.
func (q *Queue) Register(ctx context.Context, tag string) error {
	_, err := q.pending.Get(ctx, tag)
	if err == nil {
		q.logger.Debug().Str("tag", tag).Msg("Sync tag already pending")
		return nil
	}
	if !errors.Is(err, ErrNotPending) {
		return err
	}

	now := q.now()
	if err := q.pending.Put(ctx, Task{Tag: tag, Due: now, Registered: now}); err != nil {
		return err
	}
	q.logger.Info().Str("tag", tag).Msg("Sync tag registered")
	q.notify()
	return nil
}

// Trigger makes every pending tag due now. Call it when the network
// comes back.
func (q *Queue) Trigger(ctx context.Context) error {
	tasks, err := q.pending.List(ctx)
	if err != nil {
		return err
	}
	now := q.now()
	for _, task := range tasks {
		task.Due = now
		if err := q.pending.Put(ctx, task); err != nil {
			return err
		}
	}
	if len(tasks) > 0 {
		q.notify()
	}
	return nil
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run processes due tags until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := q.RunDue(ctx); err != nil && ctx.Err() == nil {
			q.logger.Warn().Err(err).Msg("Sync queue pass failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-q.wake:
		}
	}
}

// RunDue attempts every due tag once and returns how many succeeded.
func (q *Queue) RunDue(ctx context.Context) (int, error) {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if q.online != nil && !q.online() {
		q.logger.Debug().Msg("Network offline - sync tags parked")
		return 0, nil
	}

	tasks, err := q.pending.Due(ctx, q.now())
	if err != nil {
		return 0, err
	}

	succeeded := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			return succeeded, ctx.Err()
		}
		ok, err := q.attempt(ctx, task)
		if err != nil {
			return succeeded, err
		}
		if ok {
			succeeded++
		}
	}
	return succeeded, nil
}

// attempt runs one task and records the outcome. The error is a store
// failure; handler failures reschedule the task.
func (q *Queue) attempt(ctx context.Context, task Task) (bool, error) {
	h, ok := q.handlers[task.Tag]
	if !ok {
		q.logger.Warn().Str("tag", task.Tag).Msg("No handler for sync tag - dropping")
		syncAttempts.WithLabelValues(task.Tag, "dropped").Inc()
		return false, q.pending.Remove(ctx, task.Tag)
	}

	err := h(ctx, task.Tag)
	if err == nil {
		syncAttempts.WithLabelValues(task.Tag, "ok").Inc()
		q.logger.Info().Str("tag", task.Tag).Int("attempts", task.Attempts+1).Msg("Sync tag completed")
		return true, q.pending.Remove(ctx, task.Tag)
	}

	task.Attempts++
	task.LastError = err.Error()
	if task.Attempts >= q.config.MaxAttempts {
		syncAttempts.WithLabelValues(task.Tag, "dropped").Inc()
		q.logger.Error().
			Err(err).
			Str("tag", task.Tag).
			Int("attempts", task.Attempts).
			Msg("Sync tag exhausted retries - dropping")
		return false, q.pending.Remove(ctx, task.Tag)
	}

	wait := q.delay(task.Attempts)
	task.Due = q.now().Add(wait)
	syncAttempts.WithLabelValues(task.Tag, "retry").Inc()
	q.logger.Warn().
		Err(err).
		Str("tag", task.Tag).
		Int("attempts", task.Attempts).
		Dur("retry_in", wait).
		Msg("Sync attempt failed - rescheduled")
	return false, q.pending.Put(ctx, task)
}

// delay returns the backoff after the given number of failed attempts.
func (q *Queue) delay(attempts int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.config.InitialInterval
	bo.MaxInterval = q.config.MaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	wait := bo.InitialInterval
	for i := 0; i < attempts; i++ {
		wait = bo.NextBackOff()
	}
	return wait
}

// Tasks lists pending tags.
func (q *Queue) Tasks(ctx context.Context) ([]Task, error) {
	return q.pending.List(ctx)
}
