package connectivity

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for connectivity tracking.
var (
	onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offline_proxy_online",
		Help: "1 when the upstream network is considered reachable, 0 otherwise",
	})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_connectivity_transitions_total",
		Help: "Total online/offline transitions by target state",
	}, []string{"to"})
)

// Tracker implements network.Observer. It starts online.
type Tracker struct {
	mu        sync.Mutex
	state     State
	threshold int
	onOffline []func()
	onOnline  []func()

	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a tracker. redisClient is optional; when set, every
// transition is mirrored into Redis so other instances can read it.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	onlineGauge.Set(1)
	now := time.Now()
	return &Tracker{
		state:     State{Online: true, Since: now, LastUpdate: now},
		threshold: DefaultFailureThreshold,
		redis:     redisClient,
		logger:    logger,
	}
}

// SetFailureThreshold changes how many consecutive failures mark the
// network as down.
func (t *Tracker) SetFailureThreshold(n int) {
	if n < 1 {
		n = 1
	}
	t.mu.Lock()
	t.threshold = n
	t.mu.Unlock()
}

// OnOffline registers fn to run on every online→offline transition.
func (t *Tracker) OnOffline(fn func()) {
	t.mu.Lock()
	t.onOffline = append(t.onOffline, fn)
	t.mu.Unlock()
}

// OnOnline registers fn to run on every offline→online transition.
func (t *Tracker) OnOnline(fn func()) {
	t.mu.Lock()
	t.onOnline = append(t.onOnline, fn)
	t.mu.Unlock()
}

// Observe records one fetch outcome. Hooks run after the lock is released.
func (t *Tracker) Observe(err error) {
	t.mu.Lock()
	now := time.Now()
	t.state.LastUpdate = now

	var hooks []func()
	if err == nil {
		t.state.ConsecutiveFailures = 0
		if !t.state.Online {
			t.state.Online = true
			t.state.Since = now
			hooks = append(hooks, t.onOnline...)
		}
	} else {
		t.state.ConsecutiveFailures++
		t.state.LastError = err.Error()
		if t.state.Online && t.state.ConsecutiveFailures >= t.threshold {
			t.state.Online = false
			t.state.Since = now
			hooks = append(hooks, t.onOffline...)
		}
	}
	state := t.state
	t.mu.Unlock()

	if hooks == nil {
		return
	}

	t.transition(state)
	for _, fn := range hooks {
		fn()
	}
}

// Online reports the current connectivity.
func (t *Tracker) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Online
}

// State returns a snapshot of the tracked state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) transition(state State) {
	to := "offline"
	if state.Online {
		to = "online"
		onlineGauge.Set(1)
	} else {
		onlineGauge.Set(0)
	}
	transitionsTotal.WithLabelValues(to).Inc()

	if state.Online {
		t.logger.Info().Time("since", state.Since).Msg("Network reachable again")
	} else {
		t.logger.Warn().
			Int("consecutive_failures", state.ConsecutiveFailures).
			Str("last_error", state.LastError).
			Msg("Network unreachable - serving from cache")
	}

	if t.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := t.store(ctx, state); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to store connectivity state")
	}
}

// store writes the state atomically.
func (t *Tracker) store(ctx context.Context, state State) error {
	pipe := t.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyOnline, strconv.FormatBool(state.Online), 0)
	pipe.Set(ctx, RedisKeySince, state.Since.UnixMilli(), 0)
	pipe.Set(ctx, RedisKeyLastError, state.LastError, 0)
	pipe.Set(ctx, RedisKeyLastUpdate, state.LastUpdate.UnixMilli(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store connectivity state in redis: %w", err)
	}
	return nil
}

// SharedState reads the last state any instance mirrored into Redis.
// It returns nil, nil when nothing was stored yet.
func (t *Tracker) SharedState(ctx context.Context) (*State, error) {
	if t.redis == nil {
		return nil, fmt.Errorf("redis client is not configured")
	}

	vals, err := t.redis.MGet(ctx, RedisKeyOnline, RedisKeySince, RedisKeyLastError, RedisKeyLastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("get connectivity state: %w", err)
	}
	if vals[0] == nil {
		return nil, nil
	}

	str := func(v any) string {
		s, _ := v.(string)
		return s
	}
	millis := func(v any) time.Time {
		n, _ := strconv.ParseInt(str(v), 10, 64)
		return time.UnixMilli(n)
	}

	online, err := strconv.ParseBool(str(vals[0]))
	if err != nil {
		return nil, fmt.Errorf("parse online flag: %w", err)
	}
	return &State{
		Online:     online,
		Since:      millis(vals[1]),
		LastError:  str(vals[2]),
		LastUpdate: millis(vals[3]),
	}, nil
}
