package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel notification events are published on.
const DefaultChannel = "offline:notifications"

var notificationEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "offline_proxy_notification_events_total",
	Help: "Total notification events by type (show, close)",
}, []string{"type"})

// Notifier displays and dismisses notifications.
type Notifier interface {
	Show(ctx context.Context, intent Intent) error
	Close(ctx context.Context, id string) error
}

// Event is the message published for every notification change.
type Event struct {
	Type         string  `json:"type"`
	ID           string  `json:"id"`
	Notification *Intent `json:"notification,omitempty"`
}

// RedisNotifier publishes notification events so any connected page or
// companion process can render them.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier creates a notifier publishing on channel.
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Show publishes a show event.
func (n *RedisNotifier) Show(ctx context.Context, intent Intent) error {
	return n.publish(ctx, Event{Type: "show", ID: intent.ID, Notification: &intent})
}

// Close publishes a close event.
func (n *RedisNotifier) Close(ctx context.Context, id string) error {
	return n.publish(ctx, Event{Type: "close", ID: id})
}

func (n *RedisNotifier) publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	notificationEvents.WithLabelValues(ev.Type).Inc()
	return nil
}

// Subscribe returns the Redis subscription of the notifier's channel.
func (n *RedisNotifier) Subscribe(ctx context.Context) *redis.PubSub {
	return n.client.Subscribe(ctx, n.channel)
}

// MemoryNotifier keeps the visible notifications in memory.
type MemoryNotifier struct {
	mu      sync.Mutex
	visible map[string]Intent
	order   []string
}

// NewMemoryNotifier creates an empty notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{visible: make(map[string]Intent)}
}

// Show makes intent visible.
func (n *MemoryNotifier) Show(_ context.Context, intent Intent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.visible[intent.ID]; !ok {
		n.order = append(n.order, intent.ID)
	}
	n.visible[intent.ID] = intent
	notificationEvents.WithLabelValues("show").Inc()
	return nil
}

// Close dismisses a notification. Unknown IDs are ignored.
func (n *MemoryNotifier) Close(_ context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.visible[id]; !ok {
		return nil
	}
	delete(n.visible, id)
	for i, v := range n.order {
		if v == id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	notificationEvents.WithLabelValues("close").Inc()
	return nil
}

// Visible lists visible notifications, oldest first.
func (n *MemoryNotifier) Visible() []Intent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Intent, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.visible[id])
	}
	return out
}
