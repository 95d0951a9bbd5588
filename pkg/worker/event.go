package worker

import (
	"net/http"

	"github.com/Sternrassler/lms-offline-proxy/pkg/push"
)

// Kind names an event type.
type Kind string

const (
	KindInstall           Kind = "install"
	KindActivate          Kind = "activate"
	KindFetch             Kind = "fetch"
	KindPush              Kind = "push"
	KindMessage           Kind = "message"
	KindSync              Kind = "sync"
	KindNotificationClick Kind = "notificationclick"
)

// Event is one input to Worker.Handle.
type Event interface {
	Kind() Kind
}

// Install pre-warms the static store.
type Install struct{}

// Activate removes stale stores.
type Activate struct{}

// Fetch is an intercepted request. Request.URL must be absolute.
type Fetch struct {
	Request *http.Request
}

// Push carries a raw push payload.
type Push struct {
	Data []byte
}

// Message is a JSON command from a page: {"type": ..., "payload": ...}.
type Message struct {
	Data []byte
}

// Sync fires a background sync tag.
type Sync struct {
	Tag string
}

// NotificationClick is a click on a shown notification.
type NotificationClick struct {
	NotificationID string
	Action         string
}

func (Install) Kind() Kind           { return KindInstall }
func (Activate) Kind() Kind          { return KindActivate }
func (Fetch) Kind() Kind             { return KindFetch }
func (Push) Kind() Kind              { return KindPush }
func (Message) Kind() Kind           { return KindMessage }
func (Sync) Kind() Kind              { return KindSync }
func (NotificationClick) Kind() Kind { return KindNotificationClick }

// Outcome is the result of one event. Only the field of the event's kind
// is set.
type Outcome struct {
	// Response answers a Fetch
	Response *http.Response

	// Notification was shown for a Push
	Notification *push.Intent

	// Navigation is where a NotificationClick leads
	Navigation *push.Navigation

	// Cached lists the URLs a CACHE_URLS message stored
	Cached []string
}
