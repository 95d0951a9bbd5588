// Package push turns push payloads into notification intents, shows them
// through a Notifier and routes notification clicks.
package push

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTitle is used when the payload carries no title.
	DefaultTitle = "LMS University"

	// DefaultBody is used when the payload carries no body.
	DefaultBody = "You have new notifications"

	// ActionExplore opens the dashboard.
	ActionExplore = "explore"

	// ActionClose dismisses the notification.
	ActionClose = "close"

	defaultIcon = "/logo192.png"
)

// Action is a button on a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Intent describes a notification to display.
type Intent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Icon      string    `json:"icon"`
	Badge     string    `json:"badge"`
	Vibrate   []int     `json:"vibrate"`
	Actions   []Action  `json:"actions"`
	Timestamp time.Time `json:"timestamp"`
}

type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Parse builds an Intent from a push payload. Missing, empty or
// malformed fields fall back to the defaults; Parse never fails.
func Parse(data []byte) Intent {
	var p payload
	// Malformed payloads still produce a notification
	_ = json.Unmarshal(data, &p)

	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = DefaultTitle
	}
	body := strings.TrimSpace(p.Body)
	if body == "" {
		body = DefaultBody
	}

	return Intent{
		ID:      uuid.NewString(),
		Title:   title,
		Body:    body,
		Icon:    defaultIcon,
		Badge:   defaultIcon,
		Vibrate: []int{100, 50, 100},
		Actions: []Action{
			{Action: ActionExplore, Title: "View Details", Icon: defaultIcon},
			{Action: ActionClose, Title: "Close", Icon: defaultIcon},
		},
		Timestamp: time.Now(),
	}
}
