package push

import (
	"context"
	"fmt"

	"github.com/Sternrassler/lms-offline-proxy/pkg/config"
	"github.com/rs/zerolog"
)

// Click is a user interaction with a notification. Action is empty when
// the notification body itself was clicked.
type Click struct {
	NotificationID string `json:"notificationId"`
	Action         string `json:"action"`
}

// Navigation is the window a click opens. Open is false when the click
// only dismisses the notification.
type Navigation struct {
	Open bool   `json:"open"`
	URL  string `json:"url,omitempty"`
}

// Router decides where a notification click leads.
type Router struct {
	notifier  Notifier
	dashboard string
	root      string
	logger    zerolog.Logger
}

// NewRouter creates a Router for cfg's dashboard and root paths.
func NewRouter(cfg config.Config, notifier Notifier, logger zerolog.Logger) (*Router, error) {
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	dashboard, err := cfg.Resolve(cfg.DashboardPath)
	if err != nil {
		return nil, err
	}
	root, err := cfg.Resolve(cfg.RootPath)
	if err != nil {
		return nil, err
	}
	return &Router{notifier: notifier, dashboard: dashboard, root: root, logger: logger}, nil
}

// Click closes the notification, then maps the action: explore opens the
// dashboard, close opens nothing, anything else opens the root page.
// A failed close is logged and does not block navigation.
func (r *Router) Click(ctx context.Context, c Click) Navigation {
	if err := r.notifier.Close(ctx, c.NotificationID); err != nil {
		r.logger.Warn().Err(err).Str("notification_id", c.NotificationID).Msg("Failed to close notification")
	}

	var nav Navigation
	switch c.Action {
	case ActionExplore:
		nav = Navigation{Open: true, URL: r.dashboard}
	case ActionClose:
	default:
		nav = Navigation{Open: true, URL: r.root}
	}

	r.logger.Debug().
		Str("notification_id", c.NotificationID).
		Str("action", c.Action).
		Str("url", nav.URL).
		Msg("Notification clicked")
	return nav
}
