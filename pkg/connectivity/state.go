// Package connectivity tracks whether the upstream network is reachable,
// judging from the outcome of the proxy's own fetches.
package connectivity

import (
	"time"
)

// Redis keys for the shared connectivity state.
const (
	RedisKeyOnline     = "offline:connectivity:online"
	RedisKeySince      = "offline:connectivity:since"
	RedisKeyLastError  = "offline:connectivity:last_error"
	RedisKeyLastUpdate = "offline:connectivity:last_update"
)

// DefaultFailureThreshold is the number of consecutive transport failures
// after which the network is considered down.
const DefaultFailureThreshold = 1

// State is a snapshot of the tracked connectivity.
type State struct {
	// Online is false once FailureThreshold consecutive fetches failed.
	Online bool `json:"online"`

	// Since is when Online last changed.
	Since time.Time `json:"since"`

	// ConsecutiveFailures counts transport failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastError is the most recent transport error, if any.
	LastError string `json:"last_error,omitempty"`

	// LastUpdate is when the last outcome was observed.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if no outcome was observed within maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Downtime returns how long the network has been down (0 when online).
func (s *State) Downtime() time.Duration {
	if s.Online || s.Since.IsZero() {
		return 0
	}
	return time.Since(s.Since)
}
