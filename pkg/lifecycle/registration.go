package lifecycle

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrNotActive is returned when no version controls traffic yet.
	ErrNotActive = errors.New("no active version")

	// ErrNoWaiting is returned by SkipWaiting without a waiting version.
	ErrNoWaiting = errors.New("no waiting version")
)

// State is the lifecycle state of one version.
type State string

const (
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Installable is one version of the proxy.
type Installable interface {
	Version() string
	Install(ctx context.Context) error
	Activate(ctx context.Context) error
}

// Status reports the versions held by a Registration.
type Status struct {
	Active  string `json:"active,omitempty"`
	Waiting string `json:"waiting,omitempty"`
}

// Registration holds the active version and at most one installed version
// waiting to replace it. Only the active version intercepts requests.
type Registration[W Installable] struct {
	// updateMu serializes Update and SkipWaiting
	updateMu sync.Mutex

	mu         sync.RWMutex
	active     W
	hasActive  bool
	waiting    W
	hasWaiting bool
	states     map[string]State

	logger zerolog.Logger
}

// NewRegistration creates an empty registration.
func NewRegistration[W Installable](logger zerolog.Logger) *Registration[W] {
	return &Registration[W]{
		states: make(map[string]State),
		logger: logger,
	}
}

// Update installs w. Without an active version w activates immediately;
// otherwise it waits until SkipWaiting. A failed install marks w redundant
// and leaves the active version serving. Updating to the active version
// is a no-op.
func (r *Registration[W]) Update(ctx context.Context, w W) error {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	r.mu.RLock()
	same := r.hasActive && r.active.Version() == w.Version()
	r.mu.RUnlock()
	if same {
		r.logger.Debug().Str("version", w.Version()).Msg("Version already active")
		return nil
	}

	r.setState(w.Version(), StateInstalling)
	if err := w.Install(ctx); err != nil {
		r.setState(w.Version(), StateRedundant)
		return err
	}
	r.setState(w.Version(), StateInstalled)

	r.mu.Lock()
	if r.hasWaiting {
		// A newer install replaces the one already waiting
		r.states[r.waiting.Version()] = StateRedundant
	}
	r.waiting, r.hasWaiting = w, true
	hasActive := r.hasActive
	r.mu.Unlock()

	if hasActive {
		r.logger.Info().Str("version", w.Version()).Msg("Installed version waiting for skip-waiting")
		return nil
	}
	return r.activateWaiting(ctx)
}

// SkipWaiting activates the waiting version now.
func (r *Registration[W]) SkipWaiting(ctx context.Context) error {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	r.mu.RLock()
	hasWaiting := r.hasWaiting
	r.mu.RUnlock()
	if !hasWaiting {
		return ErrNoWaiting
	}
	return r.activateWaiting(ctx)
}

// activateWaiting promotes the waiting version. Stale-store deletion
// failures are logged; the version takes control regardless.
func (r *Registration[W]) activateWaiting(ctx context.Context) error {
	r.mu.RLock()
	w := r.waiting
	r.mu.RUnlock()

	r.setState(w.Version(), StateActivating)
	if err := w.Activate(ctx); err != nil {
		r.logger.Warn().Err(err).Str("version", w.Version()).Msg("Activation cleanup incomplete")
	}

	r.mu.Lock()
	if r.hasActive {
		r.states[r.active.Version()] = StateRedundant
	}
	r.active, r.hasActive = w, true
	var zero W
	r.waiting, r.hasWaiting = zero, false
	r.states[w.Version()] = StateActivated
	r.mu.Unlock()

	// Claim: every request from now on is served by w
	r.logger.Info().Str("version", w.Version()).Msg("Version controls all clients")
	return nil
}

// Controller returns the active version.
func (r *Registration[W]) Controller() (W, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.hasActive {
		var zero W
		return zero, ErrNotActive
	}
	return r.active, nil
}

// State returns the lifecycle state of a version ("" if unknown).
func (r *Registration[W]) State(version string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[version]
}

// Status returns the active and waiting versions.
func (r *Registration[W]) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s Status
	if r.hasActive {
		s.Active = r.active.Version()
	}
	if r.hasWaiting {
		s.Waiting = r.waiting.Version()
	}
	return s
}

func (r *Registration[W]) setState(version string, state State) {
	r.mu.Lock()
	r.states[version] = state
	r.mu.Unlock()
	r.logger.Debug().Str("version", version).Str("state", string(state)).Msg("Lifecycle state")
}
