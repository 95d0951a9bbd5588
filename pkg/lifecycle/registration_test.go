package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type fakeVersion struct {
	version     string
	installErr  error
	activateErr error
	installs    int
	activations int
}

func (f *fakeVersion) Version() string { return f.version }

func (f *fakeVersion) Install(context.Context) error {
	f.installs++
	return f.installErr
}

func (f *fakeVersion) Activate(context.Context) error {
	f.activations++
	return f.activateErr
}

func TestRegistration_FirstUpdateActivates(t *testing.T) {
	reg := NewRegistration[*fakeVersion](zerolog.Nop())

	if _, err := reg.Controller(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}

	v1 := &fakeVersion{version: "v1"}
	if err := reg.Update(context.Background(), v1); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	active, err := reg.Controller()
	if err != nil || active != v1 {
		t.Fatalf("Controller() = %v, %v; want v1", active, err)
	}
	if v1.activations != 1 {
		t.Errorf("activations = %d, want 1", v1.activations)
	}
	if got := reg.State("v1"); got != StateActivated {
		t.Errorf("state = %s, want activated", got)
	}
}

func TestRegistration_UpdateWaitsForSkipWaiting(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistration[*fakeVersion](zerolog.Nop())

	v1 := &fakeVersion{version: "v1"}
	v2 := &fakeVersion{version: "v2"}
	reg.Update(ctx, v1)

	if err := reg.Update(ctx, v2); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if active, _ := reg.Controller(); active != v1 {
		t.Error("v1 should keep control until skip-waiting")
	}
	if got := reg.State("v2"); got != StateInstalled {
		t.Errorf("v2 state = %s, want installed", got)
	}
	if s := reg.Status(); s.Active != "v1" || s.Waiting != "v2" {
		t.Errorf("Status() = %+v", s)
	}

	if err := reg.SkipWaiting(ctx); err != nil {
		t.Fatalf("SkipWaiting failed: %v", err)
	}
	if active, _ := reg.Controller(); active != v2 {
		t.Error("v2 should control after skip-waiting")
	}
	if got := reg.State("v1"); got != StateRedundant {
		t.Errorf("v1 state = %s, want redundant", got)
	}
	if s := reg.Status(); s.Waiting != "" {
		t.Errorf("no version should be waiting, got %q", s.Waiting)
	}

	if err := reg.SkipWaiting(ctx); !errors.Is(err, ErrNoWaiting) {
		t.Errorf("expected ErrNoWaiting, got %v", err)
	}
}

func TestRegistration_SameVersionIsNoop(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistration[*fakeVersion](zerolog.Nop())

	v1 := &fakeVersion{version: "v1"}
	reg.Update(ctx, v1)

	again := &fakeVersion{version: "v1"}
	if err := reg.Update(ctx, again); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if again.installs != 0 {
		t.Error("reinstalling the active version should be skipped")
	}
}

func TestRegistration_NewerInstallReplacesWaiting(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistration[*fakeVersion](zerolog.Nop())

	reg.Update(ctx, &fakeVersion{version: "v1"})
	reg.Update(ctx, &fakeVersion{version: "v2"})
	reg.Update(ctx, &fakeVersion{version: "v3"})

	if got := reg.State("v2"); got != StateRedundant {
		t.Errorf("v2 state = %s, want redundant", got)
	}
	if s := reg.Status(); s.Waiting != "v3" {
		t.Errorf("waiting = %q, want v3", s.Waiting)
	}
}

func TestRegistration_ActivateErrorStillTakesControl(t *testing.T) {
	reg := NewRegistration[*fakeVersion](zerolog.Nop())
	v1 := &fakeVersion{version: "v1", activateErr: errors.New("delete lms-api-v0: locked")}

	if err := reg.Update(context.Background(), v1); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if active, _ := reg.Controller(); active != v1 {
		t.Error("cleanup failures must not block activation")
	}
}
