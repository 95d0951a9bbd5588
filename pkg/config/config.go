// Package config holds the injectable configuration of the offline proxy:
// cache store names, the version suffix, the install manifest and the
// background-sync allowlist.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrInvalid is returned by Validate for an unusable configuration.
var ErrInvalid = errors.New("invalid config")

// Config is passed to every component constructor. Two Configs with
// different names or versions describe fully isolated proxies.
type Config struct {
	// Logical store names. The versioned store name is "<name>-<version>".
	StaticName  string
	DynamicName string
	APIName     string

	// Version is embedded in every store name. Bumping it discards all
	// entries of the previous version on activation.
	Version string

	// Origin is the application's own origin (scheme://host[:port]).
	// Requests to any other origin are never intercepted.
	Origin string

	// APIPrefix selects the API classification (e.g. "/api/").
	APIPrefix string

	// Manifest is the install-time pre-warm list (origin-relative paths).
	Manifest []string

	// SyncEndpoints are refreshed by the background sync task.
	SyncEndpoints []string

	// RootPath is the navigation fallback (level b) and the default
	// notification click target.
	RootPath string

	// DashboardPath is opened by the "explore" notification action.
	DashboardPath string

	// DynamicMaxEntries bounds the dynamic store (LRU). Zero disables the bound.
	DynamicMaxEntries int

	// RequestTimeout bounds every outbound fetch.
	RequestTimeout time.Duration
}

// Default returns the LMS defaults.
func Default() Config {
	return Config{
		StaticName:  "lms-static",
		DynamicName: "lms-dynamic",
		APIName:     "lms-api",
		Version:     "v1",
		Origin:      "http://localhost:3000",
		APIPrefix:   "/api/",
		Manifest: []string{
			"/",
			"/static/js/bundle.js",
			"/static/css/main.css",
			"/manifest.json",
			"/favicon.ico",
			"/logo192.png",
			"/logo512.png",
		},
		SyncEndpoints: []string{
			"/api/auth/profile",
			"/api/courses",
			"/api/assignments",
			"/api/notifications",
		},
		RootPath:          "/",
		DashboardPath:     "/dashboard",
		DynamicMaxEntries: 100,
		RequestTimeout:    15 * time.Second,
	}
}

// Names is the set of versioned store names for one Config.
type Names struct {
	Static  string
	Dynamic string
	API     string
}

// All returns the three store names.
func (n Names) All() []string {
	return []string{n.Static, n.Dynamic, n.API}
}

// Names returns the versioned store names.
func (c Config) Names() Names {
	return Names{
		Static:  versioned(c.StaticName, c.Version),
		Dynamic: versioned(c.DynamicName, c.Version),
		API:     versioned(c.APIName, c.Version),
	}
}

// Recognized reports whether name is one of the current version's stores.
// Everything else is garbage once activation completes.
func (c Config) Recognized(name string) bool {
	for _, n := range c.Names().All() {
		if n == name {
			return true
		}
	}
	return false
}

// OriginURL parses Origin.
func (c Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("%w: origin: %v", ErrInvalid, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: origin %q must be absolute", ErrInvalid, c.Origin)
	}
	return u, nil
}

// Resolve turns an origin-relative path into an absolute URL string.
// Absolute URLs are returned unchanged.
func (c Config) Resolve(ref string) (string, error) {
	base, err := c.OriginURL()
	if err != nil {
		return "", err
	}
	u, err := base.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", ref, err)
	}
	return u.String(), nil
}

// Validate checks required fields.
func (c Config) Validate() error {
	switch {
	case c.StaticName == "", c.DynamicName == "", c.APIName == "":
		return fmt.Errorf("%w: store names are required", ErrInvalid)
	case c.Version == "":
		return fmt.Errorf("%w: version is required", ErrInvalid)
	case c.StaticName == c.DynamicName, c.StaticName == c.APIName, c.DynamicName == c.APIName:
		return fmt.Errorf("%w: store names must be distinct", ErrInvalid)
	case !strings.HasPrefix(c.APIPrefix, "/"):
		return fmt.Errorf("%w: api prefix %q must start with /", ErrInvalid, c.APIPrefix)
	case c.DynamicMaxEntries < 0:
		return fmt.Errorf("%w: dynamic max entries must be >= 0 (got %d)", ErrInvalid, c.DynamicMaxEntries)
	}
	if _, err := c.OriginURL(); err != nil {
		return err
	}
	return nil
}

func versioned(name, version string) string {
	return name + "-" + version
}
