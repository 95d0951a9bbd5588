package cache

import (
	"net/http"
	"time"
)

// Entry is an immutable snapshot of a response captured at write time.
// Entries are never mutated after a Put; a later Put for the same key
// replaces the whole entry.
type Entry struct {
	// URL is the absolute URL the response was fetched from
	URL string `json:"url"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Status is the status line text (e.g. "200 OK")
	Status string `json:"status"`

	// Header holds the response headers
	Header http.Header `json:"header"`

	// Body is the response body
	Body []byte `json:"body"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// Age returns how long ago the entry was captured.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CachedAt)
}

// OK reports whether the snapshot holds a 2xx response.
func (e *Entry) OK() bool {
	return e.StatusCode >= 200 && e.StatusCode < 300
}

// Clone returns a deep copy so backends never share memory with callers.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Header = e.Header.Clone()
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	return &c
}
