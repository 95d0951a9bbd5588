// Package testutil provides testing utilities for the offline proxy.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock origin endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockOrigin is a configurable mock LMS origin for testing. While offline,
// every connection is dropped without a response, which clients see as a
// transport error.
type MockOrigin struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	offline  bool

	// Tracking
	RequestCount int
	PathCounts   map[string]int
	LastRequest  http.Header
}

// NewMockOrigin creates a new mock origin server.
func NewMockOrigin() *MockOrigin {
	mock := &MockOrigin{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		PathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		offline := mock.offline
		if !offline {
			mock.RequestCount++
			mock.PathCounts[r.URL.Path]++
			mock.LastRequest = r.Header.Clone()
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if offline {
			drop(w)
			return
		}
		if exists {
			handler(w, r)
			return
		}
		http.NotFound(w, r)
	}))

	return mock
}

// drop closes the connection without writing a response.
func drop(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("testutil: response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}

// URL returns the mock server URL.
func (m *MockOrigin) URL() string {
	return m.server.URL
}

// Client returns an HTTP client for the mock server.
func (m *MockOrigin) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockOrigin) Close() {
	m.server.Close()
}

// SetOffline toggles connection dropping.
func (m *MockOrigin) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
	if offline {
		m.server.CloseClientConnections()
	}
}

// Reset clears all tracking counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.PathCounts = make(map[string]int)
	m.LastRequest = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockOrigin) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockOrigin) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests answered by the server.
func (m *MockOrigin) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of answered requests for one path.
func (m *MockOrigin) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PathCounts[path]
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewHTMLResponse creates a 200 OK HTML response.
func NewHTMLResponse(doc string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       doc,
		Headers: map[string]string{
			"Content-Type": "text/html; charset=utf-8",
		},
	}
}

// NewAssetResponse creates a 200 OK response with the given content type.
func NewAssetResponse(contentType, body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type":  contentType,
			"Cache-Control": "public, max-age=31536000",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       "not found",
		Headers: map[string]string{
			"Content-Type": "text/plain; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
