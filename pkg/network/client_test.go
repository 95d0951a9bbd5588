package network

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingObserver struct {
	mu   sync.Mutex
	errs []error
}

func (o *recordingObserver) Observe(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{"valid config", DefaultConfig("TestApp/1.0"), false},
		{"empty user agent", Config{Timeout: time.Second}, true},
		{"zero timeout", Config{UserAgent: "TestApp/1.0"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config, zerolog.Nop())
			if (err != nil) != tt.expectError {
				t.Errorf("New() error = %v, expectError %v", err, tt.expectError)
			}
		})
	}
}

func TestClient_Fetch_Success(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	obs := &recordingObserver{}
	cfg := DefaultConfig("TestApp/1.0")
	cfg.Observer = obs
	c, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, server.URL+"/api/courses", nil)
	resp, err := c.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", body)
	}
	if gotUA != "TestApp/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if len(obs.errs) != 1 || obs.errs[0] != nil {
		t.Errorf("observer should see one success, got %v", obs.errs)
	}
}

func TestClient_Fetch_ErrorStatusIsResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c, _ := New(DefaultConfig("TestApp/1.0"), zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, server.URL+"/missing", nil)

	resp, err := c.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("HTTP error status must not be a fetch error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}

	statusErr := StatusError(resp)
	var fe *FetchError
	if !errors.As(statusErr, &fe) {
		t.Fatalf("StatusError should be *FetchError, got %T", statusErr)
	}
	if fe.Class != ErrorClassClient {
		t.Errorf("Class = %s, want client", fe.Class)
	}
	if errors.Is(statusErr, ErrOffline) {
		t.Error("a 404 is not offline")
	}
}

func TestClient_Fetch_Offline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	obs := &recordingObserver{}
	cfg := DefaultConfig("TestApp/1.0")
	cfg.Observer = obs
	c, _ := New(cfg, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, url+"/api/courses", nil)
	resp, err := c.Fetch(context.Background(), req)
	if resp != nil {
		t.Error("no response expected")
	}
	if !errors.Is(err, ErrOffline) {
		t.Errorf("error should match ErrOffline, got %v", err)
	}
	if len(obs.errs) != 1 || obs.errs[0] == nil {
		t.Errorf("observer should see one failure, got %v", obs.errs)
	}
}

func TestClient_Fetch_CancelledContextNotObserved(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	obs := &recordingObserver{}
	cfg := DefaultConfig("TestApp/1.0")
	cfg.Observer = obs
	c, _ := New(cfg, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, server.URL, nil)
	if _, err := c.Fetch(ctx, req); err == nil {
		t.Fatal("expected error from cancelled fetch")
	}
	if len(obs.errs) != 0 {
		t.Errorf("cancelled fetch must not be observed, got %v", obs.errs)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		err  error
		want ErrorClass
	}{
		{"transport error", nil, errors.New("dial"), ErrorClassNetwork},
		{"nil response", nil, nil, ErrorClassNetwork},
		{"200", &http.Response{StatusCode: 200}, nil, ""},
		{"304", &http.Response{StatusCode: 304}, nil, ""},
		{"404", &http.Response{StatusCode: 404}, nil, ErrorClassClient},
		{"503", &http.Response{StatusCode: 503}, nil, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.resp, tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFetchError(t *testing.T) {
	inner := errors.New("connection refused")
	err := &FetchError{URL: "https://x", Class: ErrorClassNetwork, Err: inner}

	if !errors.Is(err, ErrOffline) {
		t.Error("network FetchError should match ErrOffline")
	}
	if !errors.Is(err, inner) {
		t.Error("FetchError should unwrap to inner error")
	}
	if err.Error() == "" {
		t.Error("empty error message")
	}

	server := &FetchError{URL: "https://x", StatusCode: 500, Class: ErrorClassServer}
	if errors.Is(server, ErrOffline) {
		t.Error("server FetchError must not match ErrOffline")
	}
}

func TestIsOK(t *testing.T) {
	if IsOK(nil) {
		t.Error("nil is not OK")
	}
	if !IsOK(&http.Response{StatusCode: 204}) {
		t.Error("204 is OK")
	}
	if IsOK(&http.Response{StatusCode: 301}) {
		t.Error("301 is not OK")
	}
	if StatusError(&http.Response{StatusCode: 200}) != nil {
		t.Error("StatusError of 200 should be nil")
	}
}
