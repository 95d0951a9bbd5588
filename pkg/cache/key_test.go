package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestKeyFor(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		want   string
	}{
		{
			name:   "simple get",
			method: http.MethodGet,
			url:    "https://lms.example.edu/api/courses",
			want:   "GET https://lms.example.edu/api/courses",
		},
		{
			name:   "query preserved",
			method: http.MethodGet,
			url:    "https://lms.example.edu/api/courses?page=2",
			want:   "GET https://lms.example.edu/api/courses?page=2",
		},
		{
			name:   "fragment dropped",
			method: http.MethodGet,
			url:    "https://lms.example.edu/courses/12#syllabus",
			want:   "GET https://lms.example.edu/courses/12",
		},
		{
			name:   "lower-case method",
			method: "post",
			url:    "https://lms.example.edu/api/assignments",
			want:   "POST https://lms.example.edu/api/assignments",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			req.Method = tt.method
			if got := KeyFor(req).String(); got != tt.want {
				t.Errorf("KeyFor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetKey(t *testing.T) {
	key := GetKey("https://lms.example.edu/a#x")
	if key.Method != http.MethodGet {
		t.Errorf("Method = %s, want GET", key.Method)
	}
	if key.URL != "https://lms.example.edu/a" {
		t.Errorf("URL = %s", key.URL)
	}
}

func TestKey_Cacheable(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodHead} {
		if (Key{Method: method, URL: "https://x"}).Cacheable() {
			t.Errorf("%s should not be cacheable", method)
		}
	}
	if !(Key{Method: http.MethodGet, URL: "https://x"}).Cacheable() {
		t.Error("GET should be cacheable")
	}
}
