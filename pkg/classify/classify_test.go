package classify

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func testRules(t *testing.T) Rules {
	t.Helper()
	origin, err := url.Parse("https://lms.example.edu")
	if err != nil {
		t.Fatal(err)
	}
	return Rules{Origin: origin, APIPrefix: "/api/"}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		url     string
		headers map[string]string
		want    Classification
	}{
		{
			name: "cross-origin api path",
			url:  "https://cdn.example.com/api/courses",
			want: Passthrough,
		},
		{
			name:    "cross-origin script",
			url:     "https://cdn.example.com/app.js",
			headers: map[string]string{"Sec-Fetch-Dest": "script"},
			want:    Passthrough,
		},
		{
			name: "api get",
			url:  "https://lms.example.edu/api/courses",
			want: API,
		},
		{
			name: "explicit default port",
			url:  "https://lms.example.edu:443/api/courses",
			want: API,
		},
		{
			name: "other port",
			url:  "https://lms.example.edu:8443/api/courses",
			want: Passthrough,
		},
		{
			name: "other scheme",
			url:  "http://lms.example.edu/api/courses",
			want: Passthrough,
		},
		{
			name:   "api post",
			method: http.MethodPost,
			url:    "https://lms.example.edu/api/assignments",
			want:   API,
		},
		{
			name:    "api wins over navigation",
			url:     "https://lms.example.edu/api/courses",
			headers: map[string]string{"Sec-Fetch-Mode": "navigate"},
			want:    API,
		},
		{
			name:    "script destination",
			url:     "https://lms.example.edu/static/js/bundle.js",
			headers: map[string]string{"Sec-Fetch-Dest": "script"},
			want:    Static,
		},
		{
			name:    "style destination",
			url:     "https://lms.example.edu/static/css/main.css",
			headers: map[string]string{"Sec-Fetch-Dest": "style"},
			want:    Static,
		},
		{
			name:    "image destination",
			url:     "https://lms.example.edu/avatar",
			headers: map[string]string{"Sec-Fetch-Dest": "image"},
			want:    Static,
		},
		{
			name: "image by extension",
			url:  "https://lms.example.edu/logo192.png",
			want: Static,
		},
		{
			name:    "font destination",
			url:     "https://lms.example.edu/fonts/a.woff2",
			headers: map[string]string{"Sec-Fetch-Dest": "font"},
			want:    Passthrough,
		},
		{
			name:    "navigate mode",
			url:     "https://lms.example.edu/courses/12",
			headers: map[string]string{"Sec-Fetch-Mode": "navigate", "Sec-Fetch-Dest": "document"},
			want:    Navigation,
		},
		{
			name:    "html accept without fetch metadata",
			url:     "https://lms.example.edu/courses",
			headers: map[string]string{"Accept": "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"},
			want:    Navigation,
		},
		{
			name:    "html accept on post is not navigation",
			method:  http.MethodPost,
			url:     "https://lms.example.edu/login",
			headers: map[string]string{"Accept": "text/html"},
			want:    Passthrough,
		},
		{
			name:    "json fetch outside api",
			url:     "https://lms.example.edu/manifest.json",
			headers: map[string]string{"Accept": "application/json"},
			want:    Passthrough,
		},
		{
			name: "relative url is same origin",
			url:  "/api/courses",
			want: API,
		},
	}

	rules := testRules(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req := httptest.NewRequest(method, "https://lms.example.edu/", nil)
			u, err := url.Parse(tt.url)
			if err != nil {
				t.Fatal(err)
			}
			req.URL = u
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			if got := Classify(req, rules); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
			// Deterministic
			if again := Classify(req, rules); again != tt.want {
				t.Errorf("second Classify() = %s, want %s", again, tt.want)
			}
		})
	}
}

func TestClassify_Total(t *testing.T) {
	rules := testRules(t)

	if got := Classify(nil, rules); got != Passthrough {
		t.Errorf("Classify(nil) = %s, want passthrough", got)
	}
	if got := Classify(&http.Request{}, rules); got != Passthrough {
		t.Errorf("Classify(no URL) = %s, want passthrough", got)
	}

	req := httptest.NewRequest(http.MethodGet, "https://lms.example.edu/x", nil)
	if got := Classify(req, Rules{}); got != Passthrough {
		t.Errorf("absolute URL without origin rule = %s, want passthrough", got)
	}
}

func TestSameOrigin_DefaultPorts(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"http://lms.test", "http://lms.test:80", true},
		{"https://LMS.test:443", "https://lms.test", true},
		{"http://lms.test:8080", "http://lms.test:8080", true},
		{"http://lms.test:8080", "http://lms.test", false},
		{"http://lms.test:443", "https://lms.test", false},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			a, _ := url.Parse(tt.a)
			b, _ := url.Parse(tt.b)
			if got := SameOrigin(a, b); got != tt.want {
				t.Errorf("SameOrigin(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
