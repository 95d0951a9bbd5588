package cache

import (
	"net/http"
	"net/url"
	"strings"
)

// Key identifies an entry inside one named store.
type Key struct {
	// Method is the upper-case request method
	Method string

	// URL is the absolute request URL without fragment
	URL string
}

// KeyFor builds the key of a request.
func KeyFor(r *http.Request) Key {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	return Key{
		Method: strings.ToUpper(method),
		URL:    normalizeURL(r.URL),
	}
}

// GetKey builds the GET key for a raw URL. Unparseable URLs are used verbatim.
func GetKey(rawURL string) Key {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Key{Method: http.MethodGet, URL: rawURL}
	}
	return Key{Method: http.MethodGet, URL: normalizeURL(u)}
}

// Cacheable reports whether the key may be written. Only GET is ever cached.
func (k Key) Cacheable() bool {
	return k.Method == http.MethodGet
}

// String generates a deterministic key string.
// Format: METHOD absolute-url
//
// Example:
//
//	GET https://lms.example.edu/api/courses?page=2
func (k Key) String() string {
	return k.Method + " " + k.URL
}

func normalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}
