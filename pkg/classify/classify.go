// Package classify assigns every intercepted request to exactly one of the
// API, STATIC, NAVIGATION or PASSTHROUGH classifications.
package classify

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Classification selects the fetch strategy of a request.
type Classification string

const (
	// API requests hit the backend REST API.
	API Classification = "api"

	// Static requests load scripts, stylesheets and images.
	Static Classification = "static"

	// Navigation requests load a full page.
	Navigation Classification = "navigation"

	// Passthrough requests go straight to the network, uncached.
	Passthrough Classification = "passthrough"
)

// Rules are the inputs of Classify besides the request itself.
type Rules struct {
	// Origin is the application's own origin.
	Origin *url.URL

	// APIPrefix is the path prefix of API requests (e.g. "/api/").
	APIPrefix string
}

// staticDestinations are Sec-Fetch-Dest values of static resources.
var staticDestinations = map[string]bool{
	"script": true,
	"style":  true,
	"image":  true,
}

// staticExtensions classify requests that carry no Sec-Fetch-Dest header.
var staticExtensions = map[string]bool{
	".js":   true,
	".mjs":  true,
	".css":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".svg":  true,
	".webp": true,
	".ico":  true,
	".avif": true,
	".bmp":  true,
}

// Classify is pure and total: the same request always yields the same
// classification, and every request yields one.
//
// Rules, in order:
//  1. another origin: Passthrough
//  2. path under the API prefix: API
//  3. script, style or image destination: Static
//  4. full-page navigation: Navigation
//  5. anything else: Passthrough
func Classify(r *http.Request, rules Rules) Classification {
	if r == nil || r.URL == nil {
		return Passthrough
	}
	if !SameOrigin(r.URL, rules.Origin) {
		return Passthrough
	}
	if rules.APIPrefix != "" && strings.HasPrefix(r.URL.Path, rules.APIPrefix) {
		return API
	}
	if isStatic(r) {
		return Static
	}
	if isNavigation(r) {
		return Navigation
	}
	return Passthrough
}

// SameOrigin reports whether u belongs to origin by scheme, host and port,
// with default ports made explicit. Relative URLs belong to the origin.
func SameOrigin(u, origin *url.URL) bool {
	if u.Host == "" {
		return true
	}
	if origin == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, origin.Scheme) &&
		strings.EqualFold(u.Hostname(), origin.Hostname()) &&
		port(u) == port(origin)
}

// port returns the explicit port or the scheme's default.
func port(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	}
	return ""
}

func isStatic(r *http.Request) bool {
	if dest := r.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return staticDestinations[dest]
	}
	return staticExtensions[strings.ToLower(path.Ext(r.URL.Path))]
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	switch r.Header.Get("Sec-Fetch-Dest") {
	case "document", "iframe":
		return true
	case "":
	default:
		return false
	}
	if r.Method != http.MethodGet && r.Method != "" {
		return false
	}
	return acceptsHTML(r.Header.Get("Accept"))
}

func acceptsHTML(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
			return true
		}
	}
	return false
}
