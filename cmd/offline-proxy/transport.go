package main

import (
	"net/http"
	"net/url"

	"github.com/Sternrassler/lms-offline-proxy/pkg/classify"
)

// upstreamTransport sends requests for the public origin to the upstream
// LMS server. Requests for any other host go out unchanged.
type upstreamTransport struct {
	origin   *url.URL
	upstream *url.URL
	base     http.RoundTripper
}

func (t *upstreamTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !classify.SameOrigin(req.URL, t.origin) {
		return t.base.RoundTrip(req)
	}

	out := req.Clone(req.Context())
	out.URL.Scheme = t.upstream.Scheme
	out.URL.Host = t.upstream.Host
	out.Host = ""
	return t.base.RoundTrip(out)
}
