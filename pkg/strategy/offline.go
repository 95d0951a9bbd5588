package strategy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HeaderFallback names the fallback level that produced a response
// ("cache", "root" or "synthetic"). Live network responses carry none.
const HeaderFallback = "X-Offline-Fallback"

// OfflineAPIBody is the body of the synthetic offline API response.
type OfflineAPIBody struct {
	Error     string `json:"error"`
	Offline   bool   `json:"offline"`
	Timestamp int64  `json:"timestamp"`
}

// offlinePage is served when a navigation misses every fallback level.
const offlinePage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Offline - LMS University</title>
<style>
body{font-family:system-ui,sans-serif;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0;background:#f5f5f5;color:#333}
main{text-align:center;padding:2rem}
button{margin-top:1rem;padding:.6rem 1.4rem;font-size:1rem;border:0;border-radius:4px;background:#1976d2;color:#fff;cursor:pointer}
</style>
</head>
<body>
<main>
<h1>You're offline</h1>
<p>This page isn't available without a network connection.</p>
<button type="button" onclick="window.location.reload()">Try again</button>
</main>
</body>
</html>
`

// OfflineAPIResponse builds the 503 JSON response returned when an API
// GET has neither network nor cache.
func OfflineAPIResponse(req *http.Request, now time.Time) *http.Response {
	body, _ := json.Marshal(OfflineAPIBody{
		Error:     "Network unavailable",
		Offline:   true,
		Timestamp: now.UnixMilli(),
	})
	return synthetic(req, http.StatusServiceUnavailable, "application/json", body)
}

// OfflinePageResponse builds the 200 HTML response returned when a
// navigation misses the network and every cache level.
func OfflinePageResponse(req *http.Request) *http.Response {
	return synthetic(req, http.StatusOK, "text/html; charset=utf-8", []byte(offlinePage))
}

func synthetic(req *http.Request, status int, contentType string, body []byte) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set("Cache-Control", "no-store")
	header.Set(HeaderFallback, "synthetic")

	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
