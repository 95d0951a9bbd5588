package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HeaderCachedAt marks responses served from a store. The value is the
// capture time in RFC 1123 format.
const HeaderCachedAt = "X-Offline-Cached-At"

// ResponseToEntry converts an HTTP response to an Entry.
// The response body is restored after reading.
func ResponseToEntry(resp *http.Response) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		resp.Body.Close()
	}

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := &Entry{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Body:       body,
		CachedAt:   time.Now(),
	}
	if entry.Header == nil {
		entry.Header = http.Header{}
	}
	if resp.Request != nil && resp.Request.URL != nil {
		entry.URL = normalizeURL(resp.Request.URL)
	}

	return entry, nil
}

// EntryToResponse rebuilds an HTTP response from an entry. Each call gets
// its own body reader, so one entry can serve any number of responses.
func EntryToResponse(entry *Entry, req *http.Request) *http.Response {
	header := entry.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(HeaderCachedAt, entry.CachedAt.UTC().Format(http.TimeFormat))

	status := entry.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode))
	}
	header.Set("Content-Length", strconv.Itoa(len(entry.Body)))

	return &http.Response{
		Status:        status,
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}
}

// FromCache reports whether a response was served from a store.
func FromCache(resp *http.Response) bool {
	return resp != nil && resp.Header.Get(HeaderCachedAt) != ""
}
