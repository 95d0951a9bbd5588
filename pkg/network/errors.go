package network

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrOffline matches every transport-level failure: the request never
// produced an HTTP response.
var ErrOffline = errors.New("network unavailable")

// ErrorClass represents a classification of fetch outcomes.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"
)

// FetchError describes a failed fetch.
type FetchError struct {
	URL        string
	StatusCode int
	Class      ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s error: %v", e.URL, e.Class, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s error (status %d)", e.URL, e.Class, e.StatusCode)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is makes every network-class FetchError match ErrOffline.
func (e *FetchError) Is(target error) bool {
	return target == ErrOffline && e.Class == ErrorClassNetwork
}

// Classify categorizes a fetch outcome. It returns "" for a 2xx/3xx response.
func Classify(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}
	switch {
	case resp == nil:
		return ErrorClassNetwork
	case resp.StatusCode >= 500:
		return ErrorClassServer
	case resp.StatusCode >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}

// StatusError builds the error of a non-OK response.
func StatusError(resp *http.Response) error {
	if IsOK(resp) {
		return nil
	}
	u := ""
	if resp.Request != nil && resp.Request.URL != nil {
		u = resp.Request.URL.String()
	}
	class := Classify(resp, nil)
	if class == "" {
		// 1xx/3xx that reached us unfollowed
		class = ErrorClassClient
	}
	return &FetchError{URL: u, StatusCode: resp.StatusCode, Class: class}
}

// IsOK reports whether resp is a 2xx response.
func IsOK(resp *http.Response) bool {
	return resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300
}
