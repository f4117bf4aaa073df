// Package source holds plumbing shared by the upstream API clients:
// a pooled HTTP client with a fixed per-request timeout and a jittered
// exponential retry policy for transient network failures.
package source

import (
	"net/http"
	"time"
)

// NewHTTPClient builds the shared client. Connection reuse matters here:
// one crawl issues thousands of requests against the same two hosts.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 32
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
