// Package httpclient provides the shared *http.Client plumbing used by the
// marketplace client (C3) and the settlement facilitator client.
package httpclient

import (
	"net/http"
	"time"
)

// WithTimeout returns a shallow copy of base with its Timeout set.
// Safe for shared clients because the caller-provided instance is never mutated.
func WithTimeout(base *http.Client, timeout time.Duration, force bool) *http.Client {
	if base == nil {
		return &http.Client{Timeout: timeout}
	}
	copied := *base
	if copied.Timeout == 0 || force {
		copied.Timeout = timeout
	}
	return &copied
}

// New builds an *http.Client with the standard per-request timeout from
// spec §5 (default 30s hard per-request timeout).
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
