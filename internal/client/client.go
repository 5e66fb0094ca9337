// Package client implements the SMS provider APIs the dispatcher talks to.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/LeventeLantos/promo-dispatch/internal/metrics"
	"github.com/LeventeLantos/promo-dispatch/internal/model"
)

// ErrMalformedRecord marks a single contact that could not be decoded. The
// fetch skips it and keeps streaming.
var ErrMalformedRecord = errors.New("malformed contact record")

// Limiter is the token bucket every network call passes through.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// ContactFunc receives each decoded contact. Returning an error stops the
// fetch and the error is returned to the caller.
type ContactFunc func(model.Contact) error

// FetchStats summarizes a streamed list fetch.
type FetchStats struct {
	Records int
	Skipped int
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status code: %d body=%q", e.Provider, e.Code, e.Body)
}

const maxErrorBody = 4 << 10

func statusError(provider string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Provider: provider, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

func ok(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// call acquires a token and records the outcome of one provider round trip.
func call(ctx context.Context, l Limiter, provider, op string, fn func() error) error {
	start := time.Now()
	err := l.Acquire(ctx)
	if err == nil {
		err = fn()
	}
	metrics.ProviderCalls.WithLabelValues(provider, op, metrics.Result(err)).Inc()
	metrics.ProviderLatency.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
	return err
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// newStreamClient bounds only the wait for response headers.
func newStreamClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = timeout
	tr.IdleConnTimeout = 90 * time.Second
	return &http.Client{Transport: tr}
}
