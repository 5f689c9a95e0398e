package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// request is an immutable description of one call. Retrying copies it with attempt+1;
// nothing is stamped onto a shared object.
type request struct {
	method   string
	path     string
	query    url.Values
	header   http.Header
	body     []byte
	expected []int
	noAuth   bool
	noRenew  bool
	attempt  int
}

// renewable reports whether a 401 on this request may enter the renewal path.
func (r request) renewable() bool {
	return !r.noRenew && r.attempt == 0
}

// RequestOption customises a single call.
type RequestOption func(*request)

// WithQuery merges q into the request's query string.
func WithQuery(q url.Values) RequestOption {
	return func(r *request) {
		if r.query == nil {
			r.query = url.Values{}
		}
		for k, vs := range q {
			for _, v := range vs {
				r.query.Add(k, v)
			}
		}
	}
}

func WithHeader(key, value string) RequestOption {
	return func(r *request) {
		if r.header == nil {
			r.header = http.Header{}
		}
		r.header.Set(key, value)
	}
}

func WithContentType(contentType string) RequestOption {
	return WithHeader("Content-Type", contentType)
}

// WithExpectedStatus restricts success to the given codes. By default any 2xx succeeds.
func WithExpectedStatus(codes ...int) RequestOption {
	return func(r *request) {
		r.expected = append(r.expected, codes...)
	}
}

// WithoutAuth never attaches the bearer token.
func WithoutAuth() RequestOption {
	return func(r *request) { r.noAuth = true }
}

// WithoutRenewal makes a 401 final for this call.
func WithoutRenewal() RequestOption {
	return func(r *request) { r.noRenew = true }
}

// Option configures NewClient.
type Option func(*apiClient)

// WithRenewTimeout bounds every renewal call. Waiters fail with ErrAuthFailed when it elapses.
func WithRenewTimeout(d time.Duration) Option {
	return func(c *apiClient) {
		if d > 0 {
			c.renewTimeout = d
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *apiClient) { c.log = log }
}

// WithClock overrides time.Now, used to compute token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *apiClient) { c.now = now }
}
