package common

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// RequestIDHeader is set on every outbound request so server logs can be correlated.
const RequestIDHeader = "X-Request-ID"

// HttpClient is the transport used by the API client.
// This allows mocking or custom transport layers in testing.
type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
	// Jar returns the cookie jar holding the renewal cookie, or nil.
	Jar() http.CookieJar
	CloseIdleConnections()
}

// HttpClientOptions configures NewHttpClient. Zero values pick the defaults.
type HttpClientOptions struct {
	UserAgent string
	Timeout   time.Duration
	// RateLimit caps outbound requests per second. Zero disables limiting.
	RateLimit float64
	Burst     int
	// Base is wrapped instead of a fresh *http.Client when set.
	Base *http.Client
}

const (
	defaultUserAgent = "qualityapi-go"
	defaultTimeout   = 30 * time.Second
)

// userAgentRoundTripper is a custom RoundTripper that adds a User-Agent and a request ID.
type userAgentRoundTripper struct {
	Wrapped   http.RoundTripper
	UserAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone request to avoid mutating the original
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", rt.UserAgent)
	if clone.Header.Get(RequestIDHeader) == "" {
		clone.Header.Set(RequestIDHeader, uuid.New().String())
	}
	return rt.Wrapped.RoundTrip(clone)
}

// rateLimitRoundTripper blocks until the limiter grants a token or the request context ends.
type rateLimitRoundTripper struct {
	Wrapped http.RoundTripper
	Limiter *rate.Limiter
}

func (rt *rateLimitRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := rt.Limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return rt.Wrapped.RoundTrip(req)
}

type httpClient struct {
	client *http.Client
}

// NewHttpClient returns an HttpClient with a cookie jar (so the renewal cookie set by
// login/refresh is sent back automatically), a User-Agent, and optional rate limiting.
func NewHttpClient(opts HttpClientOptions) (HttpClient, error) {
	base := opts.Base
	if base == nil {
		base = &http.Client{}
	}
	if base.Transport == nil {
		base.Transport = http.DefaultTransport
	}
	if base.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		base.Jar = jar
	}

	transport := base.Transport
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		transport = &rateLimitRoundTripper{
			Wrapped: transport,
			Limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), burst),
		}
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	base.Transport = &userAgentRoundTripper{
		Wrapped:   transport,
		UserAgent: ua,
	}

	base.Timeout = opts.Timeout
	if base.Timeout <= 0 {
		base.Timeout = defaultTimeout
	}

	return &httpClient{client: base}, nil
}

func (h *httpClient) Do(req *http.Request) (*http.Response, error) {
	return h.client.Do(req)
}

func (h *httpClient) Jar() http.CookieJar {
	return h.client.Jar
}

func (h *httpClient) CloseIdleConnections() {
	h.client.CloseIdleConnections()
}
