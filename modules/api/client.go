package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/guarzo/qualityapi/common"
	"github.com/guarzo/qualityapi/common/model"
	"github.com/guarzo/qualityapi/modules/session"
)

// Client issues calls against the dashboard API, attaching the session's bearer token
// and renewing it transparently when the server answers 401.
type Client interface {
	Request(ctx context.Context, method, path string, body io.Reader, opts ...RequestOption) ([]byte, error)
	GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error
	PostJSON(ctx context.Context, path string, in, out interface{}, opts ...RequestOption) error
	PatchJSON(ctx context.Context, path string, in, out interface{}) error
	Delete(ctx context.Context, path string) error
	Download(ctx context.Context, path string, query url.Values, w io.Writer) (int64, error)
	Upload(ctx context.Context, path, field, filename string, content io.Reader, query url.Values) ([]byte, error)

	Login(ctx context.Context, email, password string) (*model.Profile, error)
	Refresh(ctx context.Context) error
	Logout(ctx context.Context) error
	Session() *session.Store
}

const (
	loginPath   = "/auth/login"
	refreshPath = "/auth/refresh"
	logoutPath  = "/auth/logout"

	renewFlightKey      = "renew"
	defaultRenewTimeout = 15 * time.Second
)

type apiClient struct {
	baseURL    string
	httpClient common.HttpClient
	session    *session.Store
	renewer    common.TokenRenewer

	// flight holds at most one in-flight renewal; joiners share its result.
	flight       singleflight.Group
	renewTimeout time.Duration

	log zerolog.Logger
	now func() time.Time
}

var (
	_ Client              = (*apiClient)(nil)
	_ common.TokenRenewer = (*apiClient)(nil)
)

// NewClient creates a Client rooted at baseURL. When renewer is nil the client renews by
// POSTing to /auth/refresh with the cookie jar's renewal cookie.
func NewClient(baseURL string, httpClient common.HttpClient, store *session.Store, renewer common.TokenRenewer, opts ...Option) Client {
	c := &apiClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   httpClient,
		session:      store,
		renewer:      renewer,
		renewTimeout: defaultRenewTimeout,
		log:          zerolog.Nop(),
		now:          time.Now,
	}
	if c.session == nil {
		c.session = session.NewStore()
	}
	if c.renewer == nil {
		c.renewer = c
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *apiClient) Session() *session.Store {
	return c.session
}

// Request performs method on path. The body is read once so the call can be replayed
// after a renewal.
func (c *apiClient) Request(ctx context.Context, method, path string, body io.Reader, opts ...RequestOption) ([]byte, error) {
	r := request{method: method, path: path}
	if body != nil {
		b, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		r.body = b
	}
	for _, opt := range opts {
		opt(&r)
	}
	return c.do(ctx, r)
}

// GetJSON retrieves path and unmarshals the response into out.
func (c *apiClient) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	data, err := c.do(ctx, request{method: http.MethodGet, path: path, query: query})
	if err != nil {
		return err
	}
	return decode(data, out)
}

// PostJSON marshals in (when non-nil) and unmarshals the response into out (when non-nil).
func (c *apiClient) PostJSON(ctx context.Context, path string, in, out interface{}, opts ...RequestOption) error {
	return c.sendJSON(ctx, http.MethodPost, path, in, out, opts...)
}

func (c *apiClient) PatchJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.sendJSON(ctx, http.MethodPatch, path, in, out)
}

func (c *apiClient) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, request{method: http.MethodDelete, path: path})
	return err
}

// Download fetches a file (CSV exports) through the same renewal path and writes it to w.
func (c *apiClient) Download(ctx context.Context, path string, query url.Values, w io.Writer) (int64, error) {
	data, err := c.do(ctx, request{method: http.MethodGet, path: path, query: query})
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	if err != nil {
		return int64(n), fmt.Errorf("failed to write download: %w", err)
	}
	return int64(n), nil
}

// Upload posts content as a multipart form with a single file field.
func (c *apiClient) Upload(ctx context.Context, path, field, filename string, content io.Reader, query url.Values) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err = io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("failed to read upload content: %w", err)
	}
	if err = mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}
	r := request{
		method: http.MethodPost,
		path:   path,
		query:  query,
		body:   buf.Bytes(),
	}
	WithContentType(mw.FormDataContentType())(&r)
	return c.do(ctx, r)
}

func (c *apiClient) sendJSON(ctx context.Context, method, path string, in, out interface{}, opts ...RequestOption) error {
	r := request{method: method, path: path}
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		r.body = b
	}
	for _, opt := range opts {
		opt(&r)
	}
	data, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(data, out)
}

// do is the core: send, and on a first 401 renew (or join a renewal) and retry once.
func (c *apiClient) do(ctx context.Context, r request) ([]byte, error) {
	token := c.bearerFor(r)
	data, status, err := c.execute(ctx, r, token)
	if err != nil {
		requestsTotal.WithLabelValues(r.method, outcome(0)).Inc()
		return nil, err
	}

	if status == http.StatusUnauthorized && r.renewable() {
		if renewErr := c.renew(ctx, token); renewErr != nil {
			requestsTotal.WithLabelValues(r.method, outcome(status)).Inc()
			return nil, renewErr
		}
		r.attempt++
		data, status, err = c.execute(ctx, r, c.bearerFor(r))
		if err != nil {
			requestsTotal.WithLabelValues(r.method, outcome(0)).Inc()
			return nil, err
		}
	}

	requestsTotal.WithLabelValues(r.method, outcome(status)).Inc()
	if !statusMatches(status, r.expected) {
		httpErr := common.NewHTTPError(status, data)
		httpErr.Retried = r.attempt > 0
		return nil, httpErr
	}
	return data, nil
}

// bearerFor reads the session at send time, never earlier.
func (c *apiClient) bearerFor(r request) string {
	if r.noAuth {
		return ""
	}
	return c.session.AccessToken()
}

// replaced reports whether the session already holds a token newer than stale.
func (c *apiClient) replaced(stale string) bool {
	cur := c.session.AccessToken()
	return cur != "" && cur != stale
}

// renew makes sure the session holds a token newer than stale. If another caller already
// replaced stale it returns at once; otherwise it starts or joins the single in-flight
// renewal. The check is repeated inside the flight so a caller that arrives just after a
// renewal finished does not start a second one.
func (c *apiClient) renew(ctx context.Context, stale string) error {
	if c.replaced(stale) {
		return nil
	}

	ch := c.flight.DoChan(renewFlightKey, func() (interface{}, error) {
		if c.replaced(stale) {
			return nil, nil
		}
		return nil, c.runRenewal()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("waiting for token renewal: %w", ctx.Err())
	}
}

// runRenewal is detached from any single caller's context so one caller giving up does
// not fail the others; renewTimeout bounds it instead.
func (c *apiClient) runRenewal() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.renewTimeout)
	defer cancel()

	c.log.Debug().Msg("renewing access token")
	resp, err := c.renewer.RenewToken(ctx)
	if err == nil && (resp == nil || resp.AccessToken == "") {
		err = fmt.Errorf("renewal response has no access token")
	}
	if err != nil {
		c.session.Clear()
		renewalsTotal.WithLabelValues("failure").Inc()
		c.log.Warn().Err(err).Msg("token renewal failed, session cleared")
		return &common.RenewalError{Cause: err}
	}

	tok, profile := session.FromLoginResponse(resp, c.now())
	c.session.Set(tok, profile)
	renewalsTotal.WithLabelValues("success").Inc()
	c.log.Info().Str("email", profile.Email).Strs("roles", profile.Roles).Msg("access token renewed")
	return nil
}

// RenewToken is the default renewer: POST /auth/refresh carrying only the cookie.
func (c *apiClient) RenewToken(ctx context.Context) (*model.LoginResponse, error) {
	data, status, err := c.execute(ctx, request{
		method: http.MethodPost,
		path:   refreshPath,
		body:   []byte("{}"),
		noAuth: true,
	}, "")
	if err != nil {
		return nil, err
	}
	if !statusMatches(status, nil) {
		return nil, common.NewHTTPError(status, data)
	}
	var resp model.LoginResponse
	if err = decode(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// execute does the low-level HTTP for one attempt and returns the raw status.
func (c *apiClient) execute(ctx context.Context, r request, token string) ([]byte, int, error) {
	urlStr, err := c.buildURL(r.path, r.query)
	if err != nil {
		return nil, 0, err
	}

	var body io.Reader
	if len(r.body) > 0 {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, urlStr, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if len(r.body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range r.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	requestID := uuid.New().String()
	req.Header.Set(common.RequestIDHeader, requestID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("request_id", requestID).Str("method", r.method).Str("path", r.path).Msg("request failed")
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", readErr)
	}
	if resp.StatusCode >= 300 {
		c.log.Debug().
			Str("request_id", requestID).
			Str("method", r.method).
			Str("path", r.path).
			Int("status", resp.StatusCode).
			Int("attempt", r.attempt).
			Msg("non-success response")
	}
	return data, resp.StatusCode, nil
}

// buildURL joins baseURL and path, keeping any query already in path.
func (c *apiClient) buildURL(path string, params url.Values) (string, error) {
	full, err := url.Parse(c.baseURL + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	if len(params) > 0 {
		q := full.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		full.RawQuery = q.Encode()
	}
	return full.String(), nil
}

// statusMatches treats an empty expectation as "any 2xx".
func statusMatches(statusCode int, expected []int) bool {
	if len(expected) == 0 {
		return statusCode >= 200 && statusCode < 300
	}
	for _, s := range expected {
		if statusCode == s {
			return true
		}
	}
	return false
}

func decode(data []byte, out interface{}) error {
	if err := model.JSONUnmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
