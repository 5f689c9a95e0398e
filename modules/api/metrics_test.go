package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/guarzo/qualityapi/common/model"
	"github.com/guarzo/qualityapi/modules/session"
)

type stubTransport struct {
	do func(req *http.Request) (*http.Response, error)
}

func (s stubTransport) Do(req *http.Request) (*http.Response, error) { return s.do(req) }
func (stubTransport) Jar() http.CookieJar                            { return nil }
func (stubTransport) CloseIdleConnections()                           {}

type stubRenewer func(ctx context.Context) (*model.LoginResponse, error)

func (f stubRenewer) RenewToken(ctx context.Context) (*model.LoginResponse, error) { return f(ctx) }

func TestOutcome(t *testing.T) {
	cases := map[int]string{
		0:   "transport_error",
		200: "success",
		204: "success",
		401: "unauthorized",
		404: "not_found",
		422: "error",
		500: "error",
	}
	for status, want := range cases {
		assert.Equal(t, want, outcome(status), "status %d", status)
	}
}

func TestRegisterCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { RegisterCollectors(reg) })
	assert.Panics(t, func() { RegisterCollectors(reg) }, "double registration")
}

func TestMetrics_CountRenewalsAndOutcomes(t *testing.T) {
	successBefore := testutil.ToFloat64(renewalsTotal.WithLabelValues("success"))
	failureBefore := testutil.ToFloat64(renewalsTotal.WithLabelValues("failure"))
	okBefore := testutil.ToFloat64(requestsTotal.WithLabelValues(http.MethodGet, "success"))
	unauthBefore := testutil.ToFloat64(requestsTotal.WithLabelValues(http.MethodGet, "unauthorized"))

	hc := stubTransport{do: func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Authorization") == "Bearer fresh" {
			return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(`{}`))}, nil
		}
		return &http.Response{StatusCode: 401, Body: io.NopCloser(strings.NewReader(`{}`))}, nil
	}}
	fail := false
	renewer := stubRenewer(func(ctx context.Context) (*model.LoginResponse, error) {
		if fail {
			return nil, errors.New("cookie expired")
		}
		return &model.LoginResponse{AccessToken: "fresh"}, nil
	})
	store := session.NewStore()
	store.Set(&oauth2.Token{AccessToken: "stale"}, &model.Profile{})
	c := NewClient("http://api.test", hc, store, renewer)

	require.NoError(t, c.GetJSON(context.Background(), "/a", nil, &struct{}{}))

	store.Set(&oauth2.Token{AccessToken: "stale"}, &model.Profile{})
	fail = true
	require.Error(t, c.GetJSON(context.Background(), "/a", nil, &struct{}{}))

	assert.Equal(t, successBefore+1, testutil.ToFloat64(renewalsTotal.WithLabelValues("success")))
	assert.Equal(t, failureBefore+1, testutil.ToFloat64(renewalsTotal.WithLabelValues("failure")))
	assert.Equal(t, okBefore+1, testutil.ToFloat64(requestsTotal.WithLabelValues(http.MethodGet, "success")))
	assert.Equal(t, unauthBefore+1, testutil.ToFloat64(requestsTotal.WithLabelValues(http.MethodGet, "unauthorized")))
}

func TestRequestRenewable(t *testing.T) {
	assert.True(t, request{}.renewable())
	assert.False(t, request{attempt: 1}.renewable())
	assert.False(t, request{noRenew: true}.renewable())
}

func TestStatusMatches(t *testing.T) {
	assert.True(t, statusMatches(201, nil))
	assert.False(t, statusMatches(302, nil))
	assert.True(t, statusMatches(404, []int{404}))
	assert.False(t, statusMatches(200, []int{204}))
}
