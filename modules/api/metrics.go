package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "qualityapi", Name: "requests_total", Help: "API calls by method and final outcome."},
		[]string{"method", "outcome"},
	)
	renewalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "qualityapi", Name: "token_renewals_total", Help: "Access token renewal calls by result."},
		[]string{"result"},
	)
)

// RegisterCollectors registers the client counters on reg.
func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(requestsTotal)
	reg.MustRegister(renewalsTotal)
}

// outcome buckets a final status the same way the counters are labelled.
func outcome(status int) string {
	switch {
	case status == 0:
		return "transport_error"
	case status >= 200 && status < 300:
		return "success"
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusNotFound:
		return "not_found"
	default:
		return "error"
	}
}
