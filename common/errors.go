package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthExpired matches a 401 that a renewal could still recover. The API client absorbs
	// the first one per request; the retry's 401 and renewal failures do not match it.
	ErrAuthExpired = errors.New("access token expired")
	// ErrAuthFailed means the renewal itself failed; the session has been cleared.
	ErrAuthFailed = errors.New("authentication failed")
)

// HTTPError is a custom error that captures unexpected status codes and response bodies.
type HTTPError struct {
	StatusCode int
	Body       []byte
	// Detail is the server's "detail" field when the body is a JSON error document.
	Detail string
	// Retried marks a response to a request that was already replayed after a renewal.
	// A 401 then is final and no longer matches ErrAuthExpired.
	Retried bool
}

// NewHTTPError builds an HTTPError and extracts the detail message from body when possible.
func NewHTTPError(status int, body []byte) *HTTPError {
	return &HTTPError{
		StatusCode: status,
		Body:       body,
		Detail:     extractDetail(body),
	}
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("unexpected status code: %d, detail: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, string(e.Body))
}

// Is lets errors.Is(err, ErrAuthExpired) match unauthorized responses that can still be
// recovered by a renewal.
func (e *HTTPError) Is(target error) bool {
	return target == ErrAuthExpired && e.StatusCode == http.StatusUnauthorized && !e.Retried
}

// RenewalError reports a failed token renewal. It matches ErrAuthFailed and never
// ErrAuthExpired, even when the renewal call itself answered 401. errors.As still
// reaches the cause, so StatusCode works on it.
type RenewalError struct {
	Cause error
}

func (e *RenewalError) Error() string {
	return fmt.Sprintf("%s: %v", ErrAuthFailed, e.Cause)
}

func (e *RenewalError) Is(target error) bool {
	if target == ErrAuthFailed {
		return true
	}
	if target == ErrAuthExpired {
		return false
	}
	return errors.Is(e.Cause, target)
}

func (e *RenewalError) As(target interface{}) bool {
	return errors.As(e.Cause, target)
}

// extractDetail understands both {"detail": "msg"} and validation shaped
// {"detail": [{"msg": "..."}]} bodies.
func extractDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var doc struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || len(doc.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(doc.Detail, &s); err == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(doc.Detail, &items); err == nil && len(items) > 0 {
		return items[0].Msg
	}
	return string(doc.Detail)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not an HTTPError.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
