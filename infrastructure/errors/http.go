// Package errors turns non-2xx HTTP responses into typed errors that callers
// can classify with errors.As.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MinErrorStatusCode is the first status treated as an error.
const MinErrorStatusCode = 400

// maxErrorBody bounds how much of an error body is kept.
const maxErrorBody = 4 << 10

// HTTPError is a non-2xx response from an upstream API.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP error (%d %s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP error: %d %s", e.StatusCode, e.Status)
}

// Temporary reports whether a retry could plausibly succeed (429 and 5xx).
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// ParseHTTPError returns nil for statuses below 400. Otherwise it reads the
// body and extracts {"error"}, {"message"} or a JSON:API errors array.
func ParseHTTPError(resp *http.Response) error {
	if resp.StatusCode < MinErrorStatusCode {
		return nil
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    fmt.Sprintf("read error response body: %v", err),
		}
	}

	body := strings.TrimSpace(string(bodyBytes))
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       body,
		Message:    extractMessage(bodyBytes, body),
	}
}

func extractMessage(raw []byte, fallback string) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Errors  []struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if json.Unmarshal(raw, &payload) != nil {
		return fallback
	}

	if msg := errorField(payload.Error); msg != "" {
		return msg
	}
	if payload.Message != "" {
		return payload.Message
	}
	if len(payload.Errors) > 0 {
		parts := make([]string, len(payload.Errors))
		for i, e := range payload.Errors {
			parts[i] = e.Title
			if e.Detail != "" {
				parts[i] = e.Title + ": " + e.Detail
			}
		}
		return strings.Join(parts, "; ")
	}
	return fallback
}

// errorField accepts both "error":"text" and "error":{"message":"text"}.
func errorField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Message
	}
	return ""
}

// AsHTTPError unwraps err to an *HTTPError.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// StatusCode returns the upstream status carried by err, if any.
func StatusCode(err error) (int, bool) {
	if httpErr, ok := AsHTTPError(err); ok {
		return httpErr.StatusCode, true
	}
	return 0, false
}
