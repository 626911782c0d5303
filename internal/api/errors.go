package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// AuthError indicates that the bearer token was rejected or is missing.
// It is returned whenever the backend answers 401.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s", e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// StatusError is a non-2xx backend response other than 401.
type StatusError struct {
	Code   int
	Method string
	Path   string
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unexpected status %d on %s %s", e.Code, e.Method, e.Path)
	}
	return fmt.Sprintf("backend error (%d) on %s %s: %s", e.Code, e.Method, e.Path, e.Detail)
}

// StatusCode returns the HTTP status of err if it wraps a StatusError or
// AuthError, and 0 otherwise.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	if IsAuthError(err) {
		return 401
	}
	return 0
}

// errorDetail extracts the "detail" field FastAPI puts in error bodies. It
// is either a string or a list of validation errors.
func errorDetail(body []byte) string {
	var resp struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &resp) != nil || len(resp.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}

	var s string
	if json.Unmarshal(resp.Detail, &s) == nil {
		return s
	}

	var items []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}
	if json.Unmarshal(resp.Detail, &items) == nil && len(items) > 0 {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			msgs = append(msgs, it.Msg)
		}
		return strings.Join(msgs, "; ")
	}
	return string(resp.Detail)
}
