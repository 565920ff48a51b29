package crm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Error is a business-level failure reported by the CRM: the HTTP call
// succeeded but the response had success=false.
type Error struct {
	Method  string
	Message string
	// Code is the CRM's info.code, zero when absent.
	Code int
}

func (e *Error) Error() string {
	return fmt.Sprintf("crm %s: %s", e.Method, e.Message)
}

// HTTPStatus maps the CRM code onto an HTTP status, falling back to def
// when the code is absent or out of range.
func (e *Error) HTTPStatus(def int) int {
	if e.Code >= 100 && e.Code <= 599 {
		return e.Code
	}
	return def
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var ce *Error
	ok := errors.As(err, &ce)
	return ce, ok
}

// MessageContains reports whether err is a CRM error whose message contains
// any of the given fragments, compared case-insensitively.
func MessageContains(err error, fragments ...string) bool {
	ce, ok := AsError(err)
	if !ok {
		return false
	}
	msg := strings.ToLower(ce.Message)
	for _, f := range fragments {
		if strings.Contains(msg, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

// IsUserNotFound reports whether the CRM rejected a login because the
// account does not exist.
func IsUserNotFound(err error) bool {
	return MessageContains(err, "user not found", "user does not exist")
}

// IsUnauthorized reports whether the CRM rejected the access token.
func IsUnauthorized(err error) bool {
	if ce, ok := AsError(err); ok && ce.Code == http.StatusUnauthorized {
		return true
	}
	return MessageContains(err, "unauthorized")
}

// StatusError is returned when the CRM answers with a non-2xx status and no
// parseable envelope.
type StatusError struct {
	Method     string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("crm %s: unexpected HTTP status %d", e.Method, e.StatusCode)
}

// infoCode accepts the CRM's info.code as a number or a numeric string.
type infoCode int

func (c *infoCode) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		var f float64
		if jerr := json.Unmarshal(b, &f); jerr != nil {
			// Non-numeric codes carry no status information.
			*c = 0
			return nil
		}
		n = int(f)
	}
	*c = infoCode(n)
	return nil
}
