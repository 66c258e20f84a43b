package github

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassNotFound represents 404 responses.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassRateLimited represents 403/429 responses caused by an
	// exhausted quota, and requests refused locally for the same reason.
	ErrorClassRateLimited ErrorClass = "rate_limited"

	// ErrorClassForbidden represents other 403 responses.
	ErrorClassForbidden ErrorClass = "forbidden"

	// ErrorClassTimeout represents per-request deadlines being exceeded.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassValidation represents payloads that could not be decoded.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassClient represents any other 4xx response.
	ErrorClassClient ErrorClass = "client"
)

// Sentinel errors wrapped by APIError. Use errors.Is to test for them.
var (
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrForbidden   = errors.New("access forbidden")
	ErrTimeout     = errors.New("request timed out")
	ErrDecode      = errors.New("invalid upstream payload")
	ErrServer      = errors.New("upstream server error")
	ErrNetwork     = errors.New("network error")
	ErrClient      = errors.New("upstream rejected request")

	// ErrRetryExhausted is returned when all retry attempts failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

var classSentinels = map[ErrorClass]error{
	ErrorClassNotFound:    ErrNotFound,
	ErrorClassRateLimited: ErrRateLimited,
	ErrorClassForbidden:   ErrForbidden,
	ErrorClassTimeout:     ErrTimeout,
	ErrorClassValidation:  ErrDecode,
	ErrorClassServer:      ErrServer,
	ErrorClassNetwork:     ErrNetwork,
	ErrorClassClient:      ErrClient,
}

// APIError is a classified upstream failure.
type APIError struct {
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	Class      ErrorClass
	Endpoint   string
	Message    string

	// Err is the underlying cause (transport or decode error), if any.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("github %s error", e.Class)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Endpoint != "" {
		msg += " on " + e.Endpoint
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the class sentinel and the underlying cause.
func (e *APIError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := classSentinels[e.Class]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ClassOf returns the class of err, or "" when err is not an APIError.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ""
}

// classifyStatus maps a non-2xx response to an error class.
func classifyStatus(resp *http.Response) ErrorClass {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrorClassNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimited
	case resp.StatusCode == http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != "" {
			return ErrorClassRateLimited
		}
		return ErrorClassForbidden
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// classifyTransport maps a transport error to an error class.
func classifyTransport(err error) ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTimeout
	}
	return ErrorClassNetwork
}

// shouldRetry determines if an error class is transient.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassServer, ErrorClassNetwork:
		return true
	default:
		// 4xx and quota errors would only waste the remaining quota
		return false
	}
}
