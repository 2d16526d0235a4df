package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/jrsteele09/go-course-storefront/internal/errors"
)

// HTTPError is returned when the server answered with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Method     string
	Path       string
	Body       []byte
	// Message is the backend's "message" field when the body carries one
	Message string
}

func newHTTPError(req *Request, status int, body []byte) *HTTPError {
	e := &HTTPError{
		StatusCode: status,
		Method:     req.Method,
		Path:       req.Path,
		Body:       body,
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Message = payload.Message
		if e.Message == "" {
			e.Message = payload.Error
		}
	}
	return e
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// Is lets callers match conflict and not-found responses with errors.Is
func (e *HTTPError) Is(target error) bool {
	switch target {
	case apperrors.ErrConflict:
		return e.StatusCode == http.StatusConflict
	case apperrors.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case apperrors.ErrValidation:
		return e.StatusCode == http.StatusBadRequest
	}
	return false
}

// NetworkError is returned when no response was received at all.
type NetworkError struct {
	Method string
	Path   string
	Cause  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v: %v", e.Method, e.Path, apperrors.ErrNetwork, e.Cause)
}

func (e *NetworkError) Unwrap() []error {
	return []error{apperrors.ErrNetwork, e.Cause}
}

// StatusCode returns the HTTP status carried by err, or 0 when err holds no response
func StatusCode(err error) int {
	var httpErr *HTTPError
	if apperrors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// ErrorMessage returns the most specific diagnostic available in err
func ErrorMessage(err error, fallback string) string {
	var httpErr *HTTPError
	if apperrors.As(err, &httpErr) && httpErr.Message != "" {
		return httpErr.Message
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return fallback
}
