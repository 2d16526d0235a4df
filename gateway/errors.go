package gateway

import (
	"fmt"

	apperrors "github.com/jrsteele09/go-course-storefront/internal/errors"
	"github.com/jrsteele09/go-course-storefront/transport"
)

// RefreshError is returned to every caller whose request was waiting on a
// refresh that failed. It matches ErrRefreshFailed, the refresh cause and the
// original expiry response.
type RefreshError struct {
	Cause    error
	Original *transport.HTTPError
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("%v: %v", apperrors.ErrRefreshFailed, e.Cause)
}

func (e *RefreshError) Unwrap() []error {
	errs := []error{apperrors.ErrRefreshFailed, apperrors.ErrAuthExpired}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	if e.Original != nil {
		errs = append(errs, e.Original)
	}
	return errs
}

// IsSessionLost reports whether err means the session could not be renewed and
// the caller should send the user to an unauthenticated view
func IsSessionLost(err error) bool {
	return apperrors.Is(err, apperrors.ErrRefreshFailed)
}
