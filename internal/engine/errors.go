package engine

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a refresh did not complete
type Kind string

const (
	KindInProgress       Kind = "REFRESH_IN_PROGRESS" // 409
	KindUnknownAdapter   Kind = "UNKNOWN_ADAPTER"     // 400
	KindIndexUnavailable Kind = "INDEX_UNAVAILABLE"   // 502
	KindCommit           Kind = "COMMIT_FAILED"       // 500
	KindTimeout          Kind = "TIMEOUT"             // 504
)

// Sentinels matched by errors.Is against an *Error of the same kind
var (
	ErrRefreshInProgress = errors.New("refresh already in progress")
	ErrUnknownAdapter    = errors.New("unknown adapter")
	ErrIndexUnavailable  = errors.New("listing index unavailable")
	ErrCommit            = errors.New("persisting refresh failed")
	ErrTimeout           = errors.New("refresh timed out")
)

var sentinels = map[Kind]error{
	KindInProgress:       ErrRefreshInProgress,
	KindUnknownAdapter:   ErrUnknownAdapter,
	KindIndexUnavailable: ErrIndexUnavailable,
	KindCommit:           ErrCommit,
	KindTimeout:          ErrTimeout,
}

// Error is returned by Refresh when a feed could not be refreshed.
// Nothing of the refresh has been committed when it is returned.
type Error struct {
	Kind Kind
	Feed string
	Err  error
}

func newError(kind Kind, feedName string, err error) *Error {
	return &Error{Kind: kind, Feed: feedName, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("refresh %s: %s", e.Feed, sentinels[e.Kind])
	}
	return fmt.Sprintf("refresh %s: %s: %v", e.Feed, sentinels[e.Kind], e.Err)
}

// Unwrap exposes both the kind sentinel and the cause
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Retryable reports whether running the same refresh again may succeed
func (e *Error) Retryable() bool {
	return e.Kind != KindUnknownAdapter
}

// Status maps the kind onto an HTTP status code
func (e *Error) Status() int {
	switch e.Kind {
	case KindInProgress:
		return http.StatusConflict
	case KindUnknownAdapter:
		return http.StatusBadRequest
	case KindIndexUnavailable:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// IsKind checks if err is an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
