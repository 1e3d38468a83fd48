package controller

import "errors"

// Domain errors for the controller package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, controller.ErrRejected) {
//	    // semantic rejection - do not retry
//	}
var (
	// ErrUnreachable is returned when the server cannot be reached after
	// exhausting retries.
	ErrUnreachable = errors.New("controller: unreachable")

	// ErrRejected is returned when the server answers with a non-success
	// status. Not retried.
	ErrRejected = errors.New("controller: rejected")

	// ErrMalformedResponse is returned when the response body cannot be
	// interpreted.
	ErrMalformedResponse = errors.New("controller: malformed response")

	// ErrTimeout is returned when the bounded request deadline is exceeded.
	ErrTimeout = errors.New("controller: timeout")
)
