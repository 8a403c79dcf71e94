package resource

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is matched by every ConflictError through errors.Is.
	ErrConflict = errors.New("resource version conflict")
	// ErrMissingETag is returned when an update or delete targets a resource
	// that was never confirmed on the server.
	ErrMissingETag = errors.New("resource has no etag")
	// ErrSyncInProgress is returned by a full sync started while another one
	// is still running.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrOffline is returned when an operation needs the network and the
	// monitor reports it unavailable.
	ErrOffline = errors.New("network is offline")
)

// ConflictError reports that the server holds a different version of a
// resource than the one the client based its write on (HTTP 412).
type ConflictError struct {
	// Href is the object URL the write was aimed at, if known.
	Href string
	// ETag is the version the client expected.
	ETag string
	Err  error
}

func (e *ConflictError) Error() string {
	msg := "version conflict"
	if e.Href != "" {
		msg = fmt.Sprintf("version conflict on %s", e.Href)
	}
	if e.ETag != "" {
		msg += fmt.Sprintf(" (expected etag %s)", e.ETag)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrConflict) match any ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// IsConflict reports whether err is or wraps a version conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
