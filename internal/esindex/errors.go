package esindex

import (
	"errors"
	"net/http"
)

var (
	// ErrBackendTransient marks failures worth retrying: connectivity,
	// timeouts, overload responses.
	ErrBackendTransient = errors.New("backend transiently unavailable")
	// ErrBackendPermanent marks failures retrying cannot fix: malformed
	// documents, rejected schema.
	ErrBackendPermanent = errors.New("backend rejected document")
)

// isTransientStatus reports whether an HTTP status from the backend is
// worth another attempt. 429 means overload; 5xx means the backend
// itself failed. Everything else in the error range is a request problem
// and retrying would only repeat it.
func isTransientStatus(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= http.StatusInternalServerError
}
