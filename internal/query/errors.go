// Package query serves reservation reads from whichever instance owns the
// reservation's view partition.
package query

import "errors"

// ErrNotFound is returned when the owning view has no entry for the id.
// Handlers should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("reservation not found")

// ErrNotReady is returned while partition metadata or the local view is
// unavailable.  It is transient; handlers should answer 503 so the caller
// retries.
var ErrNotReady = errors.New("reservation view not ready")

// ErrRemoteUnavailable is returned when the owning peer could not be read
// (network failure or an unexpected status).  Handlers should answer 502.
var ErrRemoteUnavailable = errors.New("owning instance unavailable")
