package crawler

import "errors"

var (
	// ErrExtraction marks a product page missing a mandatory field.
	ErrExtraction = errors.New("extraction failed")
	// ErrBlocked marks a challenge or ban page served instead of content.
	ErrBlocked = errors.New("blocked by site")
	// ErrFetchStatus marks a non-2xx response.
	ErrFetchStatus = errors.New("unexpected status")
	// ErrFrontierDrained is returned by Dequeue once no work remains.
	ErrFrontierDrained = errors.New("frontier drained")
	// ErrNotFound is returned by stores for unknown identifiers.
	ErrNotFound = errors.New("not found")
	// ErrBusy is returned when no capacity is left to start another run.
	ErrBusy = errors.New("too many crawls running")
)
