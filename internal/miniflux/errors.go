package miniflux

import (
	"errors"
	"fmt"
)

// ErrUpstreamFetchFailed matches every *FetchError via errors.Is.
var ErrUpstreamFetchFailed = errors.New("upstream fetch failed")

// FetchError describes a failed call to the Miniflux API.
type FetchError struct {
	Kind   string // "feed" or "icon"
	ID     int64
	Status int // HTTP status, 0 when no response was received
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("miniflux: fetch %s %d: status %d: %v", e.Kind, e.ID, e.Status, e.Err)
	}
	return fmt.Sprintf("miniflux: fetch %s %d: %v", e.Kind, e.ID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrUpstreamFetchFailed }
