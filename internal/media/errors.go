package media

import (
	"errors"
	"fmt"
)

// ResolutionKind classifies why metadata could not be resolved.
type ResolutionKind string

const (
	UnsupportedURL ResolutionKind = "unsupported_url"
	Unavailable    ResolutionKind = "unavailable" // private, removed, region or login restricted
	NetworkFailure ResolutionKind = "network"
	BackendFailure ResolutionKind = "backend" // resolver tool missing or returned garbage
)

// ResolutionError is returned by every Resolver.
type ResolutionError struct {
	Kind ResolutionKind
	URL  string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt might succeed.
func (e *ResolutionError) Retryable() bool {
	return e.Kind == NetworkFailure
}

func newResolutionError(kind ResolutionKind, url string, err error) *ResolutionError {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re
	}
	return &ResolutionError{Kind: kind, URL: url, Err: err}
}

// ErrCollectionURL is wrapped when a collection URL is used where one item is expected.
var ErrCollectionURL = errors.New("url names a collection, submit it as one")
