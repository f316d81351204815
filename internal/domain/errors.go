package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrJobExists  = errors.New("job already exists")
	ErrJobRunning = errors.New("job is still running")
)

// FetchKind classifies failures from the external content API.
type FetchKind int

const (
	// FetchTransient covers 5xx, timeouts and network errors. Retried.
	FetchTransient FetchKind = iota
	// FetchClient covers 4xx such as an unknown subreddit. Aborts one facet.
	FetchClient
	// FetchAuth covers credential rejection. Fatal to the whole job.
	FetchAuth
)

func (k FetchKind) String() string {
	switch k {
	case FetchTransient:
		return "transient"
	case FetchClient:
		return "client"
	case FetchAuth:
		return "auth"
	}
	return "unknown"
}

// FetchError wraps an external API failure with its classification and the
// facet it occurred on (facet may be empty for post-level calls).
type FetchError struct {
	Kind  FetchKind
	Facet string
	Err   error
}

func (e *FetchError) Error() string {
	if e.Facet != "" {
		return fmt.Sprintf("fetch %s (%s): %v", e.Facet, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError builds a classified fetch error.
func NewFetchError(kind FetchKind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

// FetchKindOf extracts the classification, defaulting to transient so that
// unclassified network failures still go through the retry path.
func FetchKindOf(err error) FetchKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FetchTransient
}

// StorageError marks a record-store failure. Fatal to the whole job.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
