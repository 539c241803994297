package sidecar

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed matches every *MalformedError.
	ErrMalformed = errors.New("malformed sidecar")
	// ErrUnavailableField matches every *UnavailableFieldError.
	ErrUnavailableField = errors.New("field not available in sidecar metadata")

	errNotObject = errors.New("top-level JSON value is not an object")
)

// MalformedError reports a candidate sidecar that exists but cannot be
// merged. Metadata integrity cannot be inferred past it, so it is fatal.
type MalformedError struct {
	Path string
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed sidecar %s: %v", e.Path, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

// UnavailableFieldError reports a requested field missing from the merged
// metadata of Path.
type UnavailableFieldError struct {
	Field string
	Path  string
}

func (e *UnavailableFieldError) Error() string {
	return fmt.Sprintf("field %q not found in metadata for %s", e.Field, e.Path)
}

func (e *UnavailableFieldError) Is(target error) bool { return target == ErrUnavailableField }
