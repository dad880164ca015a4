package ingest

import (
	"errors"
	"fmt"

	"github.com/gradeinsight/gradeport/internal/gradesheet"
	"github.com/gradeinsight/gradeport/internal/store"
	"github.com/gradeinsight/gradeport/internal/tabular"
	"github.com/gradeinsight/gradeport/internal/tenant"
)

// Kind classifies why an upload was rejected, so callers can pick the
// right response without string-matching error text.
type Kind int

const (
	// KindInternal covers everything not otherwise classified.
	KindInternal Kind = iota

	// KindMalformedInput: the file is not parseable tabular data.
	KindMalformedInput

	// KindSchema: the grid parsed but lacks the required identity columns.
	KindSchema

	// KindTenantUnavailable: unknown, suspended, or inactive tenant.
	KindTenantUnavailable

	// KindStorageTimeout: the shard transaction exceeded its deadline and
	// was rolled back.
	KindStorageTimeout

	// KindStorageConflict: a concurrent upload collided; retrying the whole
	// upload is safe.
	KindStorageConflict

	// KindTooBusy: all upload slots stayed occupied past the wait limit.
	KindTooBusy

	// KindFileTooLarge: the upload exceeds the configured size cap.
	KindFileTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindMalformedInput:
		return "malformed_input"
	case KindSchema:
		return "schema"
	case KindTenantUnavailable:
		return "tenant_unavailable"
	case KindStorageTimeout:
		return "storage_timeout"
	case KindStorageConflict:
		return "storage_conflict"
	case KindTooBusy:
		return "too_busy"
	case KindFileTooLarge:
		return "file_too_large"
	default:
		return "internal"
	}
}

// Error wraps an upload failure with its classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func failf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// classify maps errors from the pipeline stages onto upload error kinds.
func classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	kind := KindInternal
	switch {
	case errors.Is(err, tabular.ErrMalformedInput):
		kind = KindMalformedInput
	case errors.Is(err, gradesheet.ErrSchema):
		kind = KindSchema
	case errors.Is(err, tenant.ErrUnavailable):
		kind = KindTenantUnavailable
	case errors.Is(err, store.ErrTimeout):
		kind = KindStorageTimeout
	case errors.Is(err, store.ErrConflict):
		kind = KindStorageConflict
	case errors.Is(err, ErrTooManyUploads):
		kind = KindTooBusy
	}
	return &Error{Kind: kind, Err: err}
}
