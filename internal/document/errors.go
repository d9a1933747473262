package document

import "errors"

// Errors shared by the store, the service and the editing session.
//
// Every layer wraps these with context but never replaces them, so callers
// classify failures with errors.Is:
//
//	if errors.Is(err, document.ErrConflict) {
//	    // offer reload-and-retry
//	}
var (
	// ErrNotFound is returned when no file maps to the requested id.
	ErrNotFound = errors.New("document not found")

	// ErrPathUnsafe is returned when an id does not resolve to a plain
	// document file strictly inside the store root.
	ErrPathUnsafe = errors.New("unsafe document path")

	// ErrInvalidDocument is returned when content is not valid JSON.
	ErrInvalidDocument = errors.New("invalid JSON document")

	// ErrConflict is returned when the on-disk fingerprint no longer matches
	// the fingerprint the caller last read.
	ErrConflict = errors.New("document changed since it was read")

	// ErrAlreadyExists is returned when creating a document whose file
	// already exists.
	ErrAlreadyExists = errors.New("document already exists")

	// ErrIO is returned for any other filesystem or transport failure,
	// including timeouts.
	ErrIO = errors.New("I/O error")

	// ErrInvalidRequest is returned when a request is malformed before it
	// reaches the store.
	ErrInvalidRequest = errors.New("invalid request")
)

// Wire codes for the error taxonomy. The HTTP layer sends these so the
// client can rebuild the same sentinel.
const (
	CodeNotFound        = "not_found"
	CodePathUnsafe      = "path_unsafe"
	CodeInvalidDocument = "invalid_document"
	CodeConflict        = "conflict"
	CodeAlreadyExists   = "already_exists"
	CodeIO              = "io_error"
	CodeInvalidRequest  = "invalid_request"
)

var codes = []struct {
	code string
	err  error
}{
	// Order matters: the first match wins when an error wraps several.
	{CodeConflict, ErrConflict},
	{CodeAlreadyExists, ErrAlreadyExists},
	{CodePathUnsafe, ErrPathUnsafe},
	{CodeNotFound, ErrNotFound},
	{CodeInvalidDocument, ErrInvalidDocument},
	{CodeInvalidRequest, ErrInvalidRequest},
	{CodeIO, ErrIO},
}

// Code returns the wire code for err. Unclassified errors map to CodeIO.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeIO
}

// FromCode returns the sentinel for a wire code, or ErrIO for unknown codes.
func FromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return ErrIO
}

// IsUserActionRequired reports whether err needs an explicit choice from the
// user rather than a silent recovery.
func IsUserActionRequired(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrAlreadyExists)
}

// IsRecoverable reports whether a session may recover from err by reverting
// to its last stable state and showing a message.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrIO)
}
