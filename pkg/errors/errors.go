package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a failure to read a binary image.
type Kind int

const (
	NotRecognized Kind = iota
	UnsupportedArchitecture
	NoExportTable
	Malformed
)

func (k Kind) String() string {
	switch k {
	case NotRecognized:
		return "not a PE image"
	case UnsupportedArchitecture:
		return "unsupported architecture"
	case NoExportTable:
		return "no export table"
	case Malformed:
		return "malformed image"
	}
	return "unknown"
}

// FormatError reports an image the export reader cannot use.
type FormatError struct {
	Kind   Kind
	Detail string
}

func (e *FormatError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// IsKind checks if an error is a FormatError of a specific kind
func IsKind(err error, kind Kind) bool {
	var fe *FormatError
	if stderrors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// SysError carries the unmodified system error code of a failed Win32
// call. Op is the API name, Subject the library or symbol it was given.
type SysError struct {
	Op      string
	Subject string
	Code    uint32
}

func (e *SysError) Error() string {
	return fmt.Sprintf("%s(%s) failed with code %d", e.Op, e.Subject, e.Code)
}

// EncodingError reports a name that cannot be represented as a
// NUL-terminated Windows string.
type EncodingError struct {
	Name string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("name %q is not representable", e.Name)
}

// ErrAlreadyInitialized is returned by a second bulk resolution attempt.
// The first attempt is never re-executed.
var ErrAlreadyInitialized = stderrors.New("already initialized")
