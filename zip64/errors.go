package zip64

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrFormat    = errors.New("zip: not a valid zip file")
	ErrAlgorithm = errors.New("zip: unsupported compression algorithm")
	ErrNotFound  = errors.New("zip: entry not found")
	ErrClosed    = errors.New("zip: writer closed")
)

// Kind classifies a structural failure found while building or parsing.
type Kind int

const (
	MalformedExtraField Kind = iota + 1
	TruncatedCentralDirectoryRecord
	TruncatedLocalFileHeader
	InvalidZip64Locator
	InconsistentPromotion
	IntegrityMismatch
)

var kindNames = map[Kind]string{
	MalformedExtraField:             "malformed extra field",
	TruncatedCentralDirectoryRecord: "truncated central directory record",
	TruncatedLocalFileHeader:        "truncated local file header",
	InvalidZip64Locator:             "invalid zip64 locator",
	InconsistentPromotion:           "inconsistent promotion",
	IntegrityMismatch:               "integrity mismatch",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Matchable values for errors.Is. Offset and message are ignored when
// comparing.
var (
	ErrMalformedExtraField             = &FormatError{Kind: MalformedExtraField}
	ErrTruncatedCentralDirectoryRecord = &FormatError{Kind: TruncatedCentralDirectoryRecord}
	ErrTruncatedLocalFileHeader        = &FormatError{Kind: TruncatedLocalFileHeader}
	ErrInvalidZip64Locator             = &FormatError{Kind: InvalidZip64Locator}
	ErrInconsistentPromotion           = &FormatError{Kind: InconsistentPromotion}
	ErrIntegrityMismatch               = &FormatError{Kind: IntegrityMismatch}
)

// FormatError reports a structural inconsistency and the absolute byte
// offset where it was detected.
type FormatError struct {
	Kind   Kind
	Offset int64
	Msg    string
}

func (e *FormatError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("zip: %s at offset %d", e.Kind, e.Offset)
	}
	return fmt.Sprintf("zip: %s at offset %d: %s", e.Kind, e.Offset, e.Msg)
}

// Is reports whether target is a *FormatError of the same Kind.
func (e *FormatError) Is(target error) bool {
	t, ok := target.(*FormatError)
	return ok && t.Kind == e.Kind
}

func formatError(kind Kind, off int64, format string, args ...interface{}) error {
	return &FormatError{Kind: kind, Offset: off, Msg: fmt.Sprintf(format, args...)}
}
