package fastexif

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned when no container signature matches the
// input. It is fatal for that file only.
var ErrUnsupportedFormat = errors.New("fastexif: unsupported format")

// InvalidFormatError is returned when the container format was recognized
// but its framing is invalid (corrupt marker stream, degenerate box size).
type InvalidFormatError struct {
	Err error
}

func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("fastexif: invalid format: %v", e.Err)
}

func (e *InvalidFormatError) Unwrap() error {
	return e.Err
}

func newInvalidFormatErrorf(format string, args ...any) *InvalidFormatError {
	return &InvalidFormatError{Err: fmt.Errorf(format, args...)}
}

// TruncatedDataError is returned when a declared offset or length extends
// past the end of the input. It is fatal only for the affected segment:
// tags decoded before the truncation was discovered are still returned
// alongside the error.
type TruncatedDataError struct {
	Offset int64
	Length int64
	Size   int64
}

func (e *TruncatedDataError) Error() string {
	return fmt.Sprintf("fastexif: truncated data: %d bytes at offset %d exceeds size %d", e.Length, e.Offset, e.Size)
}
