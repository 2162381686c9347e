package record

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNeedsFraming is returned by NewReader and NewWriter when a shape ends
	// in an open-ended field but records are not length-prefixed.
	ErrNeedsFraming = errors.New("record: open-ended layout requires length-prefixed framing")

	// ErrValueCount reports a Values slice whose length differs from the
	// number of value elements in its layout.
	ErrValueCount = errors.New("record: value count does not match layout")
)

// EndOfFileError reports a stream that ended inside a record. A stream that
// ends between records is not an error: Next returns io.EOF.
type EndOfFileError struct {
	Record int    // 1-based record number
	Stage  string // "header", "body", "discriminator" or "field"
	Want   int
	Got    int
}

func (e *EndOfFileError) Error() string {
	return fmt.Sprintf("record %d: unexpected end of stream in %s: got %d of %d bytes",
		e.Record, e.Stage, e.Got, e.Want)
}

func (e *EndOfFileError) Unwrap() error {
	return io.ErrUnexpectedEOF
}

// RecordLengthError reports a length-prefixed record whose body does not
// match what its layout consumed.
type RecordLengthError struct {
	Record   int
	Length   int
	Consumed int
	Msg      string
}

func (e *RecordLengthError) Error() string {
	return fmt.Sprintf("record %d: %s (length %d, layout consumed %d)", e.Record, e.Msg, e.Length, e.Consumed)
}

// DependencyError reports a depends-on reference that cannot drive a repeat
// count or length.
type DependencyError struct {
	Element string
	Ref     string
	Value   any
	Msg     string
}

func (e *DependencyError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s depends on %s: %s", e.Element, e.Ref, e.Msg)
	}
	return fmt.Sprintf("%s depends on %s (%v): %s", e.Element, e.Ref, e.Value, e.Msg)
}
