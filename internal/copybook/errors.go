package copybook

import (
	"errors"
	"fmt"
)

// ErrInvalidSchema is matched by every *SchemaError via errors.Is.
var ErrInvalidSchema = errors.New("invalid schema")

// SchemaError reports a schema description that cannot be turned into a
// usable Schema. It is fatal: no record can be processed without a schema.
type SchemaError struct {
	Path string // location in the description, e.g. records[1].fields[0]
	Msg  string
	Err  error
}

func (e *SchemaError) Error() string {
	msg := "schema"
	if e.Path != "" {
		msg += ": " + e.Path
	}
	msg += ": " + e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrInvalidSchema
}

func schemaErrorf(path, format string, args ...any) *SchemaError {
	return &SchemaError{Path: path, Msg: fmt.Sprintf(format, args...)}
}
