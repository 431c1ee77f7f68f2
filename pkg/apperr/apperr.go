// Package apperr defines the error taxonomy shared by ingestion and export.
//
// Four kinds exist:
//   - Validation: bad, missing or contradictory request parameters
//   - Decode: malformed ingestion payloads
//   - Time: unparsable or inverted time windows
//   - Pipeline: failures of an in-flight export stream
//
// Validation, Decode and Time errors are always raised before any storage
// cursor is opened. Pipeline errors may happen after bytes were written.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind string

const (
	KindValidation Kind = "validation"
	KindDecode     Kind = "decode"
	KindTime       Kind = "time"
	KindPipeline   Kind = "pipeline"
)

// NoRecord marks an Error that is not tied to a single input record.
const NoRecord = -1

// Error is a classified error. Record is the zero-based index of the
// offending input record, or NoRecord.
type Error struct {
	Kind   Kind
	Op     string
	Record int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Record != NoRecord {
		msg = fmt.Sprintf("record %d: %s", e.Record, msg)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation returns a KindValidation error.
func Validation(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Record: NoRecord, Err: err}
}

// Validationf returns a KindValidation error with a formatted message.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Record: NoRecord, Msg: fmt.Sprintf(format, args...)}
}

// Decode returns a KindDecode error for the given record index.
func Decode(op string, record int, err error) *Error {
	return &Error{Kind: KindDecode, Op: op, Record: record, Err: err}
}

// Time returns a KindTime error.
func Time(op string, err error) *Error {
	return &Error{Kind: KindTime, Op: op, Record: NoRecord, Err: err}
}

// Pipeline returns a KindPipeline error.
func Pipeline(op string, err error) *Error {
	return &Error{Kind: KindPipeline, Op: op, Record: NoRecord, Err: err}
}

// KindOf reports the Kind of the first *Error in err's chain, or "" when
// err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
