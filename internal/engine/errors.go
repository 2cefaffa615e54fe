package engine

import (
	"errors"
	"fmt"
)

// Status is the numeric result of an operation. Zero is success; every
// failure is negative. Codes produced by the classification engine are passed
// through unchanged.
type Status int

const (
	StatusOK               Status = 0
	StatusInvalidParameter Status = -1
	StatusUnknownRuntime   Status = -2
	StatusInvalidPart      Status = -3
	StatusNotStarted       Status = -4
	StatusAlreadyStarted   Status = -5
	StatusBusy             Status = -6
	StatusNotReady         Status = -7

	// StatusEngineFailure is reported for engine errors that carry no code
	// of their own.
	StatusEngineFailure Status = -100
)

var statusText = map[Status]string{
	StatusOK:               "ok",
	StatusInvalidParameter: "invalid parameter",
	StatusUnknownRuntime:   "unknown runtime or convention",
	StatusInvalidPart:      "invalid or disabled part",
	StatusNotStarted:       "stroke not started",
	StatusAlreadyStarted:   "stroke already started",
	StatusBusy:             "operation of this kind already running",
	StatusNotReady:         "not all required parts have finished",
	StatusEngineFailure:    "engine failure",
}

func (s Status) String() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return fmt.Sprintf("engine status %d", int(s))
}

// Kind classifies an error by where it was detected and how a caller should
// react to it.
type Kind string

const (
	KindConfiguration Kind = "configuration" // bad runtime spec or malformed numeric input
	KindSequencing    Kind = "sequencing"    // API called out of order
	KindBusy          Kind = "busy"          // async operation of the same kind running
	KindEngine        Kind = "engine"        // opaque engine failure, passed through
	KindNotReady      Kind = "not_ready"     // combination requested too early
)

// Error is the error type returned across the capture layer. Op names the
// operation and Part the part index (-1 when the operation is not per part).
type Error struct {
	Kind Kind
	Code Status
	Op   string
	Part int
	Err  error
}

var (
	ErrInvalidParameter = &Error{Kind: KindConfiguration, Code: StatusInvalidParameter, Part: -1}
	ErrUnknownRuntime   = &Error{Kind: KindConfiguration, Code: StatusUnknownRuntime, Part: -1}
	ErrInvalidPart      = &Error{Kind: KindSequencing, Code: StatusInvalidPart, Part: -1}
	ErrNotStarted       = &Error{Kind: KindSequencing, Code: StatusNotStarted, Part: -1}
	ErrAlreadyStarted   = &Error{Kind: KindSequencing, Code: StatusAlreadyStarted, Part: -1}
	ErrBusy             = &Error{Kind: KindBusy, Code: StatusBusy, Part: -1}
	ErrNotReady         = &Error{Kind: KindNotReady, Code: StatusNotReady, Part: -1}
)

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Part >= 0 {
		msg += fmt.Sprintf(" part %d", e.Part)
	}
	msg += fmt.Sprintf(": %s (status %d)", e.Code, int(e.Code))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors with the same status code, so a contextual error built
// with At still satisfies errors.Is against its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Kind == "" || t.Kind == e.Kind)
}

// At returns a copy of e annotated with the operation and part.
func (e *Error) At(op string, part int) *Error {
	c := *e
	c.Op = op
	c.Part = part
	return &c
}

// Wrap returns a copy of e that also carries cause.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

// Failure wraps a status code reported by the engine. Non-negative codes are
// not failures and are mapped to StatusEngineFailure.
func Failure(op string, code Status) *Error {
	if code >= 0 {
		code = StatusEngineFailure
	}
	return &Error{Kind: KindEngine, Code: code, Op: op, Part: -1}
}

// AsEngineError passes err through when it is already an *Error and wraps it
// as an engine failure otherwise.
func AsEngineError(op string, part int, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindEngine, Code: StatusEngineFailure, Op: op, Part: part, Err: err}
}

// StatusOf maps err to its numeric status: zero for nil, the carried code for
// an *Error and StatusEngineFailure for anything else.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return StatusEngineFailure
}

// KindOf returns the error kind of err, or the empty kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindEngine
}
