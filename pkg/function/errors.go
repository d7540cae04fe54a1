package function

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("invalid")
	ErrForbidden  = errors.New("forbidden")
	ErrRuntime    = errors.New("runtime fault")
	ErrStore      = errors.New("store fault")
)

// Error carries the kind plus whatever context the failing layer had:
// the offending ref, the pipeline step index (when InPipeline is set) and,
// for runtime faults, the partial response the runtime produced.
type Error struct {
	Kind       error
	Ref        Ref
	Step       int
	InPipeline bool
	Msg        string
	Err        error
	Response   *Response
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Ref != (Ref{}) {
		return fmt.Sprintf("%s: %s", e.Ref, msg)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NotFound reports a missing entry.
func NotFound(ref Ref) error {
	return &Error{Kind: ErrNotFound, Ref: ref, Msg: "code not found"}
}

// StoreFault wraps a backend failure.
func StoreFault(op string, err error) error {
	return &Error{Kind: ErrStore, Msg: op, Err: err}
}

// Fault is what a runtime returns when function code fails. Response is the
// partially evaluated result, nil when the runtime had none.
type Fault struct {
	Message  string
	Timeout  bool
	Response *Response
}

func (f *Fault) Error() string {
	if f.Timeout {
		return "execution timed out: " + f.Message
	}
	return f.Message
}

// StepOf returns the failing step index and ref when err came from a
// pipeline step.
func StepOf(err error) (Ref, int, bool) {
	var fe *Error
	if errors.As(err, &fe) && fe.InPipeline {
		return fe.Ref, fe.Step, true
	}
	return Ref{}, -1, false
}
