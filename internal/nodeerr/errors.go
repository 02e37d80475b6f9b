// Package nodeerr classifies node-level errors into the kinds the
// orchestrator, worker pool, and registry distinguish between when
// deciding whether to log-and-continue, map to an acceptance verdict, or
// abort startup.
package nodeerr

import (
	"errors"
	"fmt"
)

// Kind identifies how an error should propagate.
type Kind string

const (
	// Config errors are fatal at startup.
	Config Kind = "config"
	// Transport errors are logged; the operation is retried on the next
	// event.
	Transport Kind = "transport"
	// Codec errors are per-message and map to an Ignore verdict.
	Codec Kind = "codec"
	// Auth errors are per-message and map to an Ignore verdict.
	Auth Kind = "auth"
	// Registry errors are logged; the registry keeps its prior state.
	Registry Kind = "registry"
	// Executor errors are per-task and produce an error response.
	Executor Kind = "executor"
	// Cancelled errors are per-task, produce an error response, and
	// terminate the owning loop.
	Cancelled Kind = "cancelled"
)

// Error wraps an underlying error with the Kind that determines how the
// caller should propagate it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of kind for operation op wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a nodeerr.Error of kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	ne := as(err)
	return ne != nil && ne.Kind == kind
}

// KindOf reports the Kind of err, unwrapping as needed, or the empty Kind
// if err was never wrapped by New.
func KindOf(err error) Kind {
	if ne := as(err); ne != nil {
		return ne.Kind
	}
	return ""
}

func as(err error) *Error {
	var ne *Error
	if errors.As(err, &ne) {
		return ne
	}
	return nil
}
