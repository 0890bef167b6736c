package scene

import (
	"context"
	"errors"

	errorslib "github.com/goliatone/go-errors"
)

// ErrorKind defines scene pipeline error kinds.
type ErrorKind string

const (
	KindConfiguration       ErrorKind = "configuration"
	KindPrecondition        ErrorKind = "precondition"
	KindUnsupportedFormat   ErrorKind = "unsupported_format"
	KindUnsupportedProperty ErrorKind = "unsupported_property"
	KindEngine              ErrorKind = "engine"
	KindValidation          ErrorKind = "validation"
	KindNotFound            ErrorKind = "not_found"
	KindConflict            ErrorKind = "conflict"
	KindTimeout             ErrorKind = "timeout"
	KindCanceled            ErrorKind = "canceled"
	KindInternal            ErrorKind = "internal"
)

// SceneError wraps errors with a kind.
type SceneError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *SceneError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *SceneError) Unwrap() error {
	return e.Err
}

// NewError creates a new scene error.
func NewError(kind ErrorKind, msg string, err error) *SceneError {
	return &SceneError{Kind: kind, Msg: msg, Err: err}
}

// EngineError wraps a failure reported by the external engine. Errors that
// already carry a kind are returned unchanged.
func EngineError(msg string, err error) error {
	if err == nil {
		return nil
	}
	var sceneErr *SceneError
	if errors.As(err, &sceneErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return NewError(KindEngine, msg, err)
}

// AsGoError maps an error into a go-errors error.
func AsGoError(err error) *errorslib.Error {
	if err == nil {
		return nil
	}

	var ge *errorslib.Error
	if errors.As(err, &ge) {
		return ge
	}

	kind := KindFromError(err)
	msg := err.Error()

	var sceneErr *SceneError
	if errors.As(err, &sceneErr) && sceneErr.Msg != "" {
		msg = sceneErr.Msg
	}

	category := errorslib.CategoryOperation
	switch kind {
	case KindConfiguration, KindValidation, KindPrecondition:
		category = errorslib.CategoryValidation
	case KindNotFound:
		category = errorslib.CategoryNotFound
	case KindInternal:
		category = errorslib.CategoryInternal
	}
	// the source stays reachable so KindFromError still works on the result
	return errorslib.Wrap(err, category, msg).WithTextCode(string(kind))
}

// KindFromError maps an error to its scene error kind.
func KindFromError(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var sceneErr *SceneError
	if errors.As(err, &sceneErr) {
		return sceneErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	return KindInternal
}
