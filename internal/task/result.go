package task

import "errors"

// ErrMissingError substitutes a nil error handed to Failure so that a failed
// Result never has an empty error arm.
var ErrMissingError = errors.New("task: failure without error")

// Result holds exactly one of a value or an error.
type Result[T any] struct {
	value T
	err   error
	ok    bool
}

// Success wraps a value.
func Success[T any](value T) Result[T] {
	return Result[T]{value: value, ok: true}
}

// Failure wraps an error. A nil err is replaced by ErrMissingError.
func Failure[T any](err error) Result[T] {
	if err == nil {
		err = ErrMissingError
	}
	return Result[T]{err: err}
}

// Value returns the value arm and whether it is populated.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.ok
}

// Err returns the error arm, nil for a successful Result.
func (r Result[T]) Err() error {
	if r.ok {
		return nil
	}
	return r.err
}

// Succeeded reports whether the value arm is populated.
func (r Result[T]) Succeeded() bool {
	return r.ok
}

// Unwrap returns the value and error in the usual Go order.
func (r Result[T]) Unwrap() (T, error) {
	return r.value, r.Err()
}
