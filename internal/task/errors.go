package task

import (
	"errors"
	"fmt"
)

// ErrContractViolation marks programming errors such as settling a Task twice.
var ErrContractViolation = errors.New("task: contract violation")

// ContractViolation is the panic value raised when a Task is misused.
type ContractViolation struct {
	Reason string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("task: contract violation: %s", e.Reason)
}

func (e *ContractViolation) Unwrap() error {
	return ErrContractViolation
}

// PanicError carries a panic recovered from a unit of work.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task: work panicked: %v", e.Value)
}

// ErrCancelled is returned by Await for a Task cancelled before settling.
var ErrCancelled = errors.New("task: cancelled")
