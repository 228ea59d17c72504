package loader

import (
	"errors"
	"fmt"
)

// 错误分类，使用 errors.Is 判断。
var (
	ErrTransport = errors.New("transport failure")
	ErrIO        = errors.New("io failure")
	ErrNotFound  = errors.New("resource not found")
)

// Error 记录失败的操作、资源来源以及分类。
type Error struct {
	Kind   error
	Op     string
	Source string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Source, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 同时暴露分类与底层错误。
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, source string, err error) *Error {
	return &Error{Kind: kind, Op: op, Source: source, Err: err}
}
