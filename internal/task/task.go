package task

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Work is the unit of computation a Task runs. The context is cancelled when
// the Task is cancelled.
type Work[T any] func(ctx context.Context) (T, error)

// ListenerID identifies a registered listener for later removal.
type ListenerID uint64

// Executor carries what every Task needs: the delivery Looper, the diagnostic
// sink for unhandled failures, and whether work runs inline.
type Executor struct {
	looper *Looper
	logger logrus.FieldLogger
	inline bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithInlineWork runs each unit of work on the constructing goroutine before
// New returns. Tests use it to make execution deterministic.
func WithInlineWork() Option {
	return func(e *Executor) {
		e.inline = true
	}
}

// NewExecutor binds tasks to looper for delivery and logger for failures that
// nobody listens to.
func NewExecutor(looper *Looper, logger logrus.FieldLogger, opts ...Option) *Executor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &Executor{looper: looper, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Looper returns the delivery context.
func (e *Executor) Looper() *Looper {
	return e.looper
}

type successEntry[T any] struct {
	id ListenerID
	fn func(T)
}

type failureEntry struct {
	id ListenerID
	fn func(error)
}

// Task is a one-shot asynchronous computation. It moves from pending to
// settled exactly once; every listener observes at most that one settlement.
type Task[T any] struct {
	exec *Executor

	mu        sync.Mutex
	result    *Result[T]
	cancelled bool
	nextID    ListenerID
	success   []successEntry[T]
	failure   []failureEntry
	onCancel  []func()
	onSettle  []func(Result[T])
	awaited   bool

	settled atomic.Bool
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a Task and starts work on its own goroutine, or inline when the
// executor was built with WithInlineWork.
func New[T any](exec *Executor, work Work[T]) *Task[T] {
	t := newTask[T](exec)
	t.start(work)
	return t
}

// NewAwaited is New for a creator that will Await the result itself. Its
// failures count as handled and never reach the diagnostic sink.
func NewAwaited[T any](exec *Executor, work Work[T]) *Task[T] {
	t := newTask[T](exec)
	t.awaited = true
	t.start(work)
	return t
}

// Completed returns a Task already settled with result; no work runs.
func Completed[T any](exec *Executor, result Result[T]) *Task[T] {
	t := newTask[T](exec)
	t.settle(result)
	return t
}

func newTask[T any](exec *Executor) *Task[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task[T]{
		exec:   exec,
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (t *Task[T]) start(work Work[T]) {
	if t.exec.inline {
		t.execute(work)
		return
	}
	go t.execute(work)
}

func (t *Task[T]) execute(work Work[T]) {
	t.mu.Lock()
	cancelled := t.cancelled
	t.mu.Unlock()
	if cancelled {
		return
	}

	result := t.call(work)
	t.settle(result)
}

func (t *Task[T]) call(work Work[T]) (result Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			result = Failure[T](&PanicError{Value: r})
		}
	}()
	value, err := work(t.ctx)
	if err != nil {
		return Failure[T](err)
	}
	return Success(value)
}

// settle records the outcome and schedules listener delivery. A second call
// panics with a *ContractViolation. A cancelled Task never settles.
func (t *Task[T]) settle(result Result[T]) {
	t.mu.Lock()
	if t.result != nil {
		t.mu.Unlock()
		panic(&ContractViolation{Reason: "a task may only be settled once"})
	}
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.result = &result
	t.settled.Store(true)
	close(t.done)
	hooks := t.onSettle
	t.onSettle = nil
	t.mu.Unlock()

	t.cancel()
	for _, fn := range hooks {
		fn(result)
	}
	t.notify()
}

func (t *Task[T]) notify() {
	if t.exec.looper == nil || !t.exec.looper.Post(t.deliver) {
		t.exec.logger.WithField("action", "task_notify").Debug("delivery context closed, listeners skipped")
	}
}

func (t *Task[T]) deliver() {
	t.mu.Lock()
	result := t.result
	t.mu.Unlock()
	if result == nil {
		return
	}
	if value, ok := result.Value(); ok {
		t.notifySuccess(value)
		return
	}
	t.notifyFailure(result.Err())
}

func (t *Task[T]) notifySuccess(value T) {
	t.mu.Lock()
	listeners := make([]successEntry[T], len(t.success))
	copy(listeners, t.success)
	t.mu.Unlock()

	for _, l := range listeners {
		l.fn(value)
	}
}

func (t *Task[T]) notifyFailure(err error) {
	t.mu.Lock()
	listeners := make([]failureEntry, len(t.failure))
	copy(listeners, t.failure)
	t.mu.Unlock()

	if len(listeners) == 0 {
		if t.awaited {
			return
		}
		t.exec.logger.WithError(err).
			WithField("action", "task_unhandled_failure").
			Warn("task failed but no failure listener was added")
		return
	}
	for _, l := range listeners {
		l.fn(err)
	}
}

// AddListener registers fn for the success arm. When the Task already holds a
// value fn is also invoked immediately on the calling goroutine.
func (t *Task[T]) AddListener(fn func(T)) ListenerID {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.success = append(t.success, successEntry[T]{id: id, fn: fn})
	result := t.result
	t.mu.Unlock()

	if result != nil {
		if value, ok := result.Value(); ok {
			fn(value)
		}
	}
	return id
}

// AddFailureListener registers fn for the error arm. When the Task already
// holds an error fn is also invoked immediately on the calling goroutine.
func (t *Task[T]) AddFailureListener(fn func(error)) ListenerID {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.failure = append(t.failure, failureEntry{id: id, fn: fn})
	result := t.result
	t.mu.Unlock()

	if result != nil && !result.Succeeded() {
		fn(result.Err())
	}
	return id
}

// RemoveListener detaches a success listener. Safe to call from a callback.
func (t *Task[T]) RemoveListener(id ListenerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, l := range t.success {
		if l.id == id {
			t.success = append(t.success[:i:i], t.success[i+1:]...)
			return
		}
	}
}

// RemoveFailureListener detaches a failure listener. Safe to call from a callback.
func (t *Task[T]) RemoveFailureListener(id ListenerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, l := range t.failure {
		if l.id == id {
			t.failure = append(t.failure[:i:i], t.failure[i+1:]...)
			return
		}
	}
}

// OnSettle registers fn to run on the settling goroutine, before listener
// delivery is scheduled. It is not a listener: a failure seen only by OnSettle
// hooks still reaches the diagnostic sink. If the Task has already settled fn
// runs immediately on the calling goroutine.
func (t *Task[T]) OnSettle(fn func(Result[T])) {
	t.mu.Lock()
	if t.result != nil {
		result := *t.result
		t.mu.Unlock()
		fn(result)
		return
	}
	t.onSettle = append(t.onSettle, fn)
	t.mu.Unlock()
}

// OnCancel registers fn to run when the Task is cancelled. If it already was,
// fn runs immediately on the calling goroutine.
func (t *Task[T]) OnCancel(fn func()) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		fn()
		return
	}
	t.onCancel = append(t.onCancel, fn)
	t.mu.Unlock()
}

// Cancel suppresses settlement if the Task has not settled yet. The work's
// context is cancelled, no listener is ever invoked, and Cancel reports true.
// It is a no-op returning false on a settled or already cancelled Task.
func (t *Task[T]) Cancel() bool {
	t.mu.Lock()
	if t.result != nil || t.cancelled {
		t.mu.Unlock()
		return false
	}
	t.cancelled = true
	hooks := t.onCancel
	t.onCancel = nil
	t.mu.Unlock()

	t.cancel()
	for _, fn := range hooks {
		fn()
	}
	return true
}

// Settled reports whether the Task holds a Result. It is lock-free.
func (t *Task[T]) Settled() bool {
	return t.settled.Load()
}

// Result returns the settled Result, if any.
func (t *Task[T]) Result() (Result[T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result == nil {
		return Result[T]{}, false
	}
	return *t.result, true
}

// Await blocks until the Task settles, is cancelled (ErrCancelled) or ctx is
// done.
func (t *Task[T]) Await(ctx context.Context) (Result[T], error) {
	select {
	case <-t.done:
		result, _ := t.Result()
		return result, nil
	case <-t.ctx.Done():
		if result, ok := t.Result(); ok {
			return result, nil
		}
		return Result[T]{}, ErrCancelled
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	}
}
