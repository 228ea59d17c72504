package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func newTestExecutor(t *testing.T, opts ...Option) (*Executor, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	looper := NewLooper(logger)
	t.Cleanup(looper.Close)
	return NewExecutor(looper, logger, opts...), hook
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
	var zero T
	return zero
}

func TestTaskDeliversValueToListeners(t *testing.T) {
	exec, _ := newTestExecutor(t)
	release := make(chan struct{})
	task := New(exec, func(context.Context) (string, error) {
		<-release
		return "file.mp4", nil
	})

	got := make(chan string, 2)
	task.AddListener(func(v string) { got <- v })
	task.AddListener(func(v string) { got <- v })
	close(release)

	if v := waitFor(t, got); v != "file.mp4" {
		t.Fatalf("unexpected value %q", v)
	}
	if v := waitFor(t, got); v != "file.mp4" {
		t.Fatalf("unexpected value %q", v)
	}
}

func TestTaskDeliversErrorToFailureListeners(t *testing.T) {
	exec, _ := newTestExecutor(t)
	boom := errors.New("boom")
	task := New(exec, func(context.Context) (string, error) {
		return "", boom
	})

	got := make(chan error, 1)
	task.AddFailureListener(func(err error) { got <- err })
	task.AddListener(func(string) { t.Errorf("success listener must not fire") })

	if err := waitFor(t, got); !errors.Is(err, boom) {
		t.Fatalf("unexpected error %v", err)
	}
	exec.Looper().Flush()
}

func TestTaskLateListenerFiresSynchronously(t *testing.T) {
	exec, _ := newTestExecutor(t, WithInlineWork())
	task := New(exec, func(context.Context) (int, error) { return 7, nil })
	if !task.Settled() {
		t.Fatalf("inline work should settle before New returns")
	}
	exec.Looper().Flush()

	var calls int
	task.AddListener(func(v int) {
		if v != 7 {
			t.Errorf("unexpected value %d", v)
		}
		calls++
	})
	if calls != 1 {
		t.Fatalf("expected immediate synchronous delivery, got %d calls", calls)
	}

	exec.Looper().Flush()
	if calls != 1 {
		t.Fatalf("listener added after delivery must not be called again, got %d", calls)
	}
}

func TestTaskSettleTwiceIsContractViolation(t *testing.T) {
	exec, _ := newTestExecutor(t, WithInlineWork())
	task := New(exec, func(context.Context) (int, error) { return 1, nil })

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrContractViolation) {
			t.Fatalf("expected contract violation panic, got %v", r)
		}
	}()
	task.settle(Success(2))
	t.Fatalf("second settle should panic")
}

func TestTaskUnhandledFailureGoesToDiagnosticSink(t *testing.T) {
	exec, hook := newTestExecutor(t, WithInlineWork())
	New(exec, func(context.Context) (int, error) { return 0, errors.New("transport down") })
	exec.Looper().Flush()

	var found bool
	for _, entry := range hook.AllEntries() {
		if entry.Data["action"] == "task_unhandled_failure" && entry.Level == logrus.WarnLevel {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unhandled failure warning, entries=%v", hook.AllEntries())
	}
}

func TestTaskRecoversPanickingWork(t *testing.T) {
	exec, _ := newTestExecutor(t, WithInlineWork())
	task := New(exec, func(context.Context) (int, error) { panic("bad decoder") })

	result, ok := task.Result()
	if !ok {
		t.Fatalf("task should be settled")
	}
	var perr *PanicError
	if !errors.As(result.Err(), &perr) {
		t.Fatalf("expected PanicError, got %v", result.Err())
	}
}

func TestTaskRemoveListenerFromCallback(t *testing.T) {
	exec, _ := newTestExecutor(t)
	release := make(chan struct{})
	task := New(exec, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})

	var first, second int32
	var id ListenerID
	id = task.AddListener(func(int) {
		atomic.AddInt32(&first, 1)
		task.RemoveListener(id)
	})
	task.AddListener(func(int) { atomic.AddInt32(&second, 1) })
	close(release)

	if _, err := task.Await(context.Background()); err != nil {
		t.Fatalf("await failed: %v", err)
	}
	exec.Looper().Flush()
	if atomic.LoadInt32(&first) != 1 || atomic.LoadInt32(&second) != 1 {
		t.Fatalf("unexpected calls first=%d second=%d", first, second)
	}

	task.RemoveFailureListener(ListenerID(999))
	task.AddListener(func(int) {})
	task.mu.Lock()
	n := len(task.success)
	task.mu.Unlock()
	if n != 2 {
		t.Fatalf("expected removed listener to stay detached, have %d listeners", n)
	}
}

func TestTaskCancelSuppressesSettlement(t *testing.T) {
	exec, hook := newTestExecutor(t)
	started := make(chan struct{})
	task := New(exec, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	<-started

	var hookCalls int32
	task.OnCancel(func() { atomic.AddInt32(&hookCalls, 1) })
	task.AddListener(func(int) { t.Errorf("no listener may fire after cancel") })
	task.AddFailureListener(func(error) { t.Errorf("no failure listener may fire after cancel") })

	if !task.Cancel() {
		t.Fatalf("cancel of a pending task should succeed")
	}
	if task.Cancel() {
		t.Fatalf("second cancel should report false")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := task.Await(ctx); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	exec.Looper().Flush()

	if task.Settled() {
		t.Fatalf("cancelled task must not settle")
	}
	if atomic.LoadInt32(&hookCalls) != 1 {
		t.Fatalf("cancel hook should run once, got %d", hookCalls)
	}
	for _, entry := range hook.AllEntries() {
		if entry.Data["action"] == "task_unhandled_failure" {
			t.Fatalf("cancelled task must not reach the diagnostic sink")
		}
	}
}

func TestCompletedTaskRunsNoWork(t *testing.T) {
	exec, _ := newTestExecutor(t)
	task := Completed(exec, Success("cached.mp4"))

	if !task.Settled() {
		t.Fatalf("completed task should be settled")
	}
	if task.Cancel() {
		t.Fatalf("settled task cannot be cancelled")
	}
	got := make(chan string, 2)
	task.AddListener(func(v string) { got <- v })
	if v := waitFor(t, got); v != "cached.mp4" {
		t.Fatalf("unexpected value %q", v)
	}
}

func TestListenersForOneSettlementAreSerialized(t *testing.T) {
	exec, _ := newTestExecutor(t)
	release := make(chan struct{})
	task := New(exec, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})

	var (
		mu      sync.Mutex
		active  int
		overlap bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		task.AddListener(func(int) {
			defer wg.Done()
			mu.Lock()
			active++
			if active > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		})
	}
	close(release)
	wg.Wait()
	if overlap {
		t.Fatalf("listeners ran concurrently on the delivery context")
	}
}

func TestOnSettleRunsBeforeDeliveryAndIsNotAListener(t *testing.T) {
	exec, hook := newTestExecutor(t)
	release := make(chan struct{})
	task := New(exec, func(context.Context) (int, error) {
		<-release
		return 0, errors.New("decode failed")
	})

	hookRan := make(chan error, 1)
	task.OnSettle(func(r Result[int]) { hookRan <- r.Err() })
	close(release)

	if err := waitFor(t, hookRan); err == nil {
		t.Fatalf("settle hook should see the failure")
	}

	// delivery is posted right after the hook returns
	var warned bool
	deadline := time.Now().Add(2 * time.Second)
	for !warned && time.Now().Before(deadline) {
		exec.Looper().Flush()
		for _, entry := range hook.AllEntries() {
			if entry.Data["action"] == "task_unhandled_failure" {
				warned = true
			}
		}
		if !warned {
			time.Sleep(time.Millisecond)
		}
	}
	if !warned {
		t.Fatalf("settle hooks must not suppress the diagnostic sink")
	}

	late := 0
	task.OnSettle(func(Result[int]) { late++ })
	if late != 1 {
		t.Fatalf("hook added after settlement should run immediately")
	}
}

func TestAwaitedTaskFailureSkipsDiagnosticSink(t *testing.T) {
	exec, hook := newTestExecutor(t)
	task := NewAwaited(exec, func(context.Context) (int, error) {
		return 0, errors.New("decode failed")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := task.Await(ctx)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if result.Succeeded() {
		t.Fatalf("expected failure result")
	}
	exec.Looper().Flush()
	for _, entry := range hook.AllEntries() {
		if entry.Data["action"] == "task_unhandled_failure" {
			t.Fatalf("awaited task failure must not reach the diagnostic sink")
		}
	}
}
