package task

import (
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestLooperRunsInPostingOrder(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	looper := NewLooper(logger)
	defer looper.Close()

	var order []int
	for i := 0; i < 100; i++ {
		i := i
		looper.Post(func() { order = append(order, i) })
	}
	looper.Flush()

	if len(order) != 100 {
		t.Fatalf("expected 100 callbacks, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("callback %d ran at position %d", v, i)
		}
	}
}

func TestLooperCallbackMayPost(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	looper := NewLooper(logger)
	defer looper.Close()

	done := make(chan struct{})
	looper.Post(func() {
		looper.Post(func() { close(done) })
	})
	<-done
}

func TestLooperSurvivesPanickingCallback(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	looper := NewLooper(logger)
	defer looper.Close()

	looper.Post(func() { panic("listener bug") })
	ran := false
	looper.Post(func() { ran = true })
	looper.Flush()

	if !ran {
		t.Fatalf("looper should keep running after a callback panics")
	}
	if hook.LastEntry() == nil {
		t.Fatalf("panic should be logged")
	}
}

func TestLooperRejectsAfterClose(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	looper := NewLooper(logger)

	ran := false
	looper.Post(func() { ran = true })
	looper.Close()
	if !ran {
		t.Fatalf("queued callbacks should drain on close")
	}
	if looper.Post(func() {}) {
		t.Fatalf("post after close should report false")
	}
	looper.Flush()
	looper.Close()
}
