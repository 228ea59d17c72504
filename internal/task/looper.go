package task

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Looper serializes callbacks onto a single goroutine. It is the delivery
// context for Task listeners and idle notifications: everything posted runs
// in posting order and never concurrently with another posted callback.
//
// The queue is unbounded so that a callback may post further work without
// blocking the loop.
type Looper struct {
	logger logrus.FieldLogger

	mu      sync.Mutex
	pending []func()
	closed  bool

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewLooper starts the delivery goroutine. Close must be called to stop it.
func NewLooper(logger logrus.FieldLogger) *Looper {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	l := &Looper{
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
	l.wg.Add(1)
	go l.loop()
	return l
}

// Post schedules fn on the delivery goroutine. It returns false once the
// Looper has been closed.
func (l *Looper) Post(fn func()) bool {
	if fn == nil {
		return true
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush blocks until every callback posted before the call has run. It must
// not be called from the delivery goroutine itself.
func (l *Looper) Flush() {
	done := make(chan struct{})
	if !l.Post(func() { close(done) }) {
		return
	}
	<-done
}

// Close stops accepting callbacks, drains what is queued and waits for the
// delivery goroutine to exit.
func (l *Looper) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	l.wg.Wait()
}

func (l *Looper) loop() {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			l.run(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-l.wake
	}
}

func (l *Looper) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithFields(logrus.Fields{
				"action": "looper_callback",
				"panic":  r,
			}).Error("delivery callback panicked")
		}
	}()
	fn()
}
