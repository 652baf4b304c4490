package dap

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/chanx"

	"github.com/timcharper/dape/internal/logflags"
)

// Loop runs posted functions one at a time on a single goroutine.
//
// All handler code of every connection runs on the loop, so session state
// needs no locks: a message is fully handled before the next one starts,
// and messages from one connection are handled in arrival order. Code
// outside the loop reaches session state through Do or Call.
type Loop struct {
	queue  *chanx.UnboundedChan[func()]
	cancel context.CancelFunc
	done   chan struct{}
	log    *logrus.Entry

	mu     sync.RWMutex
	closed bool
}

// NewLoop creates a loop and starts its goroutine.
func NewLoop() *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		queue:  chanx.NewUnboundedChan[func()](ctx, 64),
		cancel: cancel,
		done:   make(chan struct{}),
		log:    logflags.SessionLogger(),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	defer l.cancel()
	for fn := range l.queue.Out {
		l.invoke(fn)
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorf("handler panicked: %v\n%s", r, debug.Stack())
		}
	}()
	fn()
}

// Do queues fn to run on the loop. It reports false if the loop has been
// closed, in which case fn never runs.
func (l *Loop) Do(fn func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	l.queue.In <- fn
	return true
}

// Call runs fn on the loop and waits for it to return. It must not be
// called from the loop goroutine.
func (l *Loop) Call(fn func()) bool {
	ran := make(chan struct{})
	if !l.Do(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}

// Close stops accepting work. Already queued functions still run. Close
// does not wait; use Done for that.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.queue.In)
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
