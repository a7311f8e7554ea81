package services

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"netguard-console/internal/logging"
)

// EventLoop runs callbacks one at a time on a single goroutine. All console
// state (alert store, statistics snapshot, push channel state) is owned by the
// loop, so it needs no locks. Blocking work runs elsewhere and hands its
// completion back with Post.
type EventLoop struct {
	tasks    chan func()
	done     chan struct{}
	stopped  chan struct{}
	running  atomic.Bool
	stopOnce sync.Once
}

// NewEventLoop returns a loop whose queue holds up to buffer pending callbacks.
func NewEventLoop(buffer int) *EventLoop {
	if buffer <= 0 {
		buffer = 256
	}
	return &EventLoop{
		tasks:   make(chan func(), buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the loop goroutine. Calling it twice is a no-op.
func (l *EventLoop) Start() {
	if !l.running.CompareAndSwap(false, true) {
		return
	}
	go l.run()
}

func (l *EventLoop) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.done:
			return
		case fn := <-l.tasks:
			// done may have closed while fn was queued; it must not run.
			select {
			case <-l.done:
				return
			default:
			}
			l.invoke(fn)
		}
	}
}

func (l *EventLoop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("event loop callback panicked")
		}
	}()
	fn()
}

// Post queues fn. It returns false, dropping fn, once the loop is stopped.
func (l *EventLoop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case <-l.done:
		return false
	case l.tasks <- fn:
		return true
	}
}

// Call posts fn and waits for it to finish. It must not be called from a
// loop callback.
func (l *EventLoop) Call(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.stopped:
	case <-l.done:
		// fn may be the callback still running when Stop was called.
		if l.running.Load() {
			select {
			case <-finished:
				return true
			case <-l.stopped:
			}
		}
	}
	select {
	case <-finished:
		return true
	default:
		return false
	}
}

// Stop ends the loop; callbacks still queued are dropped. It does not wait
// and may be called from a loop callback.
func (l *EventLoop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
}

// Wait blocks until the loop goroutine has exited. It must not be called from
// a loop callback.
func (l *EventLoop) Wait() {
	if !l.running.Load() {
		return
	}
	<-l.stopped
}

// Done is closed once Stop has been called.
func (l *EventLoop) Done() <-chan struct{} {
	return l.done
}

// LoopTimer is a timer whose callback runs on the loop. Once Stop has been
// called from a loop callback, the timer's callback never runs again, even if
// it had already fired and was queued.
type LoopTimer struct {
	cancelled atomic.Bool
	timer     *time.Timer
	quit      chan struct{}
	quitOnce  sync.Once
}

// Stop cancels the timer. Safe to call more than once.
func (t *LoopTimer) Stop() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
	if t.timer != nil {
		t.timer.Stop()
	}
	if t.quit != nil {
		t.quitOnce.Do(func() { close(t.quit) })
	}
}

// AfterFunc runs fn on the loop once d has elapsed.
func (l *EventLoop) AfterFunc(d time.Duration, fn func()) *LoopTimer {
	t := &LoopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.cancelled.Load() {
				return
			}
			fn()
		})
	})
	return t
}

// Every runs fn on the loop each time d elapses, until stopped.
func (l *EventLoop) Every(d time.Duration, fn func()) *LoopTimer {
	t := &LoopTimer{quit: make(chan struct{})}
	ticker := time.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.quit:
				return
			case <-l.done:
				return
			case <-ticker.C:
				l.Post(func() {
					if t.cancelled.Load() {
						return
					}
					fn()
				})
			}
		}
	}()
	return t
}
