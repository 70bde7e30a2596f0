package mouse_telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Timer is a cancellable scheduled callback
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay on a single goroutine.
// Components that take a Scheduler expect every call into them to come
// from that same goroutine.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Loop is a single-goroutine executor. Posted closures and timer callbacks
// run one at a time in the order they arrive.
type Loop struct {
	name   string
	tasks  chan func()
	done   chan struct{}
	exited chan struct{}
	logger *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewLoop creates a loop with the given task buffer
func NewLoop(name string, buffer int, logger *zap.Logger) *Loop {
	if buffer <= 0 {
		buffer = 1
	}
	return &Loop{
		name:   name,
		tasks:  make(chan func(), buffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		logger: logger.With(zap.String("loop", name)),
	}
}

// Start launches the loop goroutine
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

func (l *Loop) run() {
	defer close(l.exited)

	for {
		select {
		case <-l.done:
			return
		case task := <-l.tasks:
			l.exec(task)
		}
	}
}

func (l *Loop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Loop task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// Post queues f without blocking. It fails when the loop is stopped or its
// buffer is full.
func (l *Loop) Post(f func()) error {
	select {
	case <-l.done:
		return ErrLoopClosed
	default:
	}

	select {
	case l.tasks <- f:
		return nil
	case <-l.done:
		return ErrLoopClosed
	default:
		return ErrLoopFull
	}
}

// Call runs f on the loop and waits for it to finish
func (l *Loop) Call(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		f()
	}

	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Now implements Scheduler
func (l *Loop) Now() time.Time {
	return time.Now()
}

// AfterFunc implements Scheduler. The callback is delivered onto the loop,
// waiting for buffer space if needed.
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	lt := &loopTimer{}
	lt.timer = time.AfterFunc(d, func() {
		task := func() {
			if lt.stopped.Load() {
				return
			}
			f()
		}
		select {
		case l.tasks <- task:
		case <-l.done:
		}
	})
	return lt
}

// Stop terminates the loop. Pending tasks are discarded.
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.done)
	})

	// loop was never started
	started := true
	l.startOnce.Do(func() {
		started = false
		close(l.exited)
	})
	if !started {
		return nil
	}

	select {
	case <-l.exited:
		l.logger.Debug("Loop stopped gracefully")
		return nil
	case <-ctx.Done():
		l.logger.Warn("Loop stopped with timeout")
		return ctx.Err()
	}
}

type loopTimer struct {
	timer   *time.Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	t.stopped.Store(true)
	return t.timer.Stop()
}
