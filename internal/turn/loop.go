package turn

import (
	"context"
	"sync"
	"time"
)

// Loop serialises controller work onto one goroutine.
type Loop interface {
	Post(fn func())
	// After runs fn on the loop once d has elapsed. The returned func cancels
	// it if it has not fired yet.
	After(d time.Duration, fn func()) (cancel func())
}

// EventLoop is a Loop backed by a buffered channel of closures.
type EventLoop struct {
	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func NewEventLoop(buffer int) *EventLoop {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventLoop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Run drains tasks until ctx ends or Stop is called.
func (l *EventLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.done:
			return nil
		case fn := <-l.tasks:
			fn()
		}
	}
}

func (l *EventLoop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

func (l *EventLoop) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() { l.Post(fn) })
	return func() { t.Stop() }
}

func (l *EventLoop) Stop() {
	l.closeOnce.Do(func() { close(l.done) })
}

// Do posts fn and waits until it ran on the loop.
func (l *EventLoop) Do(fn func()) {
	ran := make(chan struct{})
	l.Post(func() {
		defer close(ran)
		fn()
	})
	select {
	case <-ran:
	case <-l.done:
	}
}
