// Package fifo implements the bounded per-device request queues and their dispatch workers.
package fifo

import (
	"sync"
	"sync/atomic"

	"github.com/pccr10001/trunkie/internal/ring"
	"github.com/pccr10001/trunkie/pkg/logger"
)

// Handler processes one dequeued request. Returned errors are logged, never fatal.
type Handler[R any] func(R) error

type Stats struct {
	Enqueued   uint64 `json:"enqueued"`
	Dropped    uint64 `json:"dropped"`
	Dispatched uint64 `json:"dispatched"`
	Failed     uint64 `json:"failed"`
	Pending    int    `json:"pending"`
}

// Fifo is a bounded queue with many producers and one worker goroutine.
type Fifo[R any] struct {
	name    string
	device  int
	ring    *ring.Ring[R]
	handler Handler[R]

	guard  sync.Mutex // serializes producers; the ring itself allows only one
	wakeup chan struct{}

	stop      chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
	stopped   atomic.Bool
	wg        sync.WaitGroup

	enqueued   atomic.Uint64
	dropped    atomic.Uint64
	dispatched atomic.Uint64
	failed     atomic.Uint64
}

// New creates a queue holding up to capacity requests. The worker starts with Start.
func New[R any](name string, device, capacity int, handler Handler[R]) *Fifo[R] {
	if capacity < 1 {
		capacity = 1
	}
	return &Fifo[R]{
		name:    name,
		device:  device,
		ring:    ring.New[R](capacity + 1),
		handler: handler,
		wakeup:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

func (f *Fifo[R]) Device() int { return f.device }

// Enqueue adds r without blocking. It returns false when the queue is full or stopped;
// the caller decides whether to log or drop.
func (f *Fifo[R]) Enqueue(r R) bool {
	f.guard.Lock()
	ok := !f.stopped.Load() && f.ring.TryPush(r)
	f.guard.Unlock()

	if !ok {
		f.dropped.Add(1)
		return false
	}
	f.enqueued.Add(1)

	select {
	case f.wakeup <- struct{}{}:
	default:
	}
	return true
}

func (f *Fifo[R]) Start() {
	f.startOnce.Do(func() {
		f.wg.Add(1)
		go f.run()
	})
}

// Stop signals the worker and waits for it. Requests still queued are drained first;
// when the worker never ran they are drained on the caller's goroutine.
func (f *Fifo[R]) Stop() {
	f.stopOnce.Do(func() {
		f.guard.Lock()
		f.stopped.Store(true)
		f.guard.Unlock()
		close(f.stop)

		neverStarted := false
		f.startOnce.Do(func() { neverStarted = true })
		if neverStarted {
			f.drain()
		}
	})
	f.wg.Wait()
}

func (f *Fifo[R]) Len() int { return f.ring.Len() }

func (f *Fifo[R]) Stats() Stats {
	return Stats{
		Enqueued:   f.enqueued.Load(),
		Dropped:    f.dropped.Load(),
		Dispatched: f.dispatched.Load(),
		Failed:     f.failed.Load(),
		Pending:    f.ring.Len(),
	}
}

func (f *Fifo[R]) run() {
	defer f.wg.Done()
	logger.Log.Debugf("[%s:%d] Dispatch worker started", f.name, f.device)

	for {
		select {
		case <-f.stop:
			f.drain()
			logger.Log.Debugf("[%s:%d] Dispatch worker stopped", f.name, f.device)
			return
		case <-f.wakeup:
			f.drain()
		}
	}
}

func (f *Fifo[R]) drain() {
	for {
		slot, ok := f.ring.BeginConsume()
		if !ok {
			return
		}
		r := *slot
		f.ring.CommitConsume()
		f.dispatch(r)
	}
}

func (f *Fifo[R]) dispatch(r R) {
	defer func() {
		if p := recover(); p != nil {
			f.failed.Add(1)
			logger.Log.Errorf("[%s:%d] Handler panic: %v", f.name, f.device, p)
		}
	}()

	if err := f.handler(r); err != nil {
		f.failed.Add(1)
		logger.Log.Warnf("[%s:%d] Dispatch failed: %v", f.name, f.device, err)
		return
	}
	f.dispatched.Add(1)
}
