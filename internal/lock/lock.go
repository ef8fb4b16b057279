// Package lock provides the non-blocking advisory locks guarding channel state.
package lock

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrLockFailed = errors.New("could not acquire channel lock")

func IsLockFailedError(err error) bool {
	return errors.Is(err, ErrLockFailed)
}

type Result int

const (
	Success Result = iota
	InUse
	Failure
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case InUse:
		return "in use"
	case Failure:
		return "failure"
	}
	return "unknown"
}

// Lockable is a single-attempt lock. Release of an unheld lock is a no-op.
type Lockable interface {
	TryAcquire() Result
	Release()
}

// Mutex is a Lockable backed by sync.Mutex.TryLock. Once closed every attempt fails.
type Mutex struct {
	mu     sync.Mutex
	held   atomic.Bool
	closed atomic.Bool
}

func (m *Mutex) TryAcquire() Result {
	if m.closed.Load() {
		return Failure
	}
	if !m.mu.TryLock() {
		return InUse
	}
	m.held.Store(true)
	return Success
}

func (m *Mutex) Release() {
	if m.held.CompareAndSwap(true, false) {
		m.mu.Unlock()
	}
}

// Close makes later acquisitions report Failure; a current holder keeps the lock.
func (m *Mutex) Close() {
	m.closed.Store(true)
}

// Spin is a Lockable over a single atomic word.
type Spin struct {
	state  atomic.Int32
	closed atomic.Bool
}

func (s *Spin) TryAcquire() Result {
	if s.closed.Load() {
		return Failure
	}
	if s.state.CompareAndSwap(0, 1) {
		return Success
	}
	return InUse
}

func (s *Spin) Release() {
	s.state.CompareAndSwap(1, 0)
}

func (s *Spin) Close() {
	s.closed.Store(true)
}

// Guard releases a lock obtained by Acquire. Unlock may be called more than once.
type Guard struct {
	l    Lockable
	once sync.Once
}

func (g *Guard) Unlock() {
	if g == nil {
		return
	}
	g.once.Do(g.l.Release)
}

// AcquireWithRetry tries l up to attempts times, sleeping delay between tries.
// It never blocks beyond attempts*delay and reports ErrLockFailed on exhaustion
// or on a Failure result.
func AcquireWithRetry(l Lockable, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		switch l.TryAcquire() {
		case Success:
			return nil
		case Failure:
			return ErrLockFailed
		}
		if i+1 < attempts {
			time.Sleep(delay)
		}
	}
	return ErrLockFailed
}

// Acquire is AcquireWithRetry returning a Guard for deferred release.
func Acquire(l Lockable, attempts int, delay time.Duration) (*Guard, error) {
	if err := AcquireWithRetry(l, attempts, delay); err != nil {
		return nil, err
	}
	return &Guard{l: l}, nil
}
