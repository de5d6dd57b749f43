package locks

import (
	"sync"
	"sync/atomic"
)

// WaitGroup is a sync.WaitGroup alternative that allows calling Add()
// concurrently with Wait().
type WaitGroup struct {
	counter  int64
	waitCond *sync.Cond
}

// NewWaitGroup returns a new WaitGroup with a zero counter.
func NewWaitGroup() *WaitGroup {
	return &WaitGroup{
		waitCond: sync.NewCond(&sync.Mutex{}),
	}
}

// Add increments the WaitGroup counter by one.
func (wg *WaitGroup) Add() {
	atomic.AddInt64(&wg.counter, 1)
}

// Done decrements the WaitGroup counter by one, waking any waiters when the
// counter reaches zero.
func (wg *WaitGroup) Done() {
	counter := atomic.AddInt64(&wg.counter, -1)
	if counter == 0 {
		wg.waitCond.L.Lock()
		wg.waitCond.Signal()
		wg.waitCond.L.Unlock()
	}
	if counter < 0 {
		panic("negative values for wg.counter are not allowed. It's probably because Done() was called before Add()")
	}
}

// Wait blocks until the WaitGroup counter is zero.
func (wg *WaitGroup) Wait() {
	wg.waitCond.L.Lock()
	defer wg.waitCond.L.Unlock()
	for atomic.LoadInt64(&wg.counter) != 0 {
		wg.waitCond.Wait()
	}
}
