package locks

import (
	"testing"
	"time"
)

func TestWaitGroupWaitAfterDone(t *testing.T) {
	wg := NewWaitGroup()
	wg.Add()
	wg.Done()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return for a zero counter")
	}
}

func TestWaitGroupAddWhileWaiting(t *testing.T) {
	wg := NewWaitGroup()
	wg.Add()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	// Add a second unit of work while a waiter is blocked.
	wg.Add()
	wg.Done()

	select {
	case <-done:
		t.Fatalf("Wait returned while the counter was still positive")
	case <-time.After(10 * time.Millisecond):
	}

	wg.Done()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after the counter dropped to zero")
	}
}

func TestWaitGroupDoneBeforeAddPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Done before Add did not panic")
		}
	}()
	NewWaitGroup().Done()
}
