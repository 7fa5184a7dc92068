package scratch

import (
	"sync"
	"testing"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	locks := newKeyedMutex()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("demo")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected 50 serialized increments, got %d", counter)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	locks := newKeyedMutex()

	unlockA := locks.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
}

func TestKeyedMutexFreesUnusedEntries(t *testing.T) {
	locks := newKeyedMutex()

	unlock := locks.Lock("demo")
	unlock()

	locks.mu.Lock()
	remaining := len(locks.locks)
	locks.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected empty lock table, %d entries remain", remaining)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "a"
			if n%2 == 0 {
				key = "b"
			}
			done := locks.Lock(key)
			done()
		}(i)
	}
	wg.Wait()

	locks.mu.Lock()
	remaining = len(locks.locks)
	locks.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected empty lock table after churn, %d entries remain", remaining)
	}
}
