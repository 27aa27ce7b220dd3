package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockFreeQueue_MPMC(t *testing.T) {
	q := NewLockFreeQueue[int](1024)
	producers := 10
	consumers := 10
	itemsPerProducer := 10000

	var wg sync.WaitGroup
	var sentSum int64
	var receivedSum int64
	var receivedCount int64
	totalItems := int64(producers * itemsPerProducer)

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				val := pid*itemsPerProducer + i + 1
				for !q.Enqueue(val) {
					runtime.Gosched()
				}
				atomic.AddInt64(&sentSum, int64(val))
			}
		}(p)
	}

	consumerWg := sync.WaitGroup{}
	for c := 0; c < consumers; c++ {
		consumerWg.Add(1)
		go func() {
			defer consumerWg.Done()
			for {
				if val, ok := q.Dequeue(); ok {
					atomic.AddInt64(&receivedSum, int64(val))
					if atomic.AddInt64(&receivedCount, 1) == totalItems {
						return
					}
				} else {
					if atomic.LoadInt64(&receivedCount) >= totalItems {
						return
					}
					runtime.Gosched()
				}
			}
		}()
	}

	wg.Wait()

	done := make(chan struct{})
	go func() {
		consumerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if sentSum != receivedSum {
			t.Errorf("Checksum mismatch: sent %d, received %d", sentSum, receivedSum)
		}
	case <-time.After(5 * time.Second):
		t.Errorf("Timeout waiting for consumers. Received %d/%d", atomic.LoadInt64(&receivedCount), totalItems)
	}
}

func TestLockFreeQueue_Bounded(t *testing.T) {
	q := NewLockFreeQueue[string](3)
	if q.Cap() != 4 {
		t.Fatalf("Cap = %d, want 4 (next power of two)", q.Cap())
	}
	for i := 0; i < q.Cap(); i++ {
		if !q.Enqueue("x") {
			t.Fatalf("Enqueue %d refused below capacity", i)
		}
	}
	if q.Enqueue("overflow") {
		t.Fatal("Enqueue accepted beyond capacity")
	}
	if q.Len() != 4 {
		t.Errorf("Len = %d, want 4", q.Len())
	}
	for i := 0; i < 4; i++ {
		if _, ok := q.Dequeue(); !ok {
			t.Fatalf("Dequeue %d failed", i)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("Dequeue from empty queue succeeded")
	}
}

func TestLockFreeQueue_FIFOSingleProducer(t *testing.T) {
	q := NewLockFreeQueue[int](8)
	for round := 0; round < 5; round++ {
		for i := 0; i < 6; i++ {
			q.Enqueue(round*10 + i)
		}
		for i := 0; i < 6; i++ {
			v, ok := q.Dequeue()
			if !ok || v != round*10+i {
				t.Fatalf("round %d: got (%d, %v), want %d", round, v, ok, round*10+i)
			}
		}
	}
}
