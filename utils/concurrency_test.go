package utils

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCodeSetNoDuplicates(t *testing.T) {
	s := NewCodeSet()

	added := s.Add("P-1")
	if !added {
		t.Error("first Add should return true")
	}

	added = s.Add("P-1")
	if added {
		t.Error("second Add of same code should return false")
	}

	if s.Size() != 1 {
		t.Errorf("size: got %d, want 1", s.Size())
	}
}

func TestCodeSetSeeded(t *testing.T) {
	s := NewCodeSet("a", "b", "a")
	if s.Size() != 2 {
		t.Errorf("size: got %d, want 2", s.Size())
	}
	if s.Add("b") {
		t.Error("Add of a seeded code should return false")
	}
	if !s.Add("c") || s.Size() != 3 {
		t.Errorf("Add(c) did not grow the set; size %d", s.Size())
	}
}

func TestCodeSetConcurrency(t *testing.T) {
	s := NewCodeSet()
	var added int64

	pool := NewWorkerPool(10, 0)
	for i := 0; i < 100; i++ {
		pool.Submit(func() {
			if s.Add("same") {
				atomic.AddInt64(&added, 1)
			}
		})
	}
	pool.Wait()

	if added != 1 {
		t.Errorf("expected exactly 1 successful add, got %d", added)
	}
}

func TestWorkerPoolRateLimit(t *testing.T) {
	rateLimitMs := 100
	pool := NewWorkerPool(1, rateLimitMs)

	var (
		mu         sync.Mutex
		timestamps []time.Time
	)
	for i := 0; i < 3; i++ {
		pool.Submit(func() {
			mu.Lock()
			timestamps = append(timestamps, time.Now())
			mu.Unlock()
		})
	}
	pool.Wait()

	// Allow a little scheduler slack below the nominal interval.
	min := time.Duration(rateLimitMs)*time.Millisecond - 10*time.Millisecond
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		if gap < min {
			t.Errorf("gap between job %d and %d: %v < minimum %v", i-1, i, gap, min)
		}
	}
}

func TestWorkerPoolSkipsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewWorkerPool(2, 0)
	var ran int64
	for i := 0; i < 5; i++ {
		pool.SubmitContext(ctx, func(context.Context) {
			atomic.AddInt64(&ran, 1)
		})
	}
	pool.Wait()

	if ran != 0 {
		t.Errorf("ran %d jobs after cancellation; want 0", ran)
	}
}
