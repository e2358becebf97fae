package utils

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WorkerPool runs jobs on a bounded number of goroutines, spacing job starts
// by a minimum interval.
type WorkerPool struct {
	maxWorkers int
	semaphore  chan struct{}
	wg         sync.WaitGroup
	limiter    *rate.Limiter
}

// NewWorkerPool creates a WorkerPool with the given concurrency and rate
// limit. rateLimitMs <= 0 disables spacing.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	limit := rate.Inf
	if rateLimitMs > 0 {
		limit = rate.Every(time.Duration(rateLimitMs) * time.Millisecond)
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		semaphore:  make(chan struct{}, maxWorkers),
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Submit enqueues a job for execution in the pool. It blocks while all
// workers are busy.
func (wp *WorkerPool) Submit(job func()) {
	wp.SubmitContext(context.Background(), func(context.Context) { job() })
}

// SubmitContext is Submit with cancellation. Jobs whose turn comes after ctx
// is done are skipped; the job itself receives ctx.
func (wp *WorkerPool) SubmitContext(ctx context.Context, job func(ctx context.Context)) {
	wp.wg.Add(1)
	select {
	case wp.semaphore <- struct{}{}:
	case <-ctx.Done():
		wp.wg.Done()
		return
	}

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		if err := wp.limiter.Wait(ctx); err != nil {
			return
		}
		job(ctx)
	}()
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// CodeSet is a thread-safe set of external identifiers, used to keep the
// first occurrence of a listing code or zone name.
type CodeSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewCodeSet creates a CodeSet seeded with codes.
func NewCodeSet(codes ...string) *CodeSet {
	s := &CodeSet{seen: make(map[string]struct{}, len(codes))}
	for _, c := range codes {
		s.seen[c] = struct{}{}
	}
	return s
}

// Add returns true if the code was newly added, false if already present.
func (s *CodeSet) Add(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[code]; exists {
		return false
	}
	s.seen[code] = struct{}{}
	return true
}

// Size returns the number of unique codes tracked.
func (s *CodeSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
