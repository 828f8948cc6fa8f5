package utils

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSeenSetNoDuplicates(t *testing.T) {
	s := NewSeenSet()

	if !s.Add("STK1001") {
		t.Error("first Add should return true")
	}
	if s.Add("STK1001") {
		t.Error("second Add of same key should return false")
	}
	if s.Size() != 1 {
		t.Errorf("size: got %d, want 1", s.Size())
	}
}

func TestSeenSetConcurrency(t *testing.T) {
	s := NewSeenSet()
	var added int64

	pool := NewWorkerPool(10, 0)
	for i := 0; i < 100; i++ {
		pool.Submit(func() {
			if s.Add("STK-SAME") {
				atomic.AddInt64(&added, 1)
			}
		})
	}
	pool.Wait()

	if added != 1 {
		t.Errorf("concurrent adds of same key: got %d, want 1", added)
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(3, 0)

	var active, peak int64
	for i := 0; i < 20; i++ {
		pool.Submit(func() {
			n := atomic.AddInt64(&active, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&active, -1)
		})
	}
	pool.Wait()

	if peak > 3 {
		t.Errorf("peak concurrency: got %d, want ≤ 3", peak)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Logger: NewLogger()}

	attempts := 0
	err := r.Do(context.Background(), "flaky-op", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Errorf("got %v, want success on third attempt", err)
	}
	if attempts != 3 {
		t.Errorf("attempts: got %d, want 3", attempts)
	}
}

func TestRetryGivesUp(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, Logger: NewLogger()}

	sentinel := errors.New("permanent")
	err := r.Do(context.Background(), "doomed-op", func() error { return sentinel })

	if !errors.Is(err, sentinel) {
		t.Errorf("got %v, want wrapped sentinel error", err)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 5, BaseDelay: time.Minute, Logger: NewLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := r.Do(ctx, "canceled-op", func() error {
		attempts++
		return errors.New("transient")
	})

	if err == nil {
		t.Error("canceled context should surface an error")
	}
	if attempts > 1 {
		t.Errorf("attempts after cancel: got %d, want at most 1", attempts)
	}
}
