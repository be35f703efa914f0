package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolConcurrencyLimit(t *testing.T) {
	pool := New(2, nil)

	var current int32
	var max int32
	work := func() {
		val := atomic.AddInt32(&current, 1)
		for {
			prev := atomic.LoadInt32(&max)
			if val <= prev || atomic.CompareAndSwapInt32(&max, prev, val) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&current, -1)
	}

	for i := 0; i < 6; i++ {
		if err := pool.Submit(work); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	_ = pool.Shutdown(context.Background())
	if max > 2 {
		t.Fatalf("expected max concurrency <= 2, got %d", max)
	}
}

func TestPoolSizeOneKeepsOrder(t *testing.T) {
	pool := New(1, nil)
	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		i := i
		if err := pool.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	_ = pool.Shutdown(context.Background())

	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d", i, v)
		}
	}
}

func TestPoolSubmitAfterShutdown(t *testing.T) {
	pool := New(1, nil)
	_ = pool.Shutdown(context.Background())
	if err := pool.Submit(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolSurvivesPanic(t *testing.T) {
	pool := New(1, nil)
	defer func() { _ = pool.Shutdown(context.Background()) }()

	_ = pool.Submit(func() { panic("boom") })
	if err := pool.SubmitWait(func() error { return nil }); err != nil {
		t.Fatalf("expected pool to keep running, got %v", err)
	}
}

func TestPoolSubmitWaitContextTimeout(t *testing.T) {
	pool := New(1, nil)
	defer func() { _ = pool.Shutdown(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.SubmitWaitContext(ctx, func() error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline exceeded, got %v", err)
	}
}
