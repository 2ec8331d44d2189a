// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package database

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWriteBehindExecutesJobs(t *testing.T) {
	wb := NewWriteBehind(nil, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = wb.Serve(ctx)
		close(done)
	}()

	var ran atomic.Int64
	for i := 0; i < 5; i++ {
		err := wb.Enqueue(Job{Name: "test", Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for ran.Load() != 5 {
		select {
		case <-deadline:
			t.Fatalf("ran %d jobs, want 5", ran.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestWriteBehindDropsWhenFull(t *testing.T) {
	wb := NewWriteBehind(nil, 2)
	// No worker running: the queue fills and the third enqueue drops.
	noop := Job{Name: "noop", Run: func(context.Context) error { return nil }}

	if err := wb.Enqueue(noop); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := wb.Enqueue(noop); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := wb.Enqueue(noop); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third enqueue = %v, want ErrQueueFull", err)
	}
	if wb.Depth() != 2 {
		t.Errorf("depth = %d, want 2", wb.Depth())
	}
}

func TestWriteBehindBreakerShedsLoad(t *testing.T) {
	wb := NewWriteBehind(nil, 64)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = wb.Serve(ctx) }()

	var attempts atomic.Int64
	failing := Job{Name: "failing", Run: func(context.Context) error {
		attempts.Add(1)
		return errors.New("store down")
	}}

	// Past the trip threshold the breaker opens and stops invoking jobs.
	for i := 0; i < 20; i++ {
		_ = wb.Enqueue(failing)
	}

	deadline := time.After(2 * time.Second)
	for wb.Depth() != 0 {
		select {
		case <-deadline:
			t.Fatal("queue did not drain")
		case <-time.After(5 * time.Millisecond):
		}
	}
	// Small settle window so the last dequeued job finishes.
	time.Sleep(20 * time.Millisecond)

	if got := attempts.Load(); got >= 20 {
		t.Errorf("attempts = %d, want fewer than enqueued once breaker opens", got)
	}
	if got := attempts.Load(); got < 5 {
		t.Errorf("attempts = %d, breaker tripped too early", got)
	}
}
