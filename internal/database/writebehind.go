// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package database

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/livehall/internal/logging"
	"github.com/tomtom215/livehall/internal/metrics"
)

// ErrQueueFull is returned by Enqueue when the write-behind queue is at
// capacity. The caller has already served the user from the hot store;
// the durable write is lost and logged, never retried.
var ErrQueueFull = errors.New("write-behind queue full")

// Job is one deferred durable write. Jobs must be self-contained: they
// run after the request that spawned them has completed.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// WriteBehind decouples user-facing latency from durable-store latency.
// Chat persistence, vote audits and presence writebacks flow through
// here; the worker drains the queue serially and a circuit breaker
// sheds load when the durable store is down.
type WriteBehind struct {
	db      *DB
	queue   chan Job
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewWriteBehind builds the queue and breaker. Capacity bounds memory:
// when the durable store stalls, old jobs are dropped at enqueue time
// rather than ballooning the heap.
func NewWriteBehind(db *DB, capacity int) *WriteBehind {
	if capacity <= 0 {
		capacity = 1024
	}
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "durable-store",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("durable store breaker state change")
		},
	})
	return &WriteBehind{db: db, queue: make(chan Job, capacity), breaker: breaker}
}

// Enqueue queues one job without blocking. A full queue drops the job.
func (w *WriteBehind) Enqueue(job Job) error {
	select {
	case w.queue <- job:
		metrics.WriteBehindQueueDepth.Set(float64(len(w.queue)))
		return nil
	default:
		metrics.WriteBehindDropped.Inc()
		logging.Warn().Str("job", job.Name).Msg("write-behind queue full, dropping job")
		return ErrQueueFull
	}
}

// Serve drains the queue until the context is cancelled. Run under the
// supervision tree; a panic in a job escapes to the supervisor, which
// restarts the worker with the queue intact.
func (w *WriteBehind) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-w.queue:
			metrics.WriteBehindQueueDepth.Set(float64(len(w.queue)))
			w.execute(ctx, job)
		}
	}
}

func (w *WriteBehind) execute(ctx context.Context, job Job) {
	_, err := w.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, job.Run(ctx)
	})
	if err != nil {
		metrics.DurableStoreErrors.Inc()
		logging.Err(err).Str("job", job.Name).Msg("write-behind job failed")
	}
}

// Depth reports the current queue depth, for tests and telemetry.
// String implements fmt.Stringer for supervisor logs.
func (w *WriteBehind) String() string {
	return "write-behind"
}

func (w *WriteBehind) Depth() int {
	return len(w.queue)
}
