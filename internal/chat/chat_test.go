// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/livehall/internal/database"
)

type fakeHistory struct {
	inserted []string
	rows     []database.ChatRow
}

func (f *fakeHistory) InsertChat(_ context.Context, _, _ int64, message string, _ time.Time) error {
	f.inserted = append(f.inserted, message)
	return nil
}

func (f *fakeHistory) RecentChats(context.Context, int64, int) ([]database.ChatRow, error) {
	return f.rows, nil
}

type syncEnqueuer struct{}

func (syncEnqueuer) Enqueue(job database.Job) error {
	return job.Run(context.Background())
}

func newTestService(t *testing.T, hist *fakeHistory) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, hist, syncEnqueuer{}, 100), mr
}

func TestAppendAndRecent(t *testing.T) {
	hist := &fakeHistory{}
	svc, _ := newTestService(t, hist)
	ctx := context.Background()

	frame, err := svc.Append(ctx, 7, 42, "Ana", "hola a todos", time.UTC)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if frame.Type != "chat" || frame.User != "Ana" || frame.Message != "hola a todos" {
		t.Errorf("frame = %+v", frame)
	}
	if len(hist.inserted) != 1 {
		t.Errorf("durable inserts = %d, want 1", len(hist.inserted))
	}

	frames, err := svc.Recent(ctx, 7, time.UTC)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(frames) != 1 || frames[0].Message != "hola a todos" {
		t.Errorf("recent = %+v", frames)
	}
}

func TestRingTrimsToCapacity(t *testing.T) {
	hist := &fakeHistory{}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	svc := New(rdb, hist, syncEnqueuer{}, 5)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if _, err := svc.Append(ctx, 7, 1, "Ana", fmt.Sprintf("msg %d", i), time.UTC); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	frames, err := svc.Recent(ctx, 7, time.UTC)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(frames) != 5 {
		t.Fatalf("ring holds %d frames, want 5", len(frames))
	}
	if frames[0].Message != "msg 3" || frames[4].Message != "msg 7" {
		t.Errorf("ring kept wrong window: first=%q last=%q", frames[0].Message, frames[4].Message)
	}
}

func TestRecentFallsBackToDurableAndReprimes(t *testing.T) {
	base := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)
	hist := &fakeHistory{rows: []database.ChatRow{
		{UserID: 1, UserName: "Ana", Message: "primero", CreatedAt: base},
		{UserID: 2, UserName: "Luis", Message: "segundo", CreatedAt: base.Add(time.Minute)},
	}}
	svc, _ := newTestService(t, hist)
	ctx := context.Background()

	frames, err := svc.Recent(ctx, 7, time.UTC)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(frames) != 2 || frames[0].Message != "primero" || frames[1].Message != "segundo" {
		t.Fatalf("fallback frames = %+v", frames)
	}

	// The ring is primed now: wipe the durable rows and read again.
	hist.rows = nil
	frames, err = svc.Recent(ctx, 7, time.UTC)
	if err != nil {
		t.Fatalf("Recent (primed): %v", err)
	}
	if len(frames) != 2 {
		t.Errorf("primed ring returned %d frames, want 2", len(frames))
	}
}

func TestFormatClock(t *testing.T) {
	at := time.Date(2026, 3, 1, 23, 5, 0, 0, time.UTC)

	if got := FormatClock(at, time.UTC); got != "23:05" {
		t.Errorf("UTC = %q, want 23:05", got)
	}

	mexico := time.FixedZone("CST", -6*3600)
	if got := FormatClock(at, mexico); got != "17:05" {
		t.Errorf("CST = %q, want 17:05", got)
	}

	if got := FormatClock(at, nil); got != "23:05" {
		t.Errorf("nil location = %q, want UTC rendering", got)
	}
}
