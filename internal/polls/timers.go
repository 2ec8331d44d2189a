// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package polls

import (
	"sync"
	"time"
)

// timerTable tracks one auto-close timer per event. Arming over an
// existing timer stops the old one; the fire callback re-verifies the
// poll id against the hot store, so a stale fire is always a no-op.
type timerTable struct {
	mu     sync.Mutex
	timers map[int64]*armedTimer
	fire   func(eventID, pollID int64)
}

type armedTimer struct {
	pollID int64
	timer  *time.Timer
}

func newTimerTable(fire func(eventID, pollID int64)) *timerTable {
	return &timerTable{timers: map[int64]*armedTimer{}, fire: fire}
}

func (tt *timerTable) arm(eventID, pollID int64, d time.Duration) {
	if d < 0 {
		d = 0
	}
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if prev, ok := tt.timers[eventID]; ok {
		prev.timer.Stop()
	}
	tt.timers[eventID] = &armedTimer{
		pollID: pollID,
		timer: time.AfterFunc(d, func() {
			tt.expire(eventID, pollID)
		}),
	}
}

func (tt *timerTable) expire(eventID, pollID int64) {
	tt.mu.Lock()
	if cur, ok := tt.timers[eventID]; ok && cur.pollID == pollID {
		delete(tt.timers, eventID)
	}
	tt.mu.Unlock()
	tt.fire(eventID, pollID)
}

// cancel stops the timer armed for (event, poll). A timer armed for a
// different poll on the same event is left alone.
func (tt *timerTable) cancel(eventID, pollID int64) {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if cur, ok := tt.timers[eventID]; ok && cur.pollID == pollID {
		cur.timer.Stop()
		delete(tt.timers, eventID)
	}
}

func (tt *timerTable) stopAll() {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	for eventID, at := range tt.timers {
		at.timer.Stop()
		delete(tt.timers, eventID)
	}
}
