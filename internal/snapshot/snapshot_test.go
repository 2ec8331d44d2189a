// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package snapshot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/livehall/internal/database"
	"github.com/tomtom215/livehall/internal/envelope"
	"github.com/tomtom215/livehall/internal/models"
)

type fakeSnapshotStore struct {
	computes int

	staff    map[int64]bool
	details  []models.SessionAnalytics
	totals   database.EngagementTotals
	statuses map[string]int64
	chats    []time.Time
	asked    []time.Time
	spans    [][2]time.Time
}

func (f *fakeSnapshotStore) SessionDetails(_ context.Context, _ int64, userIDs []int64) ([]models.SessionAnalytics, error) {
	var out []models.SessionAnalytics
	for _, d := range f.details {
		for _, id := range userIDs {
			if d.UserID == id {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

func (f *fakeSnapshotStore) StaffUserIDs(context.Context, int64) (map[int64]bool, error) {
	f.computes++
	return f.staff, nil
}

func (f *fakeSnapshotStore) CountRegistrations(context.Context, int64) (int64, error) {
	return 120, nil
}

func (f *fakeSnapshotStore) GetEngagementTotals(context.Context, int64) (database.EngagementTotals, error) {
	return f.totals, nil
}

func (f *fakeSnapshotStore) QuestionStatusCounts(context.Context, int64) (map[string]int64, error) {
	return f.statuses, nil
}

func (f *fakeSnapshotStore) ChatTimestamps(context.Context, int64, time.Time) ([]time.Time, error) {
	return f.chats, nil
}

func (f *fakeSnapshotStore) QuestionTimestamps(context.Context, int64, time.Time) ([]time.Time, error) {
	return f.asked, nil
}

func (f *fakeSnapshotStore) SessionSpans(context.Context, int64) ([][2]time.Time, error) {
	return f.spans, nil
}

type fakeLiveness struct{ live []int64 }

func (f *fakeLiveness) ListLive(context.Context, int64) ([]int64, error) {
	return f.live, nil
}

type fakeLocal struct{ ids []int64 }

func (f *fakeLocal) LocalEventIDs() []int64 { return f.ids }

type recordingHub struct {
	mu     sync.Mutex
	frames []struct {
		payload any
		roles   []envelope.Role
	}
}

func (h *recordingHub) Broadcast(payload any, roles []envelope.Role, _ int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, struct {
		payload any
		roles   []envelope.Role
	}{payload, roles})
}

func newTestPublisher(t *testing.T, store *fakeSnapshotStore, live []int64) (*Publisher, *recordingHub) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hub := &recordingHub{}
	p := New(store, &fakeLiveness{live: live}, &fakeLocal{ids: []int64{7}}, hub, rdb,
		5*time.Second, 5*time.Second, 60*time.Minute, 5*time.Minute)
	return p, hub
}

func baseStore() *fakeSnapshotStore {
	now := time.Now()
	return &fakeSnapshotStore{
		staff: map[int64]bool{99: true},
		details: []models.SessionAnalytics{
			{UserID: 1, UserName: "Ana", StartTime: now.Add(-time.Hour), LastPing: now, TotalMinutes: 55},
			{UserID: 2, UserName: "Luis", StartTime: now.Add(-30 * time.Minute), LastPing: now, TotalMinutes: 28},
		},
		totals:   database.EngagementTotals{TotalMinutes: 480},
		statuses: map[string]int64{"pending": 2, "approved": 3, "rejected": 1, "read": 4},
	}
}

func TestPublishBroadcastsThreeViews(t *testing.T) {
	store := baseStore()
	p, hub := newTestPublisher(t, store, []int64{1, 2, 99})

	p.publish(context.Background(), 7)

	if len(hub.frames) != 3 {
		t.Fatalf("frames = %d, want active_sessions + metrics + charts", len(hub.frames))
	}

	sessions := hub.frames[0].payload.(envelope.ActiveSessions)
	if len(sessions.Sessions) != 2 {
		t.Errorf("sessions = %d, want staff user 99 excluded", len(sessions.Sessions))
	}
	wantRoles := []envelope.Role{envelope.RoleReports, envelope.RoleModerator}
	if len(hub.frames[0].roles) != 2 || hub.frames[0].roles[0] != wantRoles[0] || hub.frames[0].roles[1] != wantRoles[1] {
		t.Errorf("active_sessions roles = %v", hub.frames[0].roles)
	}

	m := hub.frames[1].payload.(envelope.ReportsMetrics)
	if m.TotalRegisteredUsers != 120 || m.LiveWatchersCount != 2 || m.TotalMinutesConsumed != 480 {
		t.Errorf("metrics = %+v", m)
	}
	if len(hub.frames[1].roles) != 1 || hub.frames[1].roles[0] != envelope.RoleReports {
		t.Errorf("metrics roles = %v", hub.frames[1].roles)
	}

	c := hub.frames[2].payload.(envelope.ReportsCharts)
	if len(c.Engagement.Labels) != 12 {
		t.Errorf("chart buckets = %d, want 12", len(c.Engagement.Labels))
	}
	if c.QuestionStatus.Series["questions"][1] != 3 {
		t.Errorf("approved count = %v", c.QuestionStatus.Series)
	}
}

func TestPublishUsesSharedCache(t *testing.T) {
	store := baseStore()
	p, hub := newTestPublisher(t, store, []int64{1})

	p.publish(context.Background(), 7)
	p.publish(context.Background(), 7)

	if store.computes != 1 {
		t.Errorf("computes = %d, want second publish served from cache", store.computes)
	}
	if len(hub.frames) != 6 {
		t.Errorf("frames = %d, want both publishes to broadcast", len(hub.frames))
	}
}

func TestTriggerCoalesces(t *testing.T) {
	store := baseStore()
	p, _ := newTestPublisher(t, store, []int64{1})

	for i := 0; i < 10; i++ {
		p.Trigger(7)
	}

	queued := 0
	for {
		select {
		case <-p.kick:
			queued++
			continue
		default:
		}
		break
	}
	if queued != 1 {
		t.Errorf("queued = %d, want burst coalesced to 1", queued)
	}
}

func TestBucketCounts(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	edges := []time.Time{base, base.Add(5 * time.Minute), base.Add(10 * time.Minute)}

	stamps := []time.Time{
		base,                                     // first bucket, inclusive edge
		base.Add(4 * time.Minute),                // first bucket
		base.Add(5 * time.Minute),                // second bucket, inclusive edge
		base.Add(10 * time.Minute),               // outside, dropped
		base.Add(-1 * time.Minute),               // before window, dropped
		base.Add(9*time.Minute + 59*time.Second), // second bucket
	}
	got := bucketCounts(stamps, edges)
	if got[0] != 2 || got[1] != 2 {
		t.Errorf("bucketCounts = %v, want [2 2]", got)
	}
}
