// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Package snapshot computes and publishes the derived staff views:
// active sessions, headline metrics and engagement charts. Views are
// recomputed on a fixed cadence for events with local sockets, cached
// in the hot store so several instances share one computation, and can
// be triggered out of cycle when something interesting happens.
package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/tomtom215/livehall/internal/database"
	"github.com/tomtom215/livehall/internal/envelope"
	"github.com/tomtom215/livehall/internal/logging"
	"github.com/tomtom215/livehall/internal/metrics"
	"github.com/tomtom215/livehall/internal/models"
)

// Store is the durable slice the publisher reads.
type Store interface {
	SessionDetails(ctx context.Context, eventID int64, userIDs []int64) ([]models.SessionAnalytics, error)
	StaffUserIDs(ctx context.Context, eventID int64) (map[int64]bool, error)
	CountRegistrations(ctx context.Context, eventID int64) (int64, error)
	GetEngagementTotals(ctx context.Context, eventID int64) (database.EngagementTotals, error)
	QuestionStatusCounts(ctx context.Context, eventID int64) (map[string]int64, error)
	ChatTimestamps(ctx context.Context, eventID int64, since time.Time) ([]time.Time, error)
	QuestionTimestamps(ctx context.Context, eventID int64, since time.Time) ([]time.Time, error)
	SessionSpans(ctx context.Context, eventID int64) ([][2]time.Time, error)
}

// Liveness is the presence slice the publisher reads.
type Liveness interface {
	ListLive(ctx context.Context, eventID int64) ([]int64, error)
}

// LocalEvents reports which events have sockets on this instance.
type LocalEvents interface {
	LocalEventIDs() []int64
}

// bundle is the cached composite of all three view frames.
type bundle struct {
	Sessions envelope.ActiveSessions `json:"sessions"`
	Metrics  envelope.ReportsMetrics `json:"metrics"`
	Charts   envelope.ReportsCharts  `json:"charts"`
}

// Publisher owns the snapshot loop.
type Publisher struct {
	store    Store
	presence Liveness
	local    LocalEvents
	hub      envelope.Broadcaster
	cache    *redis.Client

	interval    time.Duration
	cacheTTL    time.Duration
	chartWindow time.Duration
	chartBucket time.Duration

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	kick     chan int64

	now func() time.Time
}

// New builds the publisher over the caches logical database.
func New(store Store, presence Liveness, local LocalEvents, hub envelope.Broadcaster,
	cache *redis.Client, interval, cacheTTL, chartWindow, chartBucket time.Duration) *Publisher {
	return &Publisher{
		store:       store,
		presence:    presence,
		local:       local,
		hub:         hub,
		cache:       cache,
		interval:    interval,
		cacheTTL:    cacheTTL,
		chartWindow: chartWindow,
		chartBucket: chartBucket,
		limiters:    map[int64]*rate.Limiter{},
		kick:        make(chan int64, 64),
		now:         time.Now,
	}
}

func cacheKey(eventID int64) string {
	return fmt.Sprintf("reports:snapshot:%d", eventID)
}

// Trigger requests an out-of-cycle publish for one event, coalesced so
// a burst of connects causes one recompute, not one per socket.
func (p *Publisher) Trigger(eventID int64) {
	p.mu.Lock()
	lim, ok := p.limiters[eventID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(p.interval/2), 1)
		p.limiters[eventID] = lim
	}
	p.mu.Unlock()

	if !lim.Allow() {
		return
	}
	select {
	case p.kick <- eventID:
	default:
	}
}

// Serve runs the cadence loop until the context is cancelled.
func (p *Publisher) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case eventID := <-p.kick:
			p.publish(ctx, eventID)
		case <-ticker.C:
			for _, eventID := range p.local.LocalEventIDs() {
				p.publish(ctx, eventID)
			}
		}
	}
}

// publish broadcasts the event's views, computing them only when the
// shared cache has expired.
func (p *Publisher) publish(ctx context.Context, eventID int64) {
	start := p.now()

	b := p.fromCache(ctx, eventID)
	if b == nil {
		var err error
		b, err = p.compute(ctx, eventID)
		if err != nil {
			logging.Err(err).Int64("event_id", eventID).Msg("snapshot compute failed")
			return
		}
		p.toCache(ctx, eventID, b)
	}

	p.hub.Broadcast(b.Sessions, []envelope.Role{envelope.RoleReports, envelope.RoleModerator}, eventID)
	p.hub.Broadcast(b.Metrics, []envelope.Role{envelope.RoleReports}, eventID)
	p.hub.Broadcast(b.Charts, []envelope.Role{envelope.RoleReports}, eventID)

	metrics.SnapshotDuration.Observe(p.now().Sub(start).Seconds())
}

func (p *Publisher) fromCache(ctx context.Context, eventID int64) *bundle {
	payload, err := p.cache.Get(ctx, cacheKey(eventID)).Bytes()
	if err != nil {
		return nil
	}
	var b bundle
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil
	}
	metrics.SnapshotCacheHits.Inc()
	return &b
}

func (p *Publisher) toCache(ctx context.Context, eventID int64, b *bundle) {
	payload, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, cacheKey(eventID), payload, p.cacheTTL).Err(); err != nil {
		metrics.HotStoreErrors.Inc()
	}
}

func (p *Publisher) compute(ctx context.Context, eventID int64) (*bundle, error) {
	live, err := p.presence.ListLive(ctx, eventID)
	if err != nil {
		return nil, err
	}
	staff, err := p.store.StaffUserIDs(ctx, eventID)
	if err != nil {
		return nil, err
	}

	// The audience view counts viewers only.
	audience := make([]int64, 0, len(live))
	for _, id := range live {
		if !staff[id] {
			audience = append(audience, id)
		}
	}

	sessions, err := p.activeSessions(ctx, eventID, audience)
	if err != nil {
		return nil, err
	}

	registered, err := p.store.CountRegistrations(ctx, eventID)
	if err != nil {
		return nil, err
	}
	totals, err := p.store.GetEngagementTotals(ctx, eventID)
	if err != nil {
		return nil, err
	}

	charts, err := p.charts(ctx, eventID)
	if err != nil {
		return nil, err
	}

	return &bundle{
		Sessions: sessions,
		Metrics: envelope.ReportsMetrics{
			Type:                 envelope.TypeReportsMetrics,
			TotalRegisteredUsers: registered,
			LiveWatchersCount:    int64(len(audience)),
			TotalMinutesConsumed: totals.TotalMinutes,
		},
		Charts: charts,
	}, nil
}

func (p *Publisher) activeSessions(ctx context.Context, eventID int64, audience []int64) (envelope.ActiveSessions, error) {
	out := envelope.ActiveSessions{Type: envelope.TypeActiveSessions, Sessions: []envelope.SessionRow{}}

	details, err := p.store.SessionDetails(ctx, eventID, audience)
	if err != nil {
		return out, err
	}
	for _, d := range details {
		out.Sessions = append(out.Sessions, envelope.SessionRow{
			UserID:         d.UserID,
			UserName:       d.UserName,
			StartTime:      d.StartTime.UTC().Format(time.RFC3339),
			LastPing:       d.LastPing.UTC().Format(time.RFC3339),
			SessionMinutes: d.TotalMinutes,
			ChatBlocked:    d.ChatBlocked,
			QABlocked:      d.QABlocked,
			Banned:         d.Banned,
		})
	}
	return out, nil
}
