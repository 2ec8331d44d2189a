// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Package presence tracks who is live on each event with a sliding
// window over a hot-store sorted set, and throttles durable attendance
// writebacks so the durable store sees at most one write per user per
// writeback interval.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/livehall/internal/logging"
	"github.com/tomtom215/livehall/internal/metrics"
)

// DurableWriter is the slice of the durable store presence needs.
type DurableWriter interface {
	EnsureSession(ctx context.Context, eventID, userID int64) error
	WritebackPing(ctx context.Context, eventID, userID int64) error
	ForceLastSeenBack(ctx context.Context, eventID, userID int64) error
}

// Tracker maintains per-event liveness in the hot store.
type Tracker struct {
	rdb    *redis.Client
	writer DurableWriter

	window    time.Duration // W: liveness horizon
	writeback time.Duration // T: min spacing of durable writes

	now func() time.Time // injectable for tests
}

// New builds a tracker over the presence logical database.
func New(rdb *redis.Client, writer DurableWriter, window, writeback time.Duration) *Tracker {
	return &Tracker{rdb: rdb, writer: writer, window: window, writeback: writeback, now: time.Now}
}

func activityKey(eventID int64) string {
	return fmt.Sprintf("activity:%d", eventID)
}

func writebackKey(eventID, userID int64) string {
	return fmt.Sprintf("ping:mysql_ts:%d:%d", eventID, userID)
}

// MarkLive records activity for the user: score = now in the event's
// activity set, plus a trim of entries older than the window. Called at
// connect time and on every heartbeat.
func (t *Tracker) MarkLive(ctx context.Context, eventID, userID int64) error {
	now := t.now()
	key := activityKey(eventID)

	pipe := t.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.Unix()), Member: strconv.FormatInt(userID, 10)})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-t.window).Unix(), 10))
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.HotStoreErrors.Inc()
		return fmt.Errorf("mark live: %w", err)
	}
	return nil
}

// MarkInactive removes the user from the live set and forces the durable
// last-seen into the past, so reports stop counting the user right away
// instead of waiting out the window.
func (t *Tracker) MarkInactive(ctx context.Context, eventID, userID int64) {
	if err := t.rdb.ZRem(ctx, activityKey(eventID), strconv.FormatInt(userID, 10)).Err(); err != nil {
		metrics.HotStoreErrors.Inc()
		logging.Err(err).Int64("event_id", eventID).Int64("user_id", userID).
			Msg("presence removal failed")
	}
	if t.writer != nil {
		if err := t.writer.ForceLastSeenBack(ctx, eventID, userID); err != nil {
			metrics.DurableStoreErrors.Inc()
			logging.Err(err).Int64("event_id", eventID).Int64("user_id", userID).
				Msg("durable last-seen rollback failed")
		}
	}
}

// RecordPing handles one heartbeat: always refreshes hot-store liveness,
// and at most once per writeback interval also credits durable
// attendance. The throttle key is SET NX with the window as its TTL so a
// crashed instance cannot wedge the throttle forever.
func (t *Tracker) RecordPing(ctx context.Context, eventID, userID int64) error {
	if err := t.MarkLive(ctx, eventID, userID); err != nil {
		return err
	}
	if t.writer == nil {
		return nil
	}

	now := t.now()
	key := writebackKey(eventID, userID)

	set, err := t.rdb.SetNX(ctx, key, strconv.FormatInt(now.Unix(), 10), t.window).Result()
	if err != nil {
		metrics.HotStoreErrors.Inc()
		// Hot store down: skip the durable write rather than hammer the
		// database from every heartbeat at once.
		return nil
	}
	if !set {
		last, err := t.rdb.Get(ctx, key).Result()
		if err != nil {
			return nil
		}
		lastUnix, err := strconv.ParseInt(last, 10, 64)
		if err != nil || now.Sub(time.Unix(lastUnix, 0)) < t.writeback {
			return nil
		}
		if err := t.rdb.Set(ctx, key, strconv.FormatInt(now.Unix(), 10), t.window).Err(); err != nil {
			metrics.HotStoreErrors.Inc()
			return nil
		}
	}

	if err := t.writer.WritebackPing(ctx, eventID, userID); err != nil {
		metrics.DurableStoreErrors.Inc()
		logging.Err(err).Int64("event_id", eventID).Int64("user_id", userID).
			Msg("attendance writeback failed")
	}
	return nil
}

// EnsureDurableSession creates the attendance row at connect time.
func (t *Tracker) EnsureDurableSession(ctx context.Context, eventID, userID int64) {
	if t.writer == nil {
		return
	}
	if err := t.writer.EnsureSession(ctx, eventID, userID); err != nil {
		metrics.DurableStoreErrors.Inc()
		logging.Err(err).Int64("event_id", eventID).Int64("user_id", userID).
			Msg("durable session upsert failed")
	}
}

// ListLive returns the user ids whose last activity falls inside the
// window, after trimming stale entries.
func (t *Tracker) ListLive(ctx context.Context, eventID int64) ([]int64, error) {
	now := t.now()
	key := activityKey(eventID)
	cutoff := strconv.FormatInt(now.Add(-t.window).Unix(), 10)

	if err := t.rdb.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff).Err(); err != nil {
		metrics.HotStoreErrors.Inc()
		return nil, fmt.Errorf("trim presence: %w", err)
	}
	members, err := t.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: cutoff, Max: "+inf"}).Result()
	if err != nil {
		metrics.HotStoreErrors.Inc()
		return nil, fmt.Errorf("list live: %w", err)
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CountLive returns the size of the live set inside the window.
func (t *Tracker) CountLive(ctx context.Context, eventID int64) (int64, error) {
	now := t.now()
	cutoff := strconv.FormatInt(now.Add(-t.window).Unix(), 10)
	n, err := t.rdb.ZCount(ctx, activityKey(eventID), cutoff, "+inf").Result()
	if err != nil {
		metrics.HotStoreErrors.Inc()
		return 0, fmt.Errorf("count live: %w", err)
	}
	return n, nil
}
