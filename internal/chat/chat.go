// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Package chat keeps the recent-message ring in the hot store and
// persists full history through the write-behind queue. New sockets
// bootstrap from the ring; the durable store is only read when the ring
// is cold.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/livehall/internal/database"
	"github.com/tomtom215/livehall/internal/envelope"
	"github.com/tomtom215/livehall/internal/logging"
	"github.com/tomtom215/livehall/internal/metrics"
)

// HistoryStore is the slice of the durable store the chat service needs.
type HistoryStore interface {
	InsertChat(ctx context.Context, eventID, userID int64, message string, at time.Time) error
	RecentChats(ctx context.Context, eventID int64, limit int) ([]database.ChatRow, error)
}

// Enqueuer accepts deferred durable writes.
type Enqueuer interface {
	Enqueue(job database.Job) error
}

// Service owns the per-event recent ring.
type Service struct {
	rdb       *redis.Client
	store     HistoryStore
	wb        Enqueuer
	recentMax int

	now func() time.Time
}

// New builds the service over the caches logical database.
func New(rdb *redis.Client, store HistoryStore, wb Enqueuer, recentMax int) *Service {
	return &Service{rdb: rdb, store: store, wb: wb, recentMax: recentMax, now: time.Now}
}

func ringKey(eventID int64) string {
	return fmt.Sprintf("chat:event:%d", eventID)
}

// FormatClock renders a wall-clock HH:MM stamp in the event's timezone.
// Chat frames carry presentation time, not machine time.
func FormatClock(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("15:04")
}

// Append builds the outbound frame, pushes it onto the ring and defers
// the durable insert. The returned frame is what the hub broadcasts.
func (s *Service) Append(ctx context.Context, eventID, userID int64, userName, message string, loc *time.Location) (*envelope.Chat, error) {
	now := s.now()
	frame := &envelope.Chat{
		Type:      envelope.TypeChat,
		User:      userName,
		UserID:    userID,
		Message:   message,
		Timestamp: FormatClock(now, loc),
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal chat frame: %w", err)
	}

	key := ringKey(eventID)
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, int64(-s.recentMax), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.HotStoreErrors.Inc()
		logging.Err(err).Int64("event_id", eventID).Msg("chat ring push failed")
		// The broadcast still happens; only the bootstrap cache suffers.
	}

	metrics.ChatMessages.WithLabelValues(fmt.Sprintf("%d", eventID)).Inc()

	if s.wb != nil {
		_ = s.wb.Enqueue(database.Job{
			Name: "chat-insert",
			Run: func(jctx context.Context) error {
				return s.store.InsertChat(jctx, eventID, userID, message, now)
			},
		})
	}
	return frame, nil
}

// Recent returns up to recentMax frames in chronological order. A cold
// ring falls back to the durable store and re-primes the cache so the
// next bootstrap is cheap again.
func (s *Service) Recent(ctx context.Context, eventID int64, loc *time.Location) ([]*envelope.Chat, error) {
	key := ringKey(eventID)

	raw, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		metrics.HotStoreErrors.Inc()
		raw = nil
	}
	if len(raw) > 0 {
		frames := make([]*envelope.Chat, 0, len(raw))
		for _, item := range raw {
			var frame envelope.Chat
			if err := json.Unmarshal([]byte(item), &frame); err != nil {
				continue
			}
			frames = append(frames, &frame)
		}
		return frames, nil
	}

	if s.store == nil {
		return nil, nil
	}
	rows, err := s.store.RecentChats(ctx, eventID, s.recentMax)
	if err != nil {
		return nil, fmt.Errorf("recent chats fallback: %w", err)
	}

	frames := make([]*envelope.Chat, 0, len(rows))
	payloads := make([]any, 0, len(rows))
	for _, row := range rows {
		frame := &envelope.Chat{
			Type:      envelope.TypeChat,
			User:      row.UserName,
			UserID:    row.UserID,
			Message:   row.Message,
			Timestamp: FormatClock(row.CreatedAt, loc),
		}
		frames = append(frames, frame)
		if payload, err := json.Marshal(frame); err == nil {
			payloads = append(payloads, payload)
		}
	}

	if len(payloads) > 0 {
		pipe := s.rdb.Pipeline()
		pipe.RPush(ctx, key, payloads...)
		pipe.LTrim(ctx, key, int64(-s.recentMax), -1)
		if _, err := pipe.Exec(ctx); err != nil {
			metrics.HotStoreErrors.Inc()
		}
	}
	return frames, nil
}
