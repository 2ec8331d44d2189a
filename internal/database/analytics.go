// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/livehall/internal/models"
)

// EnsureSession upserts the (event, user) analytics row at connect time.
// Existing rows keep their start time and accumulated minutes.
func (db *DB) EnsureSession(ctx context.Context, eventID, userID int64) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	_, err := db.pool.Exec(ctx,
		`INSERT INTO session_analytics (event_id, user_id, start_time, last_ping, total_minutes)
		 VALUES ($1, $2, now(), now(), 0)
		 ON CONFLICT (event_id, user_id) DO UPDATE SET last_ping = now()`,
		eventID, userID)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// WritebackPing advances the durable last-seen and credits one minute of
// attendance. Called at most once per writeback interval per user.
func (db *DB) WritebackPing(ctx context.Context, eventID, userID int64) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	_, err := db.pool.Exec(ctx,
		`INSERT INTO session_analytics (event_id, user_id, start_time, last_ping, total_minutes)
		 VALUES ($1, $2, now(), now(), 1)
		 ON CONFLICT (event_id, user_id)
		 DO UPDATE SET last_ping = now(), total_minutes = session_analytics.total_minutes + 1`,
		eventID, userID)
	if err != nil {
		return fmt.Errorf("writeback ping: %w", err)
	}
	return nil
}

// ForceLastSeenBack pushes the durable last-seen far into the past so
// the user stops counting as present immediately on disconnect, without
// waiting out the presence window.
func (db *DB) ForceLastSeenBack(ctx context.Context, eventID, userID int64) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	_, err := db.pool.Exec(ctx,
		`UPDATE session_analytics SET last_ping = now() - interval '1 day'
		 WHERE event_id = $1 AND user_id = $2`, eventID, userID)
	if err != nil {
		return fmt.Errorf("force last seen back: %w", err)
	}
	return nil
}

// SessionDetails returns analytics rows joined with user names and
// moderation flags for the given users, ordered by name.
func (db *DB) SessionDetails(ctx context.Context, eventID int64, userIDs []int64) ([]models.SessionAnalytics, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT s.user_id, s.event_id, COALESCE(NULLIF(TRIM(u.name), ''), 'Visitante'),
			s.start_time, s.last_ping, s.total_minutes,
			u.chat_blocked, u.qa_blocked, u.banned
		 FROM session_analytics s JOIN users u ON u.id = s.user_id
		 WHERE s.event_id = $1 AND s.user_id = ANY($2)
		 ORDER BY u.name`, eventID, userIDs)
	if err != nil {
		return nil, fmt.Errorf("session details: %w", err)
	}
	defer rows.Close()
	return scanSessionRows(rows)
}

// AllParticipants returns every analytics row for the event, for the
// reports roster.
func (db *DB) AllParticipants(ctx context.Context, eventID int64) ([]models.SessionAnalytics, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT s.user_id, s.event_id, COALESCE(NULLIF(TRIM(u.name), ''), 'Visitante'),
			s.start_time, s.last_ping, s.total_minutes,
			u.chat_blocked, u.qa_blocked, u.banned
		 FROM session_analytics s JOIN users u ON u.id = s.user_id
		 WHERE s.event_id = $1
		 ORDER BY u.name`, eventID)
	if err != nil {
		return nil, fmt.Errorf("all participants: %w", err)
	}
	defer rows.Close()
	return scanSessionRows(rows)
}

func scanSessionRows(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]models.SessionAnalytics, error) {
	var out []models.SessionAnalytics
	for rows.Next() {
		var s models.SessionAnalytics
		if err := rows.Scan(&s.UserID, &s.EventID, &s.UserName,
			&s.StartTime, &s.LastPing, &s.TotalMinutes,
			&s.ChatBlocked, &s.QABlocked, &s.Banned); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// EngagementTotals aggregates the headline report numbers.
type EngagementTotals struct {
	Participants   int64
	TotalMinutes   int64
	AvgMinutes     float64
	ChatMessages   int64
	QuestionsAsked int64
}

// GetEngagementTotals computes the headline metrics for one event.
func (db *DB) GetEngagementTotals(ctx context.Context, eventID int64) (EngagementTotals, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var t EngagementTotals
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total_minutes), 0), COALESCE(AVG(total_minutes), 0)
		 FROM session_analytics WHERE event_id = $1`, eventID).Scan(
		&t.Participants, &t.TotalMinutes, &t.AvgMinutes)
	if err != nil {
		return t, fmt.Errorf("engagement totals: %w", err)
	}
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE event_id = $1`, eventID).Scan(&t.ChatMessages); err != nil {
		return t, fmt.Errorf("chat total: %w", err)
	}
	if err := db.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM questions WHERE event_id = $1)
			+ (SELECT COUNT(*) FROM question_rejections WHERE event_id = $1)`, eventID).Scan(&t.QuestionsAsked); err != nil {
		return t, fmt.Errorf("question total: %w", err)
	}
	return t, nil
}

// SessionSpans returns (start, last ping) pairs for retention bucketing.
func (db *DB) SessionSpans(ctx context.Context, eventID int64) ([][2]time.Time, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT start_time, last_ping FROM session_analytics WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("session spans: %w", err)
	}
	defer rows.Close()

	var out [][2]time.Time
	for rows.Next() {
		var span [2]time.Time
		if err := rows.Scan(&span[0], &span[1]); err != nil {
			return nil, err
		}
		out = append(out, span)
	}
	return out, rows.Err()
}
