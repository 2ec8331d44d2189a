// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package database

import (
	"context"
	"fmt"
	"time"
)

// ChatRow is a durable chat message joined with the sender's name, as
// needed to rebuild the recent-message cache.
type ChatRow struct {
	ID        int64
	EventID   int64
	UserID    int64
	UserName  string
	Message   string
	CreatedAt time.Time
}

// InsertChat persists one chat message.
func (db *DB) InsertChat(ctx context.Context, eventID, userID int64, message string, at time.Time) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	_, err := db.pool.Exec(ctx,
		`INSERT INTO chat_messages (event_id, user_id, message, created_at)
		 VALUES ($1, $2, $3, $4)`, eventID, userID, message, at)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// RecentChats returns the newest limit messages in chronological order.
func (db *DB) RecentChats(ctx context.Context, eventID int64, limit int) ([]ChatRow, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT c.id, c.event_id, c.user_id, COALESCE(NULLIF(TRIM(u.name), ''), 'Visitante'),
			message, c.created_at
		 FROM chat_messages c LEFT JOIN users u ON u.id = c.user_id
		 WHERE c.event_id = $1
		 ORDER BY c.created_at DESC, c.id DESC
		 LIMIT $2`, eventID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent chats: %w", err)
	}
	defer rows.Close()

	var out []ChatRow
	for rows.Next() {
		var r ChatRow
		if err := rows.Scan(&r.ID, &r.EventID, &r.UserID, &r.UserName, &r.Message, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ChatTimestamps returns message times since the cutoff, for the
// engagement chart buckets.
func (db *DB) ChatTimestamps(ctx context.Context, eventID int64, since time.Time) ([]time.Time, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT created_at FROM chat_messages WHERE event_id = $1 AND created_at >= $2`,
		eventID, since)
	if err != nil {
		return nil, fmt.Errorf("chat timestamps: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
