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

const pollColumns = `id, event_id, question, options, status, close_at, created_at`

func scanPoll(row interface{ Scan(...any) error }) (*models.Poll, error) {
	var p models.Poll
	err := row.Scan(&p.ID, &p.EventID, &p.Question, &p.Options, &p.Status, &p.CloseAt, &p.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &p, nil
}

// CreatePoll inserts a catalog entry and returns its id.
func (db *DB) CreatePoll(ctx context.Context, p *models.Poll) (int64, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var id int64
	err := db.pool.QueryRow(ctx,
		`INSERT INTO polls (event_id, question, options, status, created_at)
		 VALUES ($1, $2, $3, $4, now()) RETURNING id`,
		p.EventID, p.Question, p.Options, p.Status).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create poll: %w", err)
	}
	return id, nil
}

// GetPoll fetches one catalog entry scoped to its event.
func (db *DB) GetPoll(ctx context.Context, pollID, eventID int64) (*models.Poll, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	row := db.pool.QueryRow(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE id = $1 AND event_id = $2`, pollID, eventID)
	return scanPoll(row)
}

// ListPolls returns the event's catalog, newest first.
func (db *DB) ListPolls(ctx context.Context, eventID int64) ([]*models.Poll, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE event_id = $1 ORDER BY created_at DESC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()

	var out []*models.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePollContent rewrites question and options on a draft or
// published entry. Closed entries are immutable.
func (db *DB) UpdatePollContent(ctx context.Context, pollID, eventID int64, question string, options []string) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	tag, err := db.pool.Exec(ctx,
		`UPDATE polls SET question = $3, options = $4
		 WHERE id = $1 AND event_id = $2 AND status <> 'closed'`,
		pollID, eventID, question, options)
	if err != nil {
		return fmt.Errorf("update poll: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPollStatus moves the catalog state machine forward.
func (db *DB) SetPollStatus(ctx context.Context, pollID, eventID int64, status models.PollStatus) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	tag, err := db.pool.Exec(ctx,
		`UPDATE polls SET status = $3 WHERE id = $1 AND event_id = $2`,
		pollID, eventID, status)
	if err != nil {
		return fmt.Errorf("set poll status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPollCloseAt records the scheduled auto-close time.
func (db *DB) SetPollCloseAt(ctx context.Context, pollID, eventID int64, closeAt *time.Time) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	tag, err := db.pool.Exec(ctx,
		`UPDATE polls SET close_at = $3 WHERE id = $1 AND event_id = $2`,
		pollID, eventID, closeAt)
	if err != nil {
		return fmt.Errorf("set poll close_at: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertVoteAudit records one vote durably. The hot store already
// enforces single-vote; the conflict clause keeps the audit idempotent
// against replays.
func (db *DB) InsertVoteAudit(ctx context.Context, pollID, eventID, userID int64, optionIndex int) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	_, err := db.pool.Exec(ctx,
		`INSERT INTO poll_votes (poll_id, event_id, user_id, option_index, voted_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (poll_id, user_id) DO NOTHING`,
		pollID, eventID, userID, optionIndex)
	if err != nil {
		return fmt.Errorf("insert vote audit: %w", err)
	}
	return nil
}

// InsertPollResults writes the per-option tallies at close and marks the
// poll closed, in one transaction.
func (db *DB) InsertPollResults(ctx context.Context, pollID, eventID int64, tallies map[int]int64) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("poll results: %w", err)
	}
	defer tx.Rollback(ctx)

	for idx, votes := range tallies {
		if _, err := tx.Exec(ctx,
			`INSERT INTO poll_results (poll_id, option_index, votes)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (poll_id, option_index) DO UPDATE SET votes = EXCLUDED.votes`,
			pollID, idx, votes); err != nil {
			return fmt.Errorf("insert poll result: %w", err)
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE polls SET status = 'closed' WHERE id = $1 AND event_id = $2`,
		pollID, eventID); err != nil {
		return fmt.Errorf("close poll: %w", err)
	}
	return tx.Commit(ctx)
}

// GetPollResults returns the durable tallies for a closed poll.
func (db *DB) GetPollResults(ctx context.Context, pollID int64) ([]models.PollResult, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT poll_id, option_index, votes FROM poll_results
		 WHERE poll_id = $1 ORDER BY option_index`, pollID)
	if err != nil {
		return nil, fmt.Errorf("poll results: %w", err)
	}
	defer rows.Close()

	var out []models.PollResult
	for rows.Next() {
		var r models.PollResult
		if err := rows.Scan(&r.PollID, &r.OptionIndex, &r.Votes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
