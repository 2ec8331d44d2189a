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

// QuestionView is a question joined with the name shown on outbound
// frames: the manual author name when set, otherwise the author's
// account name.
type QuestionView struct {
	ID          int64
	EventID     int64
	DisplayName string
	Text        string
	Status      models.QuestionStatus
	CreatedAt   time.Time
}

const questionViewColumns = `q.id, q.event_id,
	COALESCE(NULLIF(TRIM(q.manual_author_name), ''), NULLIF(TRIM(u.name), ''), 'Visitante'),
	q.text, q.status, q.created_at`

func scanQuestionView(row interface{ Scan(...any) error }) (*QuestionView, error) {
	var qv QuestionView
	err := row.Scan(&qv.ID, &qv.EventID, &qv.DisplayName, &qv.Text, &qv.Status, &qv.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &qv, nil
}

// InsertQuestion stores a new pending question and returns its view.
// manualName, when non-blank, overrides the author's display name on
// every outbound frame (questions relayed from external channels).
func (db *DB) InsertQuestion(ctx context.Context, eventID, authorID int64, text, manualName string) (*QuestionView, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var id int64
	err := db.pool.QueryRow(ctx,
		`INSERT INTO questions (event_id, author_user_id, text, manual_author_name, status, created_at)
		 VALUES ($1, $2, $3, NULLIF(TRIM($4), ''), 'pending', now()) RETURNING id`,
		eventID, authorID, text, manualName).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	return db.getQuestionView(ctx, id)
}

func (db *DB) getQuestionView(ctx context.Context, id int64) (*QuestionView, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+questionViewColumns+`
		 FROM questions q LEFT JOIN users u ON u.id = q.author_user_id
		 WHERE q.id = $1`, id)
	return scanQuestionView(row)
}

// GetQuestionView fetches one question's display view.
func (db *DB) GetQuestionView(ctx context.Context, id int64) (*QuestionView, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()
	return db.getQuestionView(ctx, id)
}

// ApproveQuestion moves pending to approved. Approving an already
// approved question is a no-op that still reports success, so two
// moderators racing on the same question both see it land once.
func (db *DB) ApproveQuestion(ctx context.Context, id, eventID int64) (*QuestionView, bool, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	tag, err := db.pool.Exec(ctx,
		`UPDATE questions SET status = 'approved'
		 WHERE id = $1 AND event_id = $2 AND status = 'pending'`, id, eventID)
	if err != nil {
		return nil, false, fmt.Errorf("approve question: %w", err)
	}

	qv, err := db.getQuestionView(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if qv.EventID != eventID || qv.Status != models.QuestionApproved {
		return nil, false, ErrNotFound
	}
	return qv, tag.RowsAffected() > 0, nil
}

// RejectQuestion deletes a pending question and records the rejection in
// the audit table so status charts can still count it.
func (db *DB) RejectQuestion(ctx context.Context, id, eventID int64) (bool, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("reject question: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM questions WHERE id = $1 AND event_id = $2 AND status = 'pending'`,
		id, eventID)
	if err != nil {
		return false, fmt.Errorf("reject question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO question_rejections (question_id, event_id, rejected_at)
		 VALUES ($1, $2, now())`, id, eventID); err != nil {
		return false, fmt.Errorf("record rejection: %w", err)
	}
	return true, tx.Commit(ctx)
}

// MarkQuestionRead moves approved to read.
func (db *DB) MarkQuestionRead(ctx context.Context, id, eventID int64) (bool, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	tag, err := db.pool.Exec(ctx,
		`UPDATE questions SET status = 'read'
		 WHERE id = $1 AND event_id = $2 AND status = 'approved'`, id, eventID)
	if err != nil {
		return false, fmt.Errorf("mark question read: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReturnQuestion moves approved back to pending.
func (db *DB) ReturnQuestion(ctx context.Context, id, eventID int64) (*QuestionView, bool, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	tag, err := db.pool.Exec(ctx,
		`UPDATE questions SET status = 'pending'
		 WHERE id = $1 AND event_id = $2 AND status = 'approved'`, id, eventID)
	if err != nil {
		return nil, false, fmt.Errorf("return question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}
	qv, err := db.getQuestionView(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return qv, true, nil
}

// ListQuestions returns the event's questions in one status, oldest first.
// Rejected questions never appear: their rows are gone.
func (db *DB) ListQuestions(ctx context.Context, eventID int64, status models.QuestionStatus) ([]*QuestionView, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT `+questionViewColumns+`
		 FROM questions q LEFT JOIN users u ON u.id = q.author_user_id
		 WHERE q.event_id = $1 AND q.status = $2
		 ORDER BY q.created_at ASC`, eventID, status)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []*QuestionView
	for rows.Next() {
		qv, err := scanQuestionView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, qv)
	}
	return out, rows.Err()
}

// QuestionStatusCounts tallies questions per pipeline state, including
// rejections recovered from the audit table.
func (db *DB) QuestionStatusCounts(ctx context.Context, eventID int64) (map[string]int64, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	counts := map[string]int64{"pending": 0, "approved": 0, "read": 0, "rejected": 0}

	rows, err := db.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM questions WHERE event_id = $1 GROUP BY status`, eventID)
	if err != nil {
		return nil, fmt.Errorf("question status counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var rejected int64
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM question_rejections WHERE event_id = $1`, eventID).Scan(&rejected); err != nil {
		return nil, fmt.Errorf("rejection count: %w", err)
	}
	counts["rejected"] = rejected
	return counts, nil
}

// QuestionTimestamps returns creation times since the cutoff, for the
// engagement chart buckets.
func (db *DB) QuestionTimestamps(ctx context.Context, eventID int64, since time.Time) ([]time.Time, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT created_at FROM questions WHERE event_id = $1 AND created_at >= $2`,
		eventID, since)
	if err != nil {
		return nil, fmt.Errorf("question timestamps: %w", err)
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
