// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package database

import (
	"context"
	"fmt"

	"github.com/tomtom215/livehall/internal/models"
)

const eventColumns = `id, slug, title, video_url, status,
	COALESCE(registration_mode, ''), COALESCE(registration_restricted_type, ''),
	COALESCE(allowed_domain, ''), registration_open_at, registration_close_at,
	access_open_at, capacity, COALESCE(timezone, 'UTC'),
	COALESCE(registration_schema, '[]'::jsonb), COALESCE(registration_success_message, ''),
	is_deleted, created_at`

func scanEvent(row interface{ Scan(...any) error }) (*models.Event, error) {
	var ev models.Event
	err := row.Scan(
		&ev.ID, &ev.Slug, &ev.Title, &ev.VideoURL, &ev.Status,
		&ev.RegistrationMode, &ev.RestrictedType, &ev.AllowedDomains,
		&ev.RegistrationOpenAt, &ev.RegistrationCloseAt,
		&ev.AccessOpenAt, &ev.Capacity, &ev.Timezone,
		&ev.RegistrationSchema, &ev.RegistrationSuccessMessage,
		&ev.IsDeleted, &ev.CreatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &ev, nil
}

// GetEvent fetches one event by id. Soft-deleted events are invisible.
func (db *DB) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	row := db.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 AND NOT is_deleted`, id)
	return scanEvent(row)
}

// GetEventBySlug fetches one event by its public slug.
func (db *DB) GetEventBySlug(ctx context.Context, slug string) (*models.Event, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	row := db.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE slug = $1 AND NOT is_deleted`, slug)
	return scanEvent(row)
}

// ListEvents returns all non-deleted events, newest first.
func (db *DB) ListEvents(ctx context.Context) ([]*models.Event, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE NOT is_deleted ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SlugInUse reports whether a non-deleted event other than excludeID
// already owns the slug.
func (db *DB) SlugInUse(ctx context.Context, slug string, excludeID int64) (bool, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM events WHERE slug = $1 AND id <> $2 AND NOT is_deleted)`,
		slug, excludeID).Scan(&exists)
	return exists, err
}

// CreateEvent inserts a new draft event and returns its id.
func (db *DB) CreateEvent(ctx context.Context, ev *models.Event) (int64, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var id int64
	err := db.pool.QueryRow(ctx,
		`INSERT INTO events (slug, title, video_url, status, registration_mode,
			registration_restricted_type, allowed_domain,
			registration_open_at, registration_close_at, access_open_at, capacity,
			timezone, registration_schema, registration_success_message, is_deleted, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
			$8, $9, $10, $11, $12, $13, $14, false, now())
		 RETURNING id`,
		ev.Slug, ev.Title, ev.VideoURL, ev.Status, string(ev.RegistrationMode),
		string(ev.RestrictedType), ev.AllowedDomains,
		ev.RegistrationOpenAt, ev.RegistrationCloseAt, ev.AccessOpenAt, ev.Capacity,
		ev.Timezone, ev.RegistrationSchema, ev.RegistrationSuccessMessage,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create event: %w", err)
	}
	return id, nil
}

// UpdateEventStatus sets the lifecycle state. Transition legality is
// enforced by the events service, not here.
func (db *DB) UpdateEventStatus(ctx context.Context, id int64, status models.EventStatus) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	tag, err := db.pool.Exec(ctx,
		`UPDATE events SET status = $2 WHERE id = $1 AND NOT is_deleted`, id, status)
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteEvent hides the event and frees its slug for reuse by
// convention (slug uniqueness only spans non-deleted rows).
func (db *DB) SoftDeleteEvent(ctx context.Context, id int64) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	tag, err := db.pool.Exec(ctx,
		`UPDATE events SET is_deleted = true WHERE id = $1 AND NOT is_deleted`, id)
	if err != nil {
		return fmt.Errorf("soft delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountRegistrations counts viewer accounts bound to the event, used for
// capacity checks at registration time.
func (db *DB) CountRegistrations(ctx context.Context, eventID int64) (int64, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var n int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE event_id = $1`, eventID).Scan(&n)
	return n, err
}

// IsEmailWhitelisted reports whether the email appears on the event's
// registration whitelist. Matching is case-insensitive.
func (db *DB) IsEmailWhitelisted(ctx context.Context, eventID int64, email string) (bool, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var ok bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM event_email_whitelist
		  WHERE event_id = $1 AND lower(email) = lower($2))`,
		eventID, email).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("whitelist lookup: %w", err)
	}
	return ok, nil
}
