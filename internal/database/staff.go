// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/livehall/internal/envelope"
)

// GetStaffRole returns the per-event staff role for (user, event), or
// ok=false when no assignment exists. This relation is authoritative for
// staff capability; the user row's global role only matters for superadmins.
func (db *DB) GetStaffRole(ctx context.Context, userID, eventID int64) (envelope.StaffRole, bool, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var role envelope.StaffRole
	err := db.pool.QueryRow(ctx,
		`SELECT role FROM event_staff WHERE user_id = $1 AND event_id = $2`,
		userID, eventID).Scan(&role)
	if err != nil {
		if errors.Is(mapNoRows(err), ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get staff role: %w", err)
	}
	return role, true, nil
}

// AssignStaff upserts a staff assignment for (user, event).
func (db *DB) AssignStaff(ctx context.Context, userID, eventID int64, role envelope.StaffRole) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	_, err := db.pool.Exec(ctx,
		`INSERT INTO event_staff (user_id, event_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, event_id) DO UPDATE SET role = EXCLUDED.role`,
		userID, eventID, role)
	if err != nil {
		return fmt.Errorf("assign staff: %w", err)
	}
	return nil
}

// StaffUserIDs returns every user with a staff assignment on the event.
// The audience views exclude these ids.
func (db *DB) StaffUserIDs(ctx context.Context, eventID int64) (map[int64]bool, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT user_id FROM event_staff WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("staff user ids: %w", err)
	}
	defer rows.Close()

	ids := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// RemoveStaff deletes a staff assignment.
func (db *DB) RemoveStaff(ctx context.Context, userID, eventID int64) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	_, err := db.pool.Exec(ctx,
		`DELETE FROM event_staff WHERE user_id = $1 AND event_id = $2`, userID, eventID)
	if err != nil {
		return fmt.Errorf("remove staff: %w", err)
	}
	return nil
}
