// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/livehall/internal/models"
)

// GetUser fetches one user with moderation flags.
func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var u models.User
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(email, ''), COALESCE(global_role, ''),
			event_id, chat_blocked, qa_blocked, banned, created_at
		 FROM users WHERE id = $1`, id).Scan(
		&u.ID, &u.Name, &u.Email, &u.GlobalRole,
		&u.EventID, &u.ChatBlocked, &u.QABlocked, &u.Banned, &u.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &u, nil
}

// UserModerationFlags is the per-message recheck payload. The gateway
// reads this on every inbound frame so block/ban edits apply without a
// reconnect.
type UserModerationFlags struct {
	ChatBlocked bool
	QABlocked   bool
	Banned      bool
}

// GetUserModerationFlags reads only the flags needed for the inbound
// frame permission recheck.
func (db *DB) GetUserModerationFlags(ctx context.Context, id int64) (UserModerationFlags, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var f UserModerationFlags
	err := db.pool.QueryRow(ctx,
		`SELECT chat_blocked, qa_blocked, banned FROM users WHERE id = $1`, id).Scan(
		&f.ChatBlocked, &f.QABlocked, &f.Banned)
	if err != nil {
		return UserModerationFlags{}, mapNoRows(err)
	}
	return f, nil
}

// ErrUnknownFlag rejects a moderation flag outside the whitelist.
var ErrUnknownFlag = errors.New("unknown moderation flag")

// SetUserFlag flips one moderation flag. Allowed columns are fixed here
// so callers cannot smuggle arbitrary column names into the statement.
func (db *DB) SetUserFlag(ctx context.Context, id int64, flag string, value bool) error {
	var column string
	switch flag {
	case "chat_blocked":
		column = "chat_blocked"
	case "qa_blocked":
		column = "qa_blocked"
	case "banned":
		column = "banned"
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFlag, flag)
	}

	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	tag, err := db.pool.Exec(ctx,
		`UPDATE users SET `+column+` = $2 WHERE id = $1`, id, value)
	if err != nil {
		return fmt.Errorf("set user flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DisplayName returns the user's visible name, or fallback when the user
// row is missing or the name is blank.
func (db *DB) DisplayName(ctx context.Context, id int64, fallback string) string {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var name string
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(NULLIF(TRIM(name), ''), $2) FROM users WHERE id = $1`,
		id, fallback).Scan(&name)
	if err != nil {
		return fallback
	}
	return name
}
