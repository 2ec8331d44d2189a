// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Package session implements the opaque-token session store on the hot
// store. Tokens carry no structure: possession of a valid token is the
// whole credential, and the TTL slides on every read so active clients
// stay signed in while idle ones age out.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/livehall/internal/logging"
	"github.com/tomtom215/livehall/internal/metrics"
	"github.com/tomtom215/livehall/internal/models"
)

const keyPrefix = "session:"

// Store holds sessions in a dedicated hot-store logical database.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore wraps a hot-store client. The client must already be bound
// to the sessions logical database.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Create mints a new opaque token for the principal.
func (s *Store) Create(ctx context.Context, rec *models.SessionRecord) (string, error) {
	token := uuid.NewString()
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+token, payload, s.ttl).Err(); err != nil {
		metrics.HotStoreErrors.Inc()
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Get resolves a token and re-arms its TTL. A missing, expired or
// unreadable session returns nil with no error: the hot store being
// down means every caller is unauthenticated, it never means a stall.
func (s *Store) Get(ctx context.Context, token string) *models.SessionRecord {
	if token == "" {
		return nil
	}
	key := keyPrefix + token

	payload, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			metrics.HotStoreErrors.Inc()
			logging.Err(err).Msg("session lookup failed, treating as unauthenticated")
		}
		return nil
	}

	var rec models.SessionRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		logging.Err(err).Msg("corrupt session payload, discarding")
		_ = s.rdb.Del(ctx, key).Err()
		return nil
	}

	// Sliding expiry. A failed re-arm is not fatal: the session simply
	// keeps its remaining TTL.
	if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
		metrics.HotStoreErrors.Inc()
	}
	return &rec
}

// Delete invalidates one token.
func (s *Store) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.rdb.Del(ctx, keyPrefix+token).Err(); err != nil {
		metrics.HotStoreErrors.Inc()
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteByUser invalidates every session belonging to a user. This is
// an admin-triggered scan over the sessions database; it never runs on
// a request path.
func (s *Store) DeleteByUser(ctx context.Context, userID int64) (int, error) {
	var deleted int
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		payload, err := s.rdb.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var rec models.SessionRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			continue
		}
		if rec.UserID != userID {
			continue
		}
		if err := s.rdb.Del(ctx, key).Err(); err == nil {
			deleted++
		}
	}
	if err := iter.Err(); err != nil {
		metrics.HotStoreErrors.Inc()
		return deleted, fmt.Errorf("scan sessions: %w", err)
	}
	return deleted, nil
}
