// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Package database owns the durable store: a pgx connection pool and the
// repositories for events, users, staff, questions, chat history, polls and
// session analytics. Every operation takes a lease from the pool for its
// own duration; release is handled by pgxpool on every exit path.
//
// Schema management is external to this service. The repositories assume
// the tables exist and fail loudly when they do not.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/livehall/internal/config"
	"github.com/tomtom215/livehall/internal/logging"
)

// ErrNotFound is returned when a row the caller named does not exist.
var ErrNotFound = errors.New("database: not found")

// DB wraps the pgx pool with the per-operation timeout policy.
type DB struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// New connects the pool and verifies the server is reachable.
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	pcfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logging.Info().Int32("max_conns", cfg.MaxConns).Msg("database pool ready")
	return &DB{pool: pool, timeout: cfg.Timeout}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.pool.Close()
}

// opCtx bounds a single operation. The caller's context still governs
// cancellation; the timeout only caps how long one lease may be held.
func (db *DB) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, db.timeout)
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
