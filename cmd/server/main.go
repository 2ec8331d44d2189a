// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Command server runs one livehall instance: the socket tier, the HTTP
// surface and the background workers under a single supervision tree.
// Instances share state through Redis and Postgres; any number of them
// can serve the same events behind a load balancer.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/livehall/internal/api"
	"github.com/tomtom215/livehall/internal/chat"
	"github.com/tomtom215/livehall/internal/config"
	"github.com/tomtom215/livehall/internal/database"
	"github.com/tomtom215/livehall/internal/events"
	"github.com/tomtom215/livehall/internal/gateway"
	"github.com/tomtom215/livehall/internal/hub"
	"github.com/tomtom215/livehall/internal/logging"
	"github.com/tomtom215/livehall/internal/msgcheck"
	"github.com/tomtom215/livehall/internal/polls"
	"github.com/tomtom215/livehall/internal/presence"
	"github.com/tomtom215/livehall/internal/questions"
	"github.com/tomtom215/livehall/internal/session"
	"github.com/tomtom215/livehall/internal/snapshot"
	"github.com/tomtom215/livehall/internal/supervisor"
	"github.com/tomtom215/livehall/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One client per logical database so a slow keyspace cannot head-of-line
	// block another concern's pipeline.
	newRedis := func(db int) *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          db,
			DialTimeout: cfg.Redis.DialTimeout,
			ReadTimeout: cfg.Redis.ReadTimeout,
		})
	}
	sessionRdb := newRedis(cfg.Redis.SessionDB)
	telemetryRdb := newRedis(cfg.Redis.TelemetryDB)
	presenceRdb := newRedis(cfg.Redis.PresenceDB)
	cacheRdb := newRedis(cfg.Redis.CacheDB)
	defer func() {
		for _, c := range []*redis.Client{sessionRdb, telemetryRdb, presenceRdb, cacheRdb} {
			_ = c.Close()
		}
	}()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	writeBehind := database.NewWriteBehind(db, 1024)

	sessions := session.NewStore(sessionRdb, cfg.Session.TTL)
	tracker := presence.New(presenceRdb, db, cfg.Presence.Window, cfg.Presence.WritebackInterval)
	checker := msgcheck.New(presenceRdb, cfg.Messages.MaxLength, cfg.Messages.ThrottleWindow,
		cfg.Messages.DuplicateWindow, cfg.Messages.DuplicateThreshold)

	h := hub.New()
	pubsub := hub.NewPubSub(cacheRdb, h)
	h.AttachPubSub(pubsub, pubsub)

	chatSvc := chat.New(cacheRdb, db, writeBehind, cfg.Chat.RecentMax)
	questionSvc := questions.New(db, h)
	pollSvc := polls.New(cacheRdb, db, h, writeBehind)
	defer pollSvc.Stop()
	eventSvc := events.New(db, cacheRdb, h)

	snapshots := snapshot.New(db, tracker, h, h, cacheRdb,
		cfg.Snapshot.Interval, cfg.Snapshot.CacheTTL,
		cfg.Snapshot.ChartWindow, cfg.Snapshot.ChartBucket)

	gw := gateway.New(db, sessions, tracker, checker,
		chatSvc, questionSvc, pollSvc, h, snapshots, cfg.Session.CookieName)

	recorder := telemetry.New(telemetryRdb, cfg.Telemetry.Interval, cfg.Telemetry.RetentionHrs)

	surface := api.New(cfg, db, sessions, tracker, pollSvc, questionSvc, eventSvc,
		h, snapshots, recorder, gw.ServeWS)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      surface.Router(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(slog.New(logging.NewSlogHandler()), supervisor.DefaultTreeConfig())
	tree.AddRealtimeService(h)
	tree.AddRealtimeService(pubsub)
	tree.AddBackgroundService(writeBehind)
	tree.AddBackgroundService(snapshots)
	if cfg.Telemetry.Enabled {
		tree.AddBackgroundService(recorder)
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.Timeout))

	logging.Info().
		Str("addr", server.Addr).
		Int("session_db", cfg.Redis.SessionDB).
		Int("presence_db", cfg.Redis.PresenceDB).
		Msg("livehall starting")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
		for _, s := range unstopped {
			logging.Warn().Str("service", s.Name).Msg("service did not stop in time")
		}
	}
	logging.Info().Msg("livehall stopped")
	return nil
}
