// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Package telemetry snapshots the process metrics into the hot store on
// a fixed cadence, giving operators a short history window even without
// a scraping Prometheus in front of the service.
package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/livehall/internal/logging"
	"github.com/tomtom215/livehall/internal/metrics"
)

const snapshotsKey = "telemetry:snapshots"

// Recorder periodically gathers and stores metric snapshots.
type Recorder struct {
	rdb       *redis.Client
	gatherer  prometheus.Gatherer
	interval  time.Duration
	retention time.Duration

	now func() time.Time
}

// New builds a recorder over the telemetry logical database.
func New(rdb *redis.Client, interval time.Duration, retentionHours int) *Recorder {
	return &Recorder{
		rdb:       rdb,
		gatherer:  prometheus.DefaultGatherer,
		interval:  interval,
		retention: time.Duration(retentionHours) * time.Hour,
		now:       time.Now,
	}
}

// Serve records one snapshot per interval until cancelled.
func (r *Recorder) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.record(ctx); err != nil {
				logging.Err(err).Msg("telemetry snapshot failed")
			}
		}
	}
}

// record gathers the counter/gauge values into one timestamped entry in
// a sorted set scored by unix time, then trims entries past retention.
func (r *Recorder) record(ctx context.Context) error {
	families, err := r.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	now := r.now()
	snapshot := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			switch {
			case m.GetCounter() != nil:
				snapshot[name] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				snapshot[name] += m.GetGauge().GetValue()
			}
		}
	}

	entry, err := json.Marshal(map[string]any{
		"ts":      now.Unix(),
		"metrics": snapshot,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	cutoff := now.Add(-r.retention).Unix()
	pipe := r.rdb.Pipeline()
	pipe.ZAdd(ctx, snapshotsKey, redis.Z{Score: float64(now.Unix()), Member: entry})
	pipe.ZRemRangeByScore(ctx, snapshotsKey, "-inf", strconv.FormatInt(cutoff, 10))
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.HotStoreErrors.Inc()
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// History returns every retained snapshot, oldest first. Entries are
// the raw JSON written by record so the caller can pass them through.
func (r *Recorder) History(ctx context.Context) ([]json.RawMessage, error) {
	entries, err := r.rdb.ZRangeByScore(ctx, snapshotsKey, &redis.ZRangeBy{
		Min: "-inf", Max: "+inf",
	}).Result()
	if err != nil {
		metrics.HotStoreErrors.Inc()
		return nil, fmt.Errorf("read snapshots: %w", err)
	}
	out := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		out = append(out, json.RawMessage(e))
	}
	return out, nil
}

// String implements fmt.Stringer for supervisor logs.
func (r *Recorder) String() string {
	return "telemetry-recorder"
}
