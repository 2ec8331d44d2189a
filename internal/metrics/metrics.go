// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Package metrics registers the Prometheus instrumentation for the realtime
// core: socket population, fan-out volume, validator rejections, poll
// activity, store errors and snapshot latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WSConnections tracks registered sockets per role.
	WSConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Current number of registered websocket clients per role",
		},
		[]string{"role"},
	)

	// BroadcastsTotal counts fan-out calls by envelope type.
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_broadcasts_total",
			Help: "Total number of broadcast fan-outs by envelope type",
		},
		[]string{"type"},
	)

	// BroadcastDrops counts frames dropped because a client send buffer was full.
	BroadcastDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_broadcast_drops_total",
			Help: "Total frames dropped due to full client send buffers",
		},
	)

	// PubSubReceived counts envelopes received from the cross-instance channel.
	PubSubReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_pubsub_received_total",
			Help: "Total envelopes received from event pub/sub channels",
		},
	)

	// PubSubDropped counts envelopes shed by the bounded listener queue.
	PubSubDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_pubsub_dropped_total",
			Help: "Total pub/sub envelopes dropped by the bounded listener queue",
		},
	)

	// ChatMessages counts accepted chat messages per event.
	ChatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total accepted chat messages",
		},
		[]string{"event_id"},
	)

	// ValidationRejections counts validator rejections by reason.
	ValidationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_validation_rejections_total",
			Help: "Total rejected messages by reason (length, throttle, duplicate)",
		},
		[]string{"kind", "reason"},
	)

	// QuestionTransitions counts question state-machine transitions.
	QuestionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "question_transitions_total",
			Help: "Total question pipeline transitions",
		},
		[]string{"transition"},
	)

	// PollVotes counts accepted and rejected poll votes.
	PollVotes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_votes_total",
			Help: "Total poll vote attempts by outcome",
		},
		[]string{"outcome"}, // "accepted", "duplicate", "closed", "invalid"
	)

	// HotStoreErrors counts Redis round-trip failures.
	HotStoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hot_store_errors_total",
			Help: "Total hot store (Redis) operation failures",
		},
	)

	// DurableStoreErrors counts database failures.
	DurableStoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "durable_store_errors_total",
			Help: "Total durable store (Postgres) operation failures",
		},
	)

	// WriteBehindQueueDepth is the current depth of the write-behind queue.
	WriteBehindQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "write_behind_queue_depth",
			Help: "Current number of pending write-behind jobs",
		},
	)

	// WriteBehindDropped counts write-behind jobs shed under overload.
	WriteBehindDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "write_behind_dropped_total",
			Help: "Total write-behind jobs dropped because the queue was full",
		},
	)

	// SnapshotDuration observes per-event snapshot computation time.
	SnapshotDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snapshot_compute_duration_seconds",
			Help:    "Duration of derived-view snapshot computation per event",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	// SnapshotCacheHits counts snapshot requests served from the short-TTL cache.
	SnapshotCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snapshot_cache_hits_total",
			Help: "Total snapshot computations absorbed by the short-TTL cache",
		},
	)

	// APIRequestsTotal counts HTTP API requests.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	// APIRequestDuration observes HTTP API latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)
