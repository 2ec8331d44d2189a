// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package hub

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/livehall/internal/envelope"
	"github.com/tomtom215/livehall/internal/logging"
	"github.com/tomtom215/livehall/internal/metrics"
)

const channelPrefix = "broadcast:event:"

// wireEnvelope is the cross-instance frame. Origin lets the listener
// drop frames this instance published itself: local fan-out already
// happened inline, so a self-echo would double-deliver.
type wireEnvelope struct {
	Origin  string          `json:"origin"`
	Roles   []envelope.Role `json:"roles,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// PubSub is the cross-instance broadcast backbone over hot-store
// pub/sub channels, one channel per event. It implements Publisher and
// Subscriber for the hub.
type PubSub struct {
	rdb      *redis.Client
	hub      *Hub
	instance string

	mu  sync.Mutex
	sub *redis.PubSub
}

// NewPubSub builds the backbone. Each process gets a random instance
// id; it only needs to be unique among live instances.
func NewPubSub(rdb *redis.Client, h *Hub) *PubSub {
	return &PubSub{
		rdb:      rdb,
		hub:      h,
		instance: uuid.NewString(),
	}
}

func channelFor(eventID int64) string {
	return channelPrefix + strconv.FormatInt(eventID, 10)
}

// Publish sends one envelope to the event's channel. Errors are logged
// and dropped: local delivery already happened, and a hot-store outage
// must not fail the user's action.
func (p *PubSub) Publish(eventID int64, payload []byte, roles []envelope.Role) {
	wire, err := json.Marshal(wireEnvelope{Origin: p.instance, Roles: roles, Payload: payload})
	if err != nil {
		return
	}
	if err := p.rdb.Publish(context.Background(), channelFor(eventID), wire).Err(); err != nil {
		metrics.HotStoreErrors.Inc()
		logging.Err(err).Int64("event_id", eventID).Msg("pub/sub publish failed")
	}
}

// SubscribeEvent joins the event's channel. Called by the hub when the
// first local socket for the event registers.
func (p *PubSub) SubscribeEvent(eventID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub == nil {
		return
	}
	if err := p.sub.Subscribe(context.Background(), channelFor(eventID)); err != nil {
		metrics.HotStoreErrors.Inc()
		logging.Err(err).Int64("event_id", eventID).Msg("pub/sub subscribe failed")
	}
}

// UnsubscribeEvent leaves the event's channel after the last local
// socket is gone.
func (p *PubSub) UnsubscribeEvent(eventID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub == nil {
		return
	}
	if err := p.sub.Unsubscribe(context.Background(), channelFor(eventID)); err != nil {
		metrics.HotStoreErrors.Inc()
		logging.Err(err).Int64("event_id", eventID).Msg("pub/sub unsubscribe failed")
	}
}

// Serve runs the listener until the context is cancelled. Frames from
// other instances are decoded and handed to the hub for local-only
// delivery. Designed to run under the supervision tree; a dropped
// connection returns an error and the supervisor restarts us.
func (p *PubSub) Serve(ctx context.Context) error {
	p.mu.Lock()
	// Subscribe with no channels: concrete channels attach as sockets
	// arrive. go-redis requires at least one initial channel, so park on
	// a control channel nobody publishes to.
	p.sub = p.rdb.Subscribe(ctx, channelPrefix+"control")
	sub := p.sub
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		_ = sub.Close()
		p.sub = nil
		p.mu.Unlock()
	}()

	// Re-attach channels for events that already have sockets, for the
	// restart-after-crash path.
	for _, eventID := range p.hub.LocalEventIDs() {
		if err := sub.Subscribe(ctx, channelFor(eventID)); err != nil {
			return fmt.Errorf("pub/sub resubscribe: %w", err)
		}
	}

	ch := sub.Channel(redis.WithChannelSize(512))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("pub/sub channel closed")
			}
			p.dispatch(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (p *PubSub) dispatch(channel string, payload []byte) {
	eventID, err := strconv.ParseInt(strings.TrimPrefix(channel, channelPrefix), 10, 64)
	if err != nil {
		return
	}

	var wire wireEnvelope
	if err := json.Unmarshal(payload, &wire); err != nil {
		metrics.PubSubDropped.Inc()
		logging.Err(err).Str("channel", channel).Msg("malformed pub/sub frame")
		return
	}
	if wire.Origin == p.instance {
		return
	}
	metrics.PubSubReceived.Inc()
	p.hub.DeliverLocal(wire.Payload, wire.Roles, eventID)
}

// String implements fmt.Stringer for supervisor logs.
func (p *PubSub) String() string {
	return "pubsub-listener"
}
