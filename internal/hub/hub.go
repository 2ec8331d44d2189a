// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Package hub maintains the live socket registries and fans envelopes
// out to them. Sockets register with a fixed (role, event) binding;
// broadcasts filter on both. With pub/sub attached, event-scoped
// envelopes also cross instance boundaries.
package hub

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/livehall/internal/envelope"
	"github.com/tomtom215/livehall/internal/logging"
	"github.com/tomtom215/livehall/internal/metrics"
)

// frame is one serialized envelope with its delivery filter.
type frame struct {
	payload []byte
	roles   []envelope.Role
	eventID int64
}

// Publisher forwards event-scoped envelopes to the other instances.
type Publisher interface {
	Publish(eventID int64, payload []byte, roles []envelope.Role)
}

// Hub is the fan-out core. It satisfies envelope.Broadcaster.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	broadcast  chan frame
	Register   chan *Client
	Unregister chan *Client

	pub Publisher

	// perEvent tracks socket counts so pub/sub subscriptions follow the
	// first-socket/last-socket lifecycle.
	perEvent   map[int64]int
	subscriber Subscriber
}

// Subscriber manages the per-event pub/sub channel lifecycle.
type Subscriber interface {
	SubscribeEvent(eventID int64)
	UnsubscribeEvent(eventID int64)
}

// New creates a hub without cross-instance delivery.
func New() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan frame, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		perEvent:   make(map[int64]int),
	}
}

// AttachPubSub wires the cross-instance backbone. Must be called before
// Serve starts.
func (h *Hub) AttachPubSub(pub Publisher, sub Subscriber) {
	h.pub = pub
	h.subscriber = sub
}

// Serve runs the registry loop until the context is cancelled. Client
// lifecycle events take priority over broadcasts so registry state is
// settled before a frame fans out.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.add(client)
			continue
		case client := <-h.Unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case f := <-h.broadcast:
			h.deliver(f)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	first := false
	if c.EventID != 0 {
		h.perEvent[c.EventID]++
		first = h.perEvent[c.EventID] == 1
	}
	h.mu.Unlock()

	metrics.WSConnections.WithLabelValues(string(c.Role)).Inc()
	if first && h.subscriber != nil {
		h.subscriber.SubscribeEvent(c.EventID)
	}
	logging.Info().
		Int64("event_id", c.EventID).
		Str("role", string(c.Role)).
		Int("total_clients", total).
		Msg("socket registered")
}

// dropLocked removes one registered client and settles every piece of
// bookkeeping tied to it: send channel, connection gauge and the
// per-event count. The caller holds h.mu. Returns true when the
// client's event just lost its last local socket, so the caller can
// unsubscribe its channel outside the lock.
func (h *Hub) dropLocked(c *Client) (last bool) {
	delete(h.clients, c)
	close(c.send)
	metrics.WSConnections.WithLabelValues(string(c.Role)).Dec()
	if c.EventID != 0 {
		h.perEvent[c.EventID]--
		if h.perEvent[c.EventID] <= 0 {
			delete(h.perEvent, c.EventID)
			last = true
		}
	}
	return last
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	var last bool
	if ok {
		last = h.dropLocked(c)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if last && h.subscriber != nil {
		h.subscriber.UnsubscribeEvent(c.EventID)
	}
	logging.Info().
		Int64("event_id", c.EventID).
		Str("role", string(c.Role)).
		Int("total_clients", total).
		Msg("socket unregistered")
}

// Broadcast implements envelope.Broadcaster: serialize once, publish to
// the other instances when event-scoped, queue the local fan-out. The
// queue never blocks a caller; overload drops the frame with a metric.
func (h *Hub) Broadcast(payload any, roles []envelope.Role, eventID int64) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Err(err).Msg("broadcast payload marshal failed")
		return
	}
	if h.pub != nil && eventID != 0 {
		h.pub.Publish(eventID, data, roles)
	}
	h.enqueueLocal(frame{payload: data, roles: roles, eventID: eventID})
}

// DeliverLocal fans a pre-serialized envelope out to local sockets only.
// The pub/sub listener uses this for frames that arrived from another
// instance; publishing them again would loop forever.
func (h *Hub) DeliverLocal(payload []byte, roles []envelope.Role, eventID int64) {
	h.enqueueLocal(frame{payload: payload, roles: roles, eventID: eventID})
}

func (h *Hub) enqueueLocal(f frame) {
	select {
	case h.broadcast <- f:
	default:
		metrics.BroadcastDrops.Inc()
		logging.Warn().Int64("event_id", f.eventID).Msg("broadcast queue full, dropping frame")
	}
}

func matches(c *Client, f frame) bool {
	if f.eventID != 0 && c.EventID != f.eventID {
		return false
	}
	if f.roles == nil {
		return true
	}
	for _, r := range f.roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

// deliver writes the frame to every matching socket in registration-id
// order. A socket whose send buffer is full is dropped from the
// registry; a reader that slow is better off reconnecting.
func (h *Hub) deliver(f frame) {
	h.mu.Lock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if matches(c, f) {
			clients = append(clients, c)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var lostEvents []int64
	for _, c := range clients {
		select {
		case c.send <- f.payload:
		default:
			if h.dropLocked(c) {
				lostEvents = append(lostEvents, c.EventID)
			}
			logging.Warn().
				Int64("event_id", c.EventID).
				Str("role", string(c.Role)).
				Msg("slow socket dropped during fan-out")
		}
	}
	h.mu.Unlock()

	if h.subscriber != nil {
		for _, eventID := range lostEvents {
			h.subscriber.UnsubscribeEvent(eventID)
		}
	}
	metrics.BroadcastsTotal.WithLabelValues(frameType(f.payload)).Inc()
}

func frameType(payload []byte) string {
	var t struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &t); err != nil || t.Type == "" {
		return "unknown"
	}
	return t.Type
}

// KickAll writes a closing envelope to every socket of the event and
// then drops them. Used when an event transitions to closed.
func (h *Hub) KickAll(eventID int64, message string) {
	payload, err := json.Marshal(envelope.EventClosed{Type: envelope.TypeEventClosed, Message: message})
	if err != nil {
		return
	}

	h.mu.Lock()
	var kicked []*Client
	for c := range h.clients {
		if c.EventID == eventID {
			kicked = append(kicked, c)
		}
	}
	sort.Slice(kicked, func(i, j int) bool { return kicked[i].id < kicked[j].id })
	var lost bool
	for _, c := range kicked {
		select {
		case c.send <- payload:
		default:
		}
		if h.dropLocked(c) {
			lost = true
		}
	}
	h.mu.Unlock()

	if lost && h.subscriber != nil {
		h.subscriber.UnsubscribeEvent(eventID)
	}
	logging.Info().Int64("event_id", eventID).Int("kicked", len(kicked)).Msg("event sockets kicked")
}

// LocalEventIDs lists events with at least one socket on this instance.
// The snapshot publisher only computes views someone is watching.
func (h *Hub) LocalEventIDs() []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]int64, 0, len(h.perEvent))
	for id := range h.perEvent {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ClientCount reports the registry size.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	n := len(h.clients)
	clients := make([]*Client, 0, n)
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, c := range clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.perEvent = make(map[int64]int)
	h.mu.Unlock()

	logging.Info().Str("component", "socket-hub").Int("clients_closed", n).Msg("socket hub stopped")
}

// String implements fmt.Stringer for supervisor logs.
func (h *Hub) String() string {
	return fmt.Sprintf("socket-hub(%d clients)", h.ClientCount())
}
