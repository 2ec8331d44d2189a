// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package hub

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/livehall/internal/envelope"
)

// testClient registers a bare client without pumps; frames are read
// straight off the send channel.
func testClient(h *Hub, role envelope.Role, eventID int64) *Client {
	c := NewClient(h, nil, role, eventID, 0)
	h.Register <- c
	return c
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h, cancel
}

func recv(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case payload, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var m map[string]any
		if err := json.Unmarshal(payload, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return m
	case <-time.After(time.Second):
		t.Fatal("no frame within deadline")
		return nil
	}
}

func expectNone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected frame: %s", payload)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastFiltersByRoleAndEvent(t *testing.T) {
	h, _ := startHub(t)

	viewer7 := testClient(h, envelope.RoleViewer, 7)
	mod7 := testClient(h, envelope.RoleModerator, 7)
	viewer8 := testClient(h, envelope.RoleViewer, 8)

	h.Broadcast(envelope.QuestionRef{Type: envelope.TypeRejectedQuestion, ID: 3},
		[]envelope.Role{envelope.RoleModerator}, 7)

	m := recv(t, mod7)
	if m["type"] != "rejected_question" {
		t.Errorf("moderator got %v", m)
	}
	expectNone(t, viewer7)
	expectNone(t, viewer8)
}

func TestBroadcastNilRolesReachesEveryRole(t *testing.T) {
	h, _ := startHub(t)

	viewer := testClient(h, envelope.RoleViewer, 7)
	speaker := testClient(h, envelope.RoleSpeaker, 7)
	reports := testClient(h, envelope.RoleReports, 7)

	h.Broadcast(envelope.NewChat("Ana", 1, "hola", "18:00"), nil, 7)

	for _, c := range []*Client{viewer, speaker, reports} {
		m := recv(t, c)
		if m["type"] != "chat" {
			t.Errorf("got %v, want chat", m)
		}
	}
}

func TestBroadcastZeroEventSkipsNoOne(t *testing.T) {
	h, _ := startHub(t)

	a := testClient(h, envelope.RoleViewer, 7)
	b := testClient(h, envelope.RoleViewer, 8)

	h.Broadcast(envelope.NewError("aviso"), nil, 0)

	if m := recv(t, a); m["type"] != "error" {
		t.Errorf("a got %v", m)
	}
	if m := recv(t, b); m["type"] != "error" {
		t.Errorf("b got %v", m)
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	h, _ := startHub(t)

	slow := NewClient(h, nil, envelope.RoleViewer, 7, 0)
	slow.send = make(chan []byte, 1) // tiny buffer
	h.Register <- slow
	healthy := testClient(h, envelope.RoleViewer, 7)

	// First frame fills the slow client's buffer, second overflows it.
	h.Broadcast(envelope.NewChat("Ana", 1, "uno", "18:00"), nil, 7)
	h.Broadcast(envelope.NewChat("Ana", 1, "dos", "18:01"), nil, 7)

	// Healthy client gets both.
	recv(t, healthy)
	recv(t, healthy)

	deadline := time.After(time.Second)
	for h.ClientCount() != 1 {
		select {
		case <-deadline:
			t.Fatalf("clients = %d, want slow client dropped", h.ClientCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestKickAll(t *testing.T) {
	h, _ := startHub(t)

	v1 := testClient(h, envelope.RoleViewer, 7)
	v2 := testClient(h, envelope.RoleModerator, 7)
	other := testClient(h, envelope.RoleViewer, 8)

	h.KickAll(7, "Esta transmisión ha finalizado.")

	for _, c := range []*Client{v1, v2} {
		m := recv(t, c)
		if m["type"] != "event_closed" {
			t.Errorf("got %v, want event_closed", m)
		}
		if _, ok := <-c.send; ok {
			t.Error("send channel still open after kick")
		}
	}
	expectNone(t, other)
	if h.ClientCount() != 1 {
		t.Errorf("clients = %d, want only the other event's socket", h.ClientCount())
	}
}

func TestLocalEventIDs(t *testing.T) {
	h, _ := startHub(t)

	testClient(h, envelope.RoleViewer, 7)
	testClient(h, envelope.RoleViewer, 7)
	testClient(h, envelope.RoleViewer, 9)

	ids := h.LocalEventIDs()
	if len(ids) != 2 || ids[0] != 7 || ids[1] != 9 {
		t.Errorf("LocalEventIDs = %v, want [7 9]", ids)
	}
}

type fakeSubscriber struct {
	subs   []int64
	unsubs []int64
}

func (f *fakeSubscriber) SubscribeEvent(eventID int64)   { f.subs = append(f.subs, eventID) }
func (f *fakeSubscriber) UnsubscribeEvent(eventID int64) { f.unsubs = append(f.unsubs, eventID) }

func TestSubscriptionFollowsFirstAndLastSocket(t *testing.T) {
	h := New()
	sub := &fakeSubscriber{}
	h.AttachPubSub(nil, sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Serve(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	c1 := testClient(h, envelope.RoleViewer, 7)
	c2 := testClient(h, envelope.RoleViewer, 7)

	h.Unregister <- c1
	h.Unregister <- c2

	// Drain pending registry work with a broadcast round trip.
	drain := testClient(h, envelope.RoleViewer, 99)
	h.Broadcast(envelope.NewError("listo"), nil, 99)
	recv(t, drain)

	if len(sub.subs) < 1 || sub.subs[0] != 7 {
		t.Errorf("subs = %v, want first socket to subscribe event 7", sub.subs)
	}
	if len(sub.unsubs) != 1 || sub.unsubs[0] != 7 {
		t.Errorf("unsubs = %v, want unsubscribe only after last socket", sub.unsubs)
	}
}

func TestSlowDropReleasesEventBookkeeping(t *testing.T) {
	h := New()
	sub := &fakeSubscriber{}
	h.AttachPubSub(nil, sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Serve(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	slow := NewClient(h, nil, envelope.RoleViewer, 7, 0)
	slow.send = make(chan []byte, 1) // tiny buffer
	h.Register <- slow
	keeper := testClient(h, envelope.RoleViewer, 99)

	// First frame fills the slow client's buffer, second overflows it
	// and fan-out drops the registry's only event-7 socket.
	h.Broadcast(envelope.NewChat("Ana", 1, "uno", "18:00"), nil, 7)
	h.Broadcast(envelope.NewChat("Ana", 1, "dos", "18:01"), nil, 7)

	// The read pump still unregisters afterwards; it must be a no-op.
	h.Unregister <- slow

	// Round trip through the registry loop so the drop has settled.
	h.Broadcast(envelope.NewError("listo"), nil, 99)
	recv(t, keeper)

	if ids := h.LocalEventIDs(); len(ids) != 1 || ids[0] != 99 {
		t.Errorf("LocalEventIDs = %v, want only [99] after event 7 lost its socket", ids)
	}
	if len(sub.unsubs) != 1 || sub.unsubs[0] != 7 {
		t.Errorf("unsubs = %v, want event 7 channel released after slow drop", sub.unsubs)
	}
}
