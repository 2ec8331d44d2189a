// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/livehall/internal/database"
	"github.com/tomtom215/livehall/internal/envelope"
	"github.com/tomtom215/livehall/internal/hub"
	"github.com/tomtom215/livehall/internal/models"
)

type fakeStore struct {
	staff  map[int64]envelope.StaffRole // userID -> role on event 7
	users  map[int64]*models.User
	events map[int64]*models.Event
}

func (f *fakeStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) GetUserModerationFlags(context.Context, int64) (database.UserModerationFlags, error) {
	return database.UserModerationFlags{}, nil
}

func (f *fakeStore) GetStaffRole(_ context.Context, userID, eventID int64) (envelope.StaffRole, bool, error) {
	if eventID != 7 {
		return "", false, nil
	}
	role, ok := f.staff[userID]
	return role, ok, nil
}

func (f *fakeStore) GetEvent(_ context.Context, id int64) (*models.Event, error) {
	if ev, ok := f.events[id]; ok {
		return ev, nil
	}
	return nil, database.ErrNotFound
}

// fakeSessions is an in-memory token store whose records can be revoked
// while a socket is connected.
type fakeSessions struct {
	mu      sync.Mutex
	records map[string]*models.SessionRecord
}

func (f *fakeSessions) Get(_ context.Context, token string) *models.SessionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[token]
}

func (f *fakeSessions) revoke(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, token)
}

func TestAuthorizeRolePrecedence(t *testing.T) {
	store := &fakeStore{staff: map[int64]envelope.StaffRole{
		10: envelope.StaffAdmin,
		11: envelope.StaffModerator,
		12: envelope.StaffSpeaker,
	}}
	g := &Gateway{store: store}

	eventID := int64(7)
	otherEvent := int64(8)

	tests := []struct {
		name string
		user models.User
		role envelope.Role
		want bool
	}{
		{"superadmin gets any role", models.User{ID: 1, GlobalRole: envelope.GlobalSuperadmin}, envelope.RoleReports, true},
		{"superadmin as moderator", models.User{ID: 1, GlobalRole: envelope.GlobalSuperadmin}, envelope.RoleModerator, true},

		{"staff admin as moderator", models.User{ID: 10}, envelope.RoleModerator, true},
		{"staff admin as speaker", models.User{ID: 10}, envelope.RoleSpeaker, true},
		{"staff admin as reports", models.User{ID: 10}, envelope.RoleReports, true},

		{"staff moderator as moderator", models.User{ID: 11}, envelope.RoleModerator, true},
		{"staff moderator as speaker", models.User{ID: 11}, envelope.RoleSpeaker, false},
		{"staff moderator as reports", models.User{ID: 11}, envelope.RoleReports, false},

		{"staff speaker as speaker", models.User{ID: 12}, envelope.RoleSpeaker, true},
		{"staff speaker as moderator", models.User{ID: 12}, envelope.RoleModerator, false},

		{"staff as viewer", models.User{ID: 11}, envelope.RoleViewer, true},

		// Viewer is open to any authenticated principal; the event's
		// status gate is what decides whether there is anything to see.
		{"plain viewer", models.User{ID: 20}, envelope.RoleViewer, true},
		{"viewer bound elsewhere", models.User{ID: 21, EventID: &otherEvent}, envelope.RoleViewer, true},

		{"global admin without staff row gets nothing", models.User{ID: 30, GlobalRole: envelope.GlobalAdmin}, envelope.RoleModerator, false},
		{"plain user as reports", models.User{ID: 31}, envelope.RoleReports, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.authorize(context.Background(), &tt.user, tt.role, eventID)
			if err != nil {
				t.Fatalf("authorize: %v", err)
			}
			if got != tt.want {
				t.Errorf("authorize(%s) = %v, want %v", tt.role, got, tt.want)
			}
		})
	}
}

func TestAdmitEventIDFallback(t *testing.T) {
	store := &fakeStore{
		users:  map[int64]*models.User{11: {ID: 11, Name: "Marta"}},
		events: map[int64]*models.Event{7: {ID: 7, Status: models.EventPublished, Timezone: "UTC"}},
	}
	sessions := &fakeSessions{records: map[string]*models.SessionRecord{
		"tok":   {UserID: 11},
		"bound": {UserID: 11, CurrentEventID: 7},
	}}
	g := &Gateway{store: store, sessions: sessions, cookieName: "livehall_session"}

	tests := []struct {
		name        string
		target      string
		token       string
		eventCookie string
		wantEvent   int64
		wantCode    int
	}{
		{"query param wins", "/ws?role=viewer&event_id=7", "tok", "", 7, 0},
		{"session fallback", "/ws?role=viewer", "bound", "", 7, 0},
		{"cookie fallback", "/ws?role=viewer", "tok", "7", 7, 0},
		{"query over cookie", "/ws?role=viewer&event_id=7", "tok", "8", 7, 0},
		{"no event anywhere", "/ws?role=viewer", "tok", "", 0, CloseNoEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			r.AddCookie(&http.Cookie{Name: "livehall_session", Value: tt.token})
			if tt.eventCookie != "" {
				r.AddCookie(&http.Cookie{Name: eventCookieName, Value: tt.eventCookie})
			}

			p, code, _ := g.admit(r)
			if tt.wantCode != 0 {
				if p != nil || code != tt.wantCode {
					t.Fatalf("admit = (%+v, %d), want close %d", p, code, tt.wantCode)
				}
				return
			}
			if p == nil {
				t.Fatalf("admit refused with %d, want event %d", code, tt.wantEvent)
			}
			if p.eventID != tt.wantEvent {
				t.Errorf("eventID = %d, want %d", p.eventID, tt.wantEvent)
			}
		})
	}
}

// newSocketPair upgrades one real websocket connection and hands back
// both ends, so dispatch behavior can be observed from the client side.
func newSocketPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverCh <- conn
	}))
	t.Cleanup(srv.Close)

	clientConn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = clientConn.Close() })

	select {
	case conn := <-serverCh:
		return conn, clientConn
	case <-time.After(time.Second):
		t.Fatal("no server-side connection")
		return nil, nil
	}
}

func startTestHub(t *testing.T) *hub.Hub {
	t.Helper()
	h := hub.New()
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
	return h
}

func TestDispatchClosesRevokedSession(t *testing.T) {
	serverConn, clientConn := newSocketPair(t)
	h := startTestHub(t)

	sessions := &fakeSessions{records: map[string]*models.SessionRecord{
		"tok": {UserID: 11, DisplayName: "Marta"},
	}}
	g := &Gateway{store: &fakeStore{}, sessions: sessions}

	p := &principal{token: "tok", userID: 11, role: envelope.RoleModerator, eventID: 7, loc: time.UTC}
	client := hub.NewClient(h, serverConn, p.role, p.eventID, p.userID)
	client.Start(g.makeDispatch(p), nil)

	// With a live session a staff ping is accepted and ignored.
	if err := clientConn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("first frame: %v", err)
	}

	// Revoke, as force_logout does, then send again: the socket must be
	// closed with the session code instead of retaining capabilities.
	sessions.revoke("tok")
	if err := clientConn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("second frame: %v", err)
	}

	if err := clientConn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("read deadline: %v", err)
	}
	for {
		_, _, err := clientConn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("read error = %v, want close frame", err)
		}
		if ce.Code != CloseNoSession || ce.Text != "session_expired" {
			t.Fatalf("close = (%d, %q), want (%d, session_expired)", ce.Code, ce.Text, CloseNoSession)
		}
		return
	}
}

func TestSpeakerOnlyTransitionsRejectModerator(t *testing.T) {
	serverConn, clientConn := newSocketPair(t)
	h := startTestHub(t)

	sessions := &fakeSessions{records: map[string]*models.SessionRecord{
		"tok": {UserID: 11},
	}}
	// questions service left nil: the role guard must refuse before the
	// pipeline is ever touched.
	g := &Gateway{store: &fakeStore{}, sessions: sessions}

	p := &principal{token: "tok", userID: 11, role: envelope.RoleModerator, eventID: 7, loc: time.UTC}
	client := hub.NewClient(h, serverConn, p.role, p.eventID, p.userID)
	client.Start(g.makeDispatch(p), nil)

	if err := clientConn.WriteJSON(map[string]any{"type": "read", "id": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := clientConn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("read deadline: %v", err)
	}
	var frame struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := clientConn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Type != "error" || frame.Message != "Operación no permitida." {
		t.Errorf("frame = %+v, want permission error", frame)
	}
}

func TestPollErrMessage(t *testing.T) {
	if got := pollErrMessage(context.DeadlineExceeded); got != "No se pudo procesar la encuesta." {
		t.Errorf("infra error leaked: %q", got)
	}
}
