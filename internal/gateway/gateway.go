// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Package gateway admits websockets and dispatches their inbound
// frames. Admission resolves the socket's role once from the session
// plus the staff relation; the session and the permission flags are
// re-read on every frame so revocations and moderation edits bite
// without a reconnect.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/livehall/internal/chat"
	"github.com/tomtom215/livehall/internal/database"
	"github.com/tomtom215/livehall/internal/envelope"
	"github.com/tomtom215/livehall/internal/hub"
	"github.com/tomtom215/livehall/internal/logging"
	"github.com/tomtom215/livehall/internal/models"
	"github.com/tomtom215/livehall/internal/msgcheck"
	"github.com/tomtom215/livehall/internal/polls"
	"github.com/tomtom215/livehall/internal/presence"
	"github.com/tomtom215/livehall/internal/questions"
)

// Close codes for admission failures. Clients key their reconnect and
// redirect behavior off these.
const (
	CloseNoSession  = 4001 // missing, expired or unreadable session
	CloseNoEvent    = 4002 // event missing, closed or not open to the principal
	CloseRoleDenied = 4003 // principal lacks the requested role
)

// eventCookieName is the cookie the registration flow sets with the
// viewer's current event; the socket falls back to it when neither the
// query string nor the session names an event.
const eventCookieName = "current_event_id"

// User-facing strings for in-band rejections.
const (
	msgEventClosed = "Esta transmisión ha finalizado."
	msgChatBlocked = "Tu acceso al chat ha sido restringido."
	msgQABlocked   = "Tu acceso a preguntas ha sido restringido."
)

// Store is the durable slice the gateway needs for admission and the
// per-message permission recheck.
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserModerationFlags(ctx context.Context, id int64) (database.UserModerationFlags, error)
	GetStaffRole(ctx context.Context, userID, eventID int64) (envelope.StaffRole, bool, error)
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
}

// SnapshotTrigger requests an out-of-cycle derived-view publish.
type SnapshotTrigger interface {
	Trigger(eventID int64)
}

// Sessions resolves opaque tokens. Satisfied by *session.Store.
type Sessions interface {
	Get(ctx context.Context, token string) *models.SessionRecord
}

// Gateway owns socket admission and inbound dispatch.
type Gateway struct {
	store      Store
	sessions   Sessions
	presence   *presence.Tracker
	checker    *msgcheck.Checker
	chat       *chat.Service
	questions  *questions.Service
	polls      *polls.Service
	hub        *hub.Hub
	snapshots  SnapshotTrigger
	cookieName string

	upgrader websocket.Upgrader
}

// New wires the gateway.
func New(store Store, sessions Sessions, tracker *presence.Tracker, checker *msgcheck.Checker,
	chatSvc *chat.Service, questionSvc *questions.Service, pollSvc *polls.Service,
	h *hub.Hub, snapshots SnapshotTrigger, cookieName string) *Gateway {
	return &Gateway{
		store:      store,
		sessions:   sessions,
		presence:   tracker,
		checker:    checker,
		chat:       chatSvc,
		questions:  questionSvc,
		polls:      pollSvc,
		hub:        h,
		snapshots:  snapshots,
		cookieName: cookieName,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin enforcement happens in the CORS layer; the socket
			// is useless without a valid session cookie anyway.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// principal is the resolved identity a socket runs under. The token is
// kept so the session can be re-validated on every inbound frame.
type principal struct {
	token       string
	userID      int64
	displayName string
	role        envelope.Role
	eventID     int64
	loc         *time.Location
}

// ServeWS upgrades and admits one socket. Admission failures close the
// socket with a 4xxx code immediately after the upgrade; the HTTP
// handshake itself always succeeds so the client can read the code.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	p, code, reason := g.admit(r)
	if p == nil {
		closeWith(conn, code, reason)
		return
	}

	client := hub.NewClient(g.hub, conn, p.role, p.eventID, p.userID)
	client.Start(g.makeDispatch(p), func(*hub.Client) {
		if p.role == envelope.RoleViewer {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			g.presence.MarkInactive(ctx, p.eventID, p.userID)
		}
	})

	ctx := r.Context()
	if p.role == envelope.RoleViewer {
		g.presence.EnsureDurableSession(ctx, p.eventID, p.userID)
		if err := g.presence.MarkLive(ctx, p.eventID, p.userID); err != nil {
			logging.Err(err).Int64("user_id", p.userID).Msg("initial presence mark failed")
		}
	}

	g.bootstrap(ctx, client, p)
	if g.snapshots != nil {
		g.snapshots.Trigger(p.eventID)
	}
}

// admit resolves the socket's principal or the close code refusing it.
func (g *Gateway) admit(r *http.Request) (*principal, int, string) {
	cookie, err := r.Cookie(g.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, CloseNoSession, "session required"
	}
	rec := g.sessions.Get(r.Context(), cookie.Value)
	if rec == nil {
		return nil, CloseNoSession, "session expired"
	}

	role, err := envelope.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		return nil, CloseRoleDenied, "unknown role"
	}

	// Event resolution order: query param, then the session's bound
	// event, then the event cookie set at registration.
	eventID, _ := strconv.ParseInt(r.URL.Query().Get("event_id"), 10, 64)
	if eventID == 0 && rec.CurrentEventID != 0 {
		eventID = rec.CurrentEventID
	}
	if eventID == 0 {
		if ec, err := r.Cookie(eventCookieName); err == nil {
			eventID, _ = strconv.ParseInt(ec.Value, 10, 64)
		}
	}
	if eventID == 0 {
		// Every socket is event-scoped; a session without an event
		// binding has nothing to watch.
		return nil, CloseNoEvent, "event required"
	}

	ctx := r.Context()
	event, err := g.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, CloseNoEvent, "event unavailable"
	}

	user, err := g.store.GetUser(ctx, rec.UserID)
	if err != nil {
		return nil, CloseNoSession, "unknown user"
	}
	if user.Banned {
		return nil, CloseRoleDenied, "access revoked"
	}

	allowed, err := g.authorize(ctx, user, role, eventID)
	if err != nil {
		return nil, CloseRoleDenied, "authorization unavailable"
	}
	if !allowed {
		return nil, CloseRoleDenied, "role denied"
	}

	// Viewers only get sockets on published events; staff may connect
	// to drafts for rehearsal, but nobody joins a closed event.
	if event.Status == models.EventClosed {
		return nil, CloseNoEvent, msgEventClosed
	}
	if role == envelope.RoleViewer && event.Status != models.EventPublished {
		return nil, CloseNoEvent, "event not open"
	}

	loc := time.UTC
	if event.Timezone != "" {
		if l, err := time.LoadLocation(event.Timezone); err == nil {
			loc = l
		}
	}

	name := user.Name
	if name == "" {
		name = rec.DisplayName
	}
	if name == "" {
		name = "Visitante"
	}

	return &principal{
		token:       cookie.Value,
		userID:      user.ID,
		displayName: name,
		role:        role,
		eventID:     eventID,
		loc:         loc,
	}, 0, ""
}

// authorize applies the role precedence: superadmin first, then the
// per-event staff relation, then the per-event viewer binding.
func (g *Gateway) authorize(ctx context.Context, user *models.User, role envelope.Role, eventID int64) (bool, error) {
	if user.GlobalRole == envelope.GlobalSuperadmin {
		return true, nil
	}

	staffRole, isStaff, err := g.store.GetStaffRole(ctx, user.ID, eventID)
	if err != nil {
		return false, err
	}

	switch role {
	case envelope.RoleModerator:
		return isStaff && (staffRole == envelope.StaffAdmin || staffRole == envelope.StaffModerator), nil
	case envelope.RoleSpeaker:
		return isStaff && (staffRole == envelope.StaffAdmin || staffRole == envelope.StaffSpeaker), nil
	case envelope.RoleReports:
		return isStaff && staffRole == envelope.StaffAdmin, nil
	case envelope.RoleViewer:
		// Any authenticated principal may watch; the event's own status
		// gate decides whether there is anything to join.
		return true, nil
	default:
		return false, nil
	}
}

// bootstrap primes a fresh socket: recent chat backlog for everyone,
// plus the live poll when one is running.
func (g *Gateway) bootstrap(ctx context.Context, client *hub.Client, p *principal) {
	frames, err := g.chat.Recent(ctx, p.eventID, p.loc)
	if err != nil {
		logging.Err(err).Int64("event_id", p.eventID).Msg("chat bootstrap failed")
	}
	for _, f := range frames {
		if payload, err := json.Marshal(f); err == nil {
			client.Send(payload)
		}
	}

	if start := g.polls.Current(ctx, p.eventID); start != nil {
		if payload, err := json.Marshal(start); err == nil {
			client.Send(payload)
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}
