// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/livehall/internal/config"
	"github.com/tomtom215/livehall/internal/envelope"
	"github.com/tomtom215/livehall/internal/models"
	"github.com/tomtom215/livehall/internal/presence"
	"github.com/tomtom215/livehall/internal/session"
)

type fakeStore struct {
	staff map[int64]envelope.StaffRole // userID -> role on event 7

	polls       []*models.Poll
	createdPoll *models.Poll
	flags       map[string]bool
}

func (f *fakeStore) GetEvent(_ context.Context, id int64) (*models.Event, error) {
	return &models.Event{ID: id, Timezone: "Europe/Madrid"}, nil
}

func (f *fakeStore) GetStaffRole(_ context.Context, userID, _ int64) (envelope.StaffRole, bool, error) {
	role, ok := f.staff[userID]
	return role, ok, nil
}

func (f *fakeStore) ListPolls(context.Context, int64) ([]*models.Poll, error) {
	return f.polls, nil
}

func (f *fakeStore) CreatePoll(_ context.Context, p *models.Poll) (int64, error) {
	f.createdPoll = p
	return 42, nil
}

func (f *fakeStore) UpdatePollContent(context.Context, int64, int64, string, []string) error {
	return nil
}

func (f *fakeStore) SetPollStatus(context.Context, int64, int64, models.PollStatus) error {
	return nil
}

func (f *fakeStore) GetPollResults(context.Context, int64) ([]models.PollResult, error) {
	return []models.PollResult{{OptionIndex: 0, Votes: 3}, {OptionIndex: 1, Votes: 5}}, nil
}

func (f *fakeStore) AllParticipants(context.Context, int64) ([]models.SessionAnalytics, error) {
	return []models.SessionAnalytics{{UserID: 1, UserName: "Ana", TotalMinutes: 12}}, nil
}

func (f *fakeStore) SetUserFlag(_ context.Context, _ int64, flag string, value bool) error {
	if f.flags == nil {
		f.flags = map[string]bool{}
	}
	f.flags[flag] = value
	return nil
}

func (f *fakeStore) ForceLastSeenBack(context.Context, int64, int64) error { return nil }

type nopWriter struct{}

func (nopWriter) EnsureSession(context.Context, int64, int64) error     { return nil }
func (nopWriter) WritebackPing(context.Context, int64, int64) error     { return nil }
func (nopWriter) ForceLastSeenBack(context.Context, int64, int64) error { return nil }

type nopHub struct{}

func (nopHub) Broadcast(any, []envelope.Role, int64) {}

func newTestAPI(t *testing.T, store *fakeStore) (*API, *session.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Default()
	sessions := session.NewStore(rdb, cfg.Session.TTL)
	tracker := presence.New(rdb, nopWriter{}, cfg.Presence.Window, cfg.Presence.WritebackInterval)

	ws := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	return New(cfg, store, sessions, tracker, nil, nil, nil, nopHub{}, nil, nil, ws), sessions
}

func withSession(t *testing.T, req *http.Request, sessions *session.Store, rec *models.SessionRecord) {
	t.Helper()
	token, err := sessions.Create(context.Background(), rec)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: "session_id", Value: token})
}

func TestPingWithoutSession(t *testing.T) {
	a, _ := newTestAPI(t, &fakeStore{})
	srv := a.Router()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ping", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "session_expired" {
		t.Errorf("error = %q, want session_expired", body["error"])
	}
}

func TestPingWithSession(t *testing.T) {
	a, sessions := newTestAPI(t, &fakeStore{})
	srv := a.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/ping", nil)
	withSession(t, req, sessions, &models.SessionRecord{
		UserID: 9, DisplayName: "Ana", CurrentEventID: 7,
	})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestStaffRouteAuthorization(t *testing.T) {
	store := &fakeStore{staff: map[int64]envelope.StaffRole{
		1: envelope.StaffAdmin,
		2: envelope.StaffModerator,
		3: envelope.StaffSpeaker,
	}}
	a, sessions := newTestAPI(t, store)
	srv := a.Router()

	get := func(rec *models.SessionRecord, path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if rec != nil {
			withSession(t, req, sessions, rec)
		}
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		return w.Code
	}

	if got := get(nil, "/api/staff/events/7/sessions"); got != http.StatusUnauthorized {
		t.Errorf("no session = %d, want 401", got)
	}
	if got := get(&models.SessionRecord{UserID: 2}, "/api/staff/events/7/sessions"); got != http.StatusOK {
		t.Errorf("moderator = %d, want 200", got)
	}
	if got := get(&models.SessionRecord{UserID: 3}, "/api/staff/events/7/sessions"); got != http.StatusForbidden {
		t.Errorf("speaker = %d, want 403", got)
	}
	if got := get(&models.SessionRecord{UserID: 99}, "/api/staff/events/7/sessions"); got != http.StatusForbidden {
		t.Errorf("non-staff = %d, want 403", got)
	}
	if got := get(&models.SessionRecord{UserID: 99, GlobalRole: envelope.GlobalSuperadmin},
		"/api/staff/events/7/sessions"); got != http.StatusOK {
		t.Errorf("superadmin = %d, want 200", got)
	}
}

func TestAdminTierRejectsModerator(t *testing.T) {
	store := &fakeStore{staff: map[int64]envelope.StaffRole{2: envelope.StaffModerator}}
	a, sessions := newTestAPI(t, store)
	srv := a.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/staff/events/7/status",
		strings.NewReader(`{"status":"published"}`))
	withSession(t, req, sessions, &models.SessionRecord{UserID: 2})
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("moderator on admin route = %d, want 403", w.Code)
	}
}

func TestCreatePollValidation(t *testing.T) {
	store := &fakeStore{staff: map[int64]envelope.StaffRole{1: envelope.StaffAdmin}}
	a, sessions := newTestAPI(t, store)
	srv := a.Router()

	post := func(body string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/staff/events/7/polls",
			strings.NewReader(body))
		withSession(t, req, sessions, &models.SessionRecord{UserID: 1})
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		return w.Code
	}

	if got := post(`{"question":"","options":["a","b"]}`); got != http.StatusBadRequest {
		t.Errorf("empty question = %d, want 400", got)
	}
	if got := post(`{"question":"¿Color?","options":["rojo"]}`); got != http.StatusBadRequest {
		t.Errorf("one option = %d, want 400", got)
	}
	if got := post(`{"question":"¿Color?","options":["rojo","azul"]}`); got != http.StatusCreated {
		t.Errorf("valid poll = %d, want 201", got)
	}
	if store.createdPoll == nil || store.createdPoll.Status != models.PollDraft {
		t.Errorf("created poll = %+v, want draft", store.createdPoll)
	}
}

func TestPollResultsShape(t *testing.T) {
	store := &fakeStore{staff: map[int64]envelope.StaffRole{1: envelope.StaffAdmin}}
	a, sessions := newTestAPI(t, store)
	srv := a.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/staff/events/7/polls/3/results", nil)
	withSession(t, req, sessions, &models.SessionRecord{UserID: 1})
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var results map[string]int64
	if err := json.Unmarshal(w.Body.Bytes(), &results); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if results["0"] != 3 || results["1"] != 5 {
		t.Errorf("results = %v", results)
	}
}

func TestPingRateLimit(t *testing.T) {
	a, sessions := newTestAPI(t, &fakeStore{})
	a.cfg.Server.PingRateLimit = 3
	srv := a.Router()

	token, err := sessions.Create(context.Background(), &models.SessionRecord{UserID: 5})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	var last int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/ping", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		req.AddCookie(&http.Cookie{Name: "session_id", Value: token})
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("fifth ping = %d, want 429", last)
	}
}

func TestHealthz(t *testing.T) {
	a, _ := newTestAPI(t, &fakeStore{})
	srv := a.Router()

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", w.Code)
	}
}
