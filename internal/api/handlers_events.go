// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/livehall/internal/database"
	"github.com/tomtom215/livehall/internal/envelope"
	"github.com/tomtom215/livehall/internal/events"
	"github.com/tomtom215/livehall/internal/logging"
	"github.com/tomtom215/livehall/internal/models"
)

func userIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	return id, err == nil && id > 0
}

type createEventRequest struct {
	Slug              string     `json:"slug"`
	Title             string     `json:"title"`
	VideoURL          string     `json:"video_url"`
	Timezone          string     `json:"timezone"`
	RegistrationMode  string     `json:"registration_mode"`
	RestrictedType    string     `json:"restricted_type,omitempty"`
	AllowedDomains    string     `json:"allowed_domains,omitempty"`
	RegistrationOpen  *time.Time `json:"registration_open_at,omitempty"`
	RegistrationClose *time.Time `json:"registration_close_at,omitempty"`
	Capacity          *int       `json:"capacity,omitempty"`
}

func (a *API) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Slug = strings.TrimSpace(strings.ToLower(req.Slug))
	req.Title = strings.TrimSpace(req.Title)
	if req.Slug == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "slug and title are required")
		return
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			writeError(w, http.StatusBadRequest, "unknown timezone")
			return
		}
	}
	mode := models.RegistrationMode(req.RegistrationMode)
	if mode != models.RegistrationOpen && mode != models.RegistrationRestricted {
		writeError(w, http.StatusBadRequest, "registration_mode must be open or restricted")
		return
	}
	rt := models.RestrictedType(req.RestrictedType)
	switch rt {
	case "", models.RestrictedDomain, models.RestrictedWhitelist, models.RestrictedBoth:
	default:
		writeError(w, http.StatusBadRequest, "restricted_type must be domain, whitelist or both")
		return
	}

	id, err := a.events.Create(r.Context(), &models.Event{
		Slug:                req.Slug,
		Title:               req.Title,
		VideoURL:            req.VideoURL,
		Timezone:            req.Timezone,
		RegistrationMode:    mode,
		RestrictedType:      rt,
		AllowedDomains:      strings.TrimSpace(req.AllowedDomains),
		RegistrationOpenAt:  req.RegistrationOpen,
		RegistrationCloseAt: req.RegistrationClose,
		Capacity:            req.Capacity,
	})
	if err != nil {
		if errors.Is(err, events.ErrSlugTaken) {
			writeError(w, http.StatusConflict, "slug already in use")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (a *API) handleSetEventStatus(w http.ResponseWriter, r *http.Request) {
	eventID, _ := eventIDParam(r)
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	err := a.events.SetStatus(r.Context(), eventID, models.EventStatus(req.Status))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case errors.Is(err, events.ErrBadTransition):
		writeError(w, http.StatusConflict, "illegal status transition")
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type sessionView struct {
	UserID       int64     `json:"user_id"`
	UserName     string    `json:"user_name"`
	StartTime    time.Time `json:"start_time"`
	LastPing     time.Time `json:"last_ping"`
	TotalMinutes int64     `json:"total_minutes"`
	ChatBlocked  bool      `json:"chat_blocked"`
	QABlocked    bool      `json:"qa_blocked"`
	Banned       bool      `json:"banned"`
}

// handleListSessions returns every participant that ever joined the
// event, not only the currently live ones; the dashboard filters.
func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	eventID, _ := eventIDParam(r)
	rows, err := a.store.AllParticipants(r.Context(), eventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]sessionView, 0, len(rows))
	for _, s := range rows {
		out = append(out, sessionView{
			UserID:       s.UserID,
			UserName:     s.UserName,
			StartTime:    s.StartTime,
			LastPing:     s.LastPing,
			TotalMinutes: s.TotalMinutes,
			ChatBlocked:  s.ChatBlocked,
			QABlocked:    s.QABlocked,
			Banned:       s.Banned,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleForceLogout revokes every session of a user and tells their
// open sockets to leave. The durable last-seen is pushed back so the
// user drops out of the live count immediately instead of lingering
// for the presence window.
func (a *API) handleForceLogout(w http.ResponseWriter, r *http.Request) {
	eventID, _ := eventIDParam(r)
	userID, ok := userIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	revoked, err := a.sessions.DeleteByUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.presence.MarkInactive(r.Context(), eventID, userID)
	if err := a.store.ForceLastSeenBack(r.Context(), eventID, userID); err != nil {
		logging.Err(err).Int64("user_id", userID).Msg("force logout last-seen update failed")
	}

	a.hub.Broadcast(envelope.ForceLogout{
		Type:   envelope.TypeForceLogout,
		UserID: userID,
	}, nil, eventID)

	if a.snapshots != nil {
		a.snapshots.Trigger(eventID)
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": revoked})
}

// handleSetUserFlag toggles one moderation flag. The store whitelists
// the flag name; anything else is a client error.
func (a *API) handleSetUserFlag(w http.ResponseWriter, r *http.Request) {
	eventID, _ := eventIDParam(r)
	userID, ok := userIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req struct {
		Flag  string `json:"flag"`
		Value bool   `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if err := a.store.SetUserFlag(r.Context(), userID, req.Flag, req.Value); err != nil {
		if errors.Is(err, database.ErrUnknownFlag) {
			writeError(w, http.StatusBadRequest, "unknown flag")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if a.snapshots != nil {
		a.snapshots.Trigger(eventID)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
