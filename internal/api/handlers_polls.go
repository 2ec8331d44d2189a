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
	"github.com/tomtom215/livehall/internal/models"
	"github.com/tomtom215/livehall/internal/polls"
)

const maxPollOptions = 10

type pollPayload struct {
	Question        string   `json:"question"`
	Options         []string `json:"options"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
}

type pollView struct {
	ID       int64      `json:"id"`
	Question string     `json:"question"`
	Options  []string   `json:"options"`
	Status   string     `json:"status"`
	CloseAt  *time.Time `json:"close_at,omitempty"`
}

func pollIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "pollID"), 10, 64)
	return id, err == nil && id > 0
}

func validatePollContent(p *pollPayload) string {
	p.Question = strings.TrimSpace(p.Question)
	if p.Question == "" {
		return "question is required"
	}
	if len(p.Options) < 2 || len(p.Options) > maxPollOptions {
		return "polls need between 2 and 10 options"
	}
	for i, opt := range p.Options {
		p.Options[i] = strings.TrimSpace(opt)
		if p.Options[i] == "" {
			return "options cannot be empty"
		}
	}
	return ""
}

// writePollError maps the poll engine's sentinel errors onto HTTP. The
// sentinels carry user-facing text and pass through verbatim; anything
// else is an infrastructure failure and stays opaque.
func writePollError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, polls.ErrPollNotFound), errors.Is(err, polls.ErrNoLivePoll):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, polls.ErrPollLive), errors.Is(err, polls.ErrNotLaunchable),
		errors.Is(err, polls.ErrPollClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) handleListPolls(w http.ResponseWriter, r *http.Request) {
	eventID, _ := eventIDParam(r)
	catalog, err := a.store.ListPolls(r.Context(), eventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]pollView, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, pollView{
			ID:       p.ID,
			Question: p.Question,
			Options:  p.Options,
			Status:   string(p.Status),
			CloseAt:  p.CloseAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	eventID, _ := eventIDParam(r)
	var req pollPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if msg := validatePollContent(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	id, err := a.store.CreatePoll(r.Context(), &models.Poll{
		EventID:  eventID,
		Question: req.Question,
		Options:  req.Options,
		Status:   models.PollDraft,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (a *API) handleUpdatePoll(w http.ResponseWriter, r *http.Request) {
	eventID, _ := eventIDParam(r)
	pollID, ok := pollIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid poll id")
		return
	}
	var req pollPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if msg := validatePollContent(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := a.store.UpdatePollContent(r.Context(), pollID, eventID, req.Question, req.Options); err != nil {
		writePollError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handlePublishPoll(w http.ResponseWriter, r *http.Request) {
	eventID, _ := eventIDParam(r)
	pollID, ok := pollIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid poll id")
		return
	}
	if err := a.store.SetPollStatus(r.Context(), pollID, eventID, models.PollPublished); err != nil {
		writePollError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleLaunchPoll(w http.ResponseWriter, r *http.Request) {
	eventID, _ := eventIDParam(r)
	pollID, ok := pollIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid poll id")
		return
	}
	var req pollPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := a.polls.Launch(r.Context(), eventID, pollID, req.DurationMinutes); err != nil {
		writePollError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleAdhocPoll(w http.ResponseWriter, r *http.Request) {
	eventID, _ := eventIDParam(r)
	var req pollPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if msg := validatePollContent(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := a.polls.StartAdhoc(r.Context(), eventID, req.Question, req.Options, req.DurationMinutes); err != nil {
		writePollError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleClosePoll(w http.ResponseWriter, r *http.Request) {
	eventID, _ := eventIDParam(r)
	if err := a.polls.Close(r.Context(), eventID); err != nil {
		writePollError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handlePollResults(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pollIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid poll id")
		return
	}
	results, err := a.store.GetPollResults(r.Context(), pollID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make(map[string]int64, len(results))
	for _, res := range results {
		out[strconv.Itoa(res.OptionIndex)] = res.Votes
	}
	writeJSON(w, http.StatusOK, out)
}
