// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package api

import (
	"net/http"
	"time"
)

// handleListQuestions returns the moderation pipeline grouped by state,
// with timestamps rendered in the event's timezone.
func (a *API) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	eventID, _ := eventIDParam(r)

	ev, err := a.store.GetEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	loc, err := time.LoadLocation(ev.Timezone)
	if err != nil {
		loc = time.UTC
	}

	listing, err := a.questions.List(r.Context(), eventID, loc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}
