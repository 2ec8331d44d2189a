// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package api

import (
	"net/http"

	"github.com/tomtom215/livehall/internal/logging"
)

// handlePing is the audience keepalive. A valid session re-arms its
// sliding TTL and refreshes presence; an expired one gets 401 so the
// frontend can redirect to re-registration.
func (a *API) handlePing(w http.ResponseWriter, r *http.Request) {
	rec := a.resolveSession(r)
	if rec == nil {
		writeError(w, http.StatusUnauthorized, "session_expired")
		return
	}

	if rec.CurrentEventID != 0 {
		// Presence is best effort. A hot-store hiccup must not surface
		// as a failed ping, or clients would tear down healthy sessions.
		if err := a.presence.RecordPing(r.Context(), rec.CurrentEventID, rec.UserID); err != nil {
			logging.Err(err).Int64("user_id", rec.UserID).Msg("ping presence update failed")
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
