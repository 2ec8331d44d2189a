// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/livehall/internal/envelope"
	"github.com/tomtom215/livehall/internal/models"
)

type principalKey struct{}

// resolveSession reads the session cookie and loads the record behind
// it. A hit re-arms the sliding TTL as a side effect.
func (a *API) resolveSession(r *http.Request) *models.SessionRecord {
	cookie, err := r.Cookie(a.cfg.Session.CookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	return a.sessions.Get(r.Context(), cookie.Value)
}

// eventIDParam parses the {eventID} route parameter.
func eventIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "eventID"), 10, 64)
	return id, err == nil && id > 0
}

// requireStaff gates a route on per-event authority. Superadmins pass
// everywhere; otherwise the event_staff relation decides, with
// moderator-tier routes also admitting event admins.
func (a *API) requireStaff(min envelope.StaffRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := a.resolveSession(r)
			if rec == nil {
				writeError(w, http.StatusUnauthorized, "session_expired")
				return
			}
			eventID, ok := eventIDParam(r)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid event id")
				return
			}

			if rec.GlobalRole != envelope.GlobalSuperadmin {
				role, found, err := a.store.GetStaffRole(r.Context(), rec.UserID, eventID)
				if err != nil {
					writeError(w, http.StatusInternalServerError, "internal error")
					return
				}
				if !found || !staffSatisfies(role, min) {
					writeError(w, http.StatusForbidden, "forbidden")
					return
				}
			}

			ctx := context.WithValue(r.Context(), principalKey{}, rec)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// staffSatisfies maps the per-event role onto the route tier. Admin
// covers everything; moderators stop at the moderation tier; speakers
// have no management surface at all.
func staffSatisfies(role, min envelope.StaffRole) bool {
	switch min {
	case envelope.StaffAdmin:
		return role == envelope.StaffAdmin
	case envelope.StaffModerator:
		return role == envelope.StaffAdmin || role == envelope.StaffModerator
	default:
		return false
	}
}

// requireSuperadmin gates platform-level routes.
func (a *API) requireSuperadmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := a.resolveSession(r)
		if rec == nil {
			writeError(w, http.StatusUnauthorized, "session_expired")
			return
		}
		if rec.GlobalRole != envelope.GlobalSuperadmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, rec)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
