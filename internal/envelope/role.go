// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package envelope

import "fmt"

// Role is the capability a socket is bound to for its whole lifetime.
// It is resolved once at socket open and never re-derived from strings
// afterwards; dispatchers switch on it directly.
type Role string

const (
	RoleViewer    Role = "viewer"
	RoleModerator Role = "moderator"
	RoleSpeaker   Role = "speaker"
	RoleReports   Role = "reports"
)

// AllRoles lists every socket role in a stable order. Fan-out without an
// explicit role filter targets all of these.
var AllRoles = []Role{RoleViewer, RoleModerator, RoleSpeaker, RoleReports}

// ParseRole converts a query-string role into a Role. An empty string
// defaults to viewer, matching the original open-path behavior.
func ParseRole(s string) (Role, error) {
	switch s {
	case "", "viewer":
		return RoleViewer, nil
	case "moderator":
		return RoleModerator, nil
	case "speaker":
		return RoleSpeaker, nil
	case "reports":
		return RoleReports, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// GlobalRole is the account-level role stored on the user row. Socket
// capability is derived from it together with the per-event staff relation.
type GlobalRole string

const (
	GlobalViewer     GlobalRole = "viewer"
	GlobalModerator  GlobalRole = "moderator"
	GlobalSpeaker    GlobalRole = "speaker"
	GlobalAdmin      GlobalRole = "admin"
	GlobalSuperadmin GlobalRole = "superadmin"
)

// StaffRole is the per-event authority from the event_staff relation.
type StaffRole string

const (
	StaffAdmin     StaffRole = "admin"
	StaffModerator StaffRole = "moderator"
	StaffSpeaker   StaffRole = "speaker"
)
