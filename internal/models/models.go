// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Package models defines the persistent entities of the platform.
package models

import (
	"time"

	"github.com/tomtom215/livehall/internal/envelope"
)

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventClosed    EventStatus = "closed"
)

// RegistrationMode governs who may register for an event.
type RegistrationMode string

const (
	RegistrationOpen       RegistrationMode = "open"
	RegistrationRestricted RegistrationMode = "restricted"
)

// RestrictedType selects which gate a restricted event applies to
// registrant emails.
type RestrictedType string

const (
	RestrictedDomain    RestrictedType = "domain"
	RestrictedWhitelist RestrictedType = "whitelist"
	RestrictedBoth      RestrictedType = "both"
)

// Event is a scheduled broadcast session with an audience and staff.
type Event struct {
	ID       int64
	Slug     string
	Title    string
	VideoURL string
	Status   EventStatus

	// RegistrationMode is empty on legacy rows that predate the mode
	// column; registration checks refuse to guess for those.
	RegistrationMode RegistrationMode

	// RestrictedType and AllowedDomains only matter when the mode is
	// restricted. AllowedDomains is a comma-separated domain list; a
	// blank RestrictedType defaults to domain gating.
	RestrictedType RestrictedType
	AllowedDomains string

	RegistrationOpenAt  *time.Time
	RegistrationCloseAt *time.Time
	AccessOpenAt        *time.Time
	Capacity            *int

	Timezone string

	// RegistrationSchema is the ordered field-descriptor JSON for the
	// registration form; the core carries it opaquely.
	RegistrationSchema         []byte
	RegistrationSuccessMessage string

	IsDeleted bool
	CreatedAt time.Time
}

// User is an account: a platform-wide staff member or a per-event viewer.
type User struct {
	ID          int64
	Name        string
	Email       string
	GlobalRole  envelope.GlobalRole
	EventID     *int64 // set for per-event viewer accounts
	ChatBlocked bool
	QABlocked   bool
	Banned      bool
	CreatedAt   time.Time
}

// EventStaff maps (user, event) to per-event authority. This relation,
// not the user row, is authoritative for staff capability on an event.
type EventStaff struct {
	UserID  int64
	EventID int64
	Role    envelope.StaffRole
}

// SessionRecord is the principal payload stored behind an opaque token.
type SessionRecord struct {
	UserID         int64               `json:"user_id"`
	DisplayName    string              `json:"display_name"`
	GlobalRole     envelope.GlobalRole `json:"global_role"`
	CurrentEventID int64               `json:"current_event_id,omitempty"`
}

// QuestionStatus is the Q&A pipeline state.
type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "pending"
	QuestionApproved QuestionStatus = "approved"
	QuestionRead     QuestionStatus = "read"
)

// Question is one audience question moving through the pipeline.
// Rejected questions are deleted, not stored in a terminal state.
type Question struct {
	ID           int64
	EventID      int64
	AuthorUserID int64
	// ManualAuthorName overrides the author's display name on every
	// outbound frame (questions imported from external channels).
	ManualAuthorName string
	Text             string
	Status           QuestionStatus
	CreatedAt        time.Time
}

// PollStatus is the poll catalog state.
type PollStatus string

const (
	PollDraft     PollStatus = "draft"
	PollPublished PollStatus = "published"
	PollClosed    PollStatus = "closed"
)

// Poll is a catalog entry; the live tallies live in the hot store while
// the poll is running.
type Poll struct {
	ID        int64
	EventID   int64
	Question  string
	Options   []string
	Status    PollStatus
	CloseAt   *time.Time
	CreatedAt time.Time
}

// PollResult is one durable per-option tally row written at close.
type PollResult struct {
	PollID      int64
	OptionIndex int
	Votes       int64
}

// ChatMessage is one durable chat history row.
type ChatMessage struct {
	ID        int64
	EventID   int64
	UserID    int64
	Message   string
	CreatedAt time.Time
}

// SessionAnalytics is the durable participation row per (event, user).
type SessionAnalytics struct {
	UserID       int64
	EventID      int64
	UserName     string
	StartTime    time.Time
	LastPing     time.Time
	TotalMinutes int64
	ChatBlocked  bool
	QABlocked    bool
	Banned       bool
}
