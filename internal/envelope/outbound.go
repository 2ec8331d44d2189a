// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package envelope

// Outbound envelope type names. Every frame written to a socket is a JSON
// object whose "type" field carries one of these values.
const (
	TypeChat             = "chat"
	TypePendingQuestion  = "pending_question"
	TypeApprovedQuestion = "approved_question"
	TypeQuestionRead     = "question_read"
	TypeQuestionRemoved  = "question_removed"
	TypeRejectedQuestion = "rejected_question"
	TypePollStart        = "poll_start"
	TypePollUpdate       = "poll_update_results"
	TypePollEnd          = "poll_end"
	TypeActiveSessions   = "active_sessions"
	TypeReportsMetrics   = "reports_metrics"
	TypeReportsCharts    = "reports_charts"
	TypeEventClosed      = "event_closed"
	TypeForceLogout      = "force_logout"
	TypeError            = "error"
)

// Chat is the fan-out frame for an accepted chat message.
type Chat struct {
	Type      string `json:"type"`
	User      string `json:"user"`
	UserID    int64  `json:"user_id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewChat builds a chat frame. Timestamp is HH:MM in the event timezone.
func NewChat(user string, userID int64, message, timestamp string) Chat {
	return Chat{Type: TypeChat, User: user, UserID: userID, Message: message, Timestamp: timestamp}
}

// QuestionFrame is shared by pending_question, approved_question and
// question_read: the full question payload plus its display author.
type QuestionFrame struct {
	Type      string `json:"type"`
	ID        int64  `json:"id"`
	User      string `json:"user"`
	Question  string `json:"question"`
	Timestamp string `json:"timestamp"`
}

// QuestionRef carries only a question id (question_removed, rejected_question).
type QuestionRef struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// PollDescriptor is the live poll as clients need to render it.
type PollDescriptor struct {
	PollID    int64    `json:"poll_id"`
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	CloseAt   string   `json:"close_at,omitempty"`
	CreatedAt string   `json:"created_at"`
}

// PollStart announces a freshly launched (or, on reconnect, the current)
// live poll to a socket.
type PollStart struct {
	Type string         `json:"type"`
	Poll PollDescriptor `json:"poll"`
}

// PollUpdate carries live tallies after an accepted vote.
type PollUpdate struct {
	Type       string           `json:"type"`
	PollID     int64            `json:"poll_id"`
	Results    map[string]int64 `json:"results"`
	TotalVotes int64            `json:"total_votes"`
}

// PollEnd carries the final tallies after close.
type PollEnd struct {
	Type         string `json:"type"`
	FinalResults struct {
		PollID     int64            `json:"poll_id"`
		Question   string           `json:"question"`
		Options    []string         `json:"options"`
		Results    map[string]int64 `json:"results"`
		TotalVotes int64            `json:"total_votes"`
	} `json:"final_results"`
}

// SessionRow is one live (or historical) audience member in the
// active_sessions frame.
type SessionRow struct {
	UserID         int64  `json:"user_id"`
	UserName       string `json:"user_name"`
	StartTime      string `json:"start_time,omitempty"`
	LastPing       string `json:"last_ping,omitempty"`
	SessionMinutes int64  `json:"session_minutes"`
	ChatBlocked    bool   `json:"chat_blocked"`
	QABlocked      bool   `json:"qa_blocked"`
	Banned         bool   `json:"banned"`
}

// ActiveSessions lists the event's audience for staff dashboards.
type ActiveSessions struct {
	Type     string       `json:"type"`
	Sessions []SessionRow `json:"sessions"`
}

// ReportsMetrics is the headline counters frame for the reports view.
type ReportsMetrics struct {
	Type                 string `json:"type"`
	TotalRegisteredUsers int64  `json:"total_registered_users"`
	LiveWatchersCount    int64  `json:"live_watchers_count"`
	TotalMinutesConsumed int64  `json:"total_minutes_consumed"`
}

// ChartSeries is a labeled series bundle: one label per bucket, one or more
// named series aligned to those labels.
type ChartSeries struct {
	Labels []string           `json:"labels"`
	Series map[string][]int64 `json:"series"`
}

// ReportsCharts is the engagement chart bundle for the reports view.
type ReportsCharts struct {
	Type               string      `json:"type"`
	ActiveParticipants ChartSeries `json:"active_participants"`
	Engagement         ChartSeries `json:"engagement"`
	QuestionStatus     ChartSeries `json:"question_status"`
	Retention          ChartSeries `json:"retention"`
}

// EventClosed is written to every socket of an event before it is kicked.
type EventClosed struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ForceLogout tells clients of a user that their sessions were revoked.
type ForceLogout struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

// Error is a sender-only validation or state error. Never broadcast.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds an error envelope for the offending socket.
func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}
