// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package envelope

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Inbound frame type names accepted from clients.
const (
	InChat      = "chat"
	InAsk       = "ask"
	InApprove   = "approve"
	InReject    = "reject"
	InRead      = "read"
	InReturn    = "return_to_moderator"
	InPing      = "ping"
	InPollStart = "poll_start"
	InPollVote  = "poll_vote"
	InPollClose = "poll_close"
)

// ErrBadFrame is returned for frames that do not parse or fail schema
// checks. The gateway answers these with an error envelope, never a close.
var ErrBadFrame = errors.New("malformed inbound frame")

// Inbound is the decoded union of every client frame. Which fields are
// meaningful depends on Type; ParseInbound enforces the per-type schema so
// dispatch code can use fields without re-checking presence.
type Inbound struct {
	Type string `json:"type"`

	// chat
	Message string `json:"message"`

	// ask
	Question   string `json:"question"`
	ManualUser string `json:"manual_user"`

	// approve / reject / read / return_to_moderator
	ID *int64 `json:"id"`

	// poll_start: either a catalog launch (PollID) or an ad-hoc start
	// (Question + Options). DurationMinutes is optional for both.
	PollID          *int64   `json:"poll_id"`
	Options         []string `json:"options"`
	DurationMinutes *int     `json:"duration_minutes"`

	// poll_vote
	OptionIndex *int `json:"option_index"`
}

// ParseInbound decodes and schema-checks one client frame. Unknown types
// and missing mandatory fields are rejected; extra fields are ignored.
func ParseInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}

	switch in.Type {
	case InChat:
		if strings.TrimSpace(in.Message) == "" {
			return Inbound{}, fmt.Errorf("%w: chat requires message", ErrBadFrame)
		}
	case InAsk:
		if strings.TrimSpace(in.Question) == "" {
			return Inbound{}, fmt.Errorf("%w: ask requires question", ErrBadFrame)
		}
	case InApprove, InReject, InRead, InReturn:
		if in.ID == nil {
			return Inbound{}, fmt.Errorf("%w: %s requires id", ErrBadFrame, in.Type)
		}
	case InPing, InPollClose:
		// No fields.
	case InPollStart:
		adhoc := strings.TrimSpace(in.Question) != "" && len(in.Options) >= 2
		if in.PollID == nil && !adhoc {
			return Inbound{}, fmt.Errorf("%w: poll_start requires poll_id or question with at least two options", ErrBadFrame)
		}
	case InPollVote:
		if in.OptionIndex == nil {
			return Inbound{}, fmt.Errorf("%w: poll_vote requires option_index", ErrBadFrame)
		}
	case "":
		return Inbound{}, fmt.Errorf("%w: missing type", ErrBadFrame)
	default:
		return Inbound{}, fmt.Errorf("%w: unknown type %q", ErrBadFrame, in.Type)
	}

	return in, nil
}
