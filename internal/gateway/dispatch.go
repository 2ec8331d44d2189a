// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/livehall/internal/envelope"
	"github.com/tomtom215/livehall/internal/hub"
	"github.com/tomtom215/livehall/internal/logging"
	"github.com/tomtom215/livehall/internal/msgcheck"
	"github.com/tomtom215/livehall/internal/polls"
)

// frameTimeout bounds the work done for one inbound frame. The handler
// runs on the socket's read goroutine, so a stuck store call must not
// freeze the connection's read loop forever.
const frameTimeout = 5 * time.Second

// makeDispatch builds the inbound handler for one admitted socket.
// Every frame re-validates the session first, so a revoked token loses
// its capabilities on the next message instead of at reconnect.
func (g *Gateway) makeDispatch(p *principal) hub.InboundHandler {
	return func(client *hub.Client, data []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
		defer cancel()

		if rec := g.sessions.Get(ctx, p.token); rec == nil {
			client.CloseWithCode(CloseNoSession, "session_expired")
			return
		}

		in, err := envelope.ParseInbound(data)
		if err != nil {
			sendError(client, "Mensaje no válido.")
			return
		}

		switch in.Type {
		case envelope.InPing:
			g.handlePing(ctx, p)
		case envelope.InChat:
			g.handleChat(ctx, client, p, in.Message)
		case envelope.InAsk:
			g.handleAsk(ctx, client, p, in.Question, in.ManualUser)
		case envelope.InApprove, envelope.InReject:
			g.handleModeration(ctx, client, p, in.Type, *in.ID)
		case envelope.InRead, envelope.InReturn:
			g.handleSpeaker(ctx, client, p, in.Type, *in.ID)
		case envelope.InPollStart:
			g.handlePollStart(ctx, client, p, in)
		case envelope.InPollVote:
			g.handlePollVote(ctx, client, p, *in.OptionIndex)
		case envelope.InPollClose:
			g.handlePollClose(ctx, client, p)
		}
	}
}

func sendError(client *hub.Client, message string) {
	payload, err := json.Marshal(envelope.NewError(message))
	if err != nil {
		return
	}
	client.Send(payload)
}

func (g *Gateway) handlePing(ctx context.Context, p *principal) {
	if p.role != envelope.RoleViewer {
		// Staff sockets keep the connection alive but do not count as
		// audience presence.
		return
	}
	if err := g.presence.RecordPing(ctx, p.eventID, p.userID); err != nil {
		logging.Err(err).Int64("user_id", p.userID).Msg("heartbeat handling failed")
	}
}

// handleChat runs the full message path: per-message block recheck,
// validation pipeline, ring append, then fan-out to every role.
func (g *Gateway) handleChat(ctx context.Context, client *hub.Client, p *principal, message string) {
	flags, err := g.store.GetUserModerationFlags(ctx, p.userID)
	if err == nil && (flags.ChatBlocked || flags.Banned) {
		sendError(client, msgChatBlocked)
		return
	}

	if rej := g.checker.Check(ctx, msgcheck.KindChat, p.eventID, p.userID, message); rej != nil {
		sendError(client, rej.Reason)
		return
	}

	frame, err := g.chat.Append(ctx, p.eventID, p.userID, p.displayName, message, p.loc)
	if err != nil {
		logging.Err(err).Int64("user_id", p.userID).Msg("chat append failed")
		sendError(client, "No se pudo enviar el mensaje.")
		return
	}
	g.hub.Broadcast(frame, nil, p.eventID)
}

func (g *Gateway) handleAsk(ctx context.Context, client *hub.Client, p *principal, question, manualUser string) {
	flags, err := g.store.GetUserModerationFlags(ctx, p.userID)
	if err == nil && (flags.QABlocked || flags.Banned) {
		sendError(client, msgQABlocked)
		return
	}

	if rej := g.checker.Check(ctx, msgcheck.KindQA, p.eventID, p.userID, question); rej != nil {
		sendError(client, rej.Reason)
		return
	}

	if err := g.questions.Ask(ctx, p.eventID, p.userID, question, manualUser, p.loc); err != nil {
		logging.Err(err).Int64("user_id", p.userID).Msg("question submit failed")
		sendError(client, "No se pudo enviar la pregunta.")
	}
}

func (g *Gateway) handleModeration(ctx context.Context, client *hub.Client, p *principal, op string, id int64) {
	if p.role != envelope.RoleModerator {
		sendError(client, "Operación no permitida.")
		return
	}

	var err error
	switch op {
	case envelope.InApprove:
		err = g.questions.Approve(ctx, id, p.eventID, p.loc)
	case envelope.InReject:
		err = g.questions.Reject(ctx, id, p.eventID)
	}
	if err != nil {
		logging.Err(err).Str("op", op).Int64("question_id", id).Msg("moderation op failed")
		sendError(client, "No se pudo procesar la pregunta.")
	}
}

func (g *Gateway) handleSpeaker(ctx context.Context, client *hub.Client, p *principal, op string, id int64) {
	if p.role != envelope.RoleSpeaker {
		sendError(client, "Operación no permitida.")
		return
	}

	var err error
	switch op {
	case envelope.InRead:
		err = g.questions.MarkRead(ctx, id, p.eventID)
	case envelope.InReturn:
		err = g.questions.Return(ctx, id, p.eventID, p.loc)
	}
	if err != nil {
		logging.Err(err).Str("op", op).Int64("question_id", id).Msg("speaker op failed")
		sendError(client, "No se pudo procesar la pregunta.")
	}
}

func (g *Gateway) handlePollStart(ctx context.Context, client *hub.Client, p *principal, in envelope.Inbound) {
	if p.role != envelope.RoleModerator && p.role != envelope.RoleSpeaker {
		sendError(client, "Operación no permitida.")
		return
	}

	duration := 0
	if in.DurationMinutes != nil {
		duration = *in.DurationMinutes
	}

	var err error
	if in.PollID != nil {
		err = g.polls.Launch(ctx, p.eventID, *in.PollID, duration)
	} else {
		err = g.polls.StartAdhoc(ctx, p.eventID, in.Question, in.Options, duration)
	}
	if err != nil {
		sendError(client, pollErrMessage(err))
	}
}

func (g *Gateway) handlePollVote(ctx context.Context, client *hub.Client, p *principal, optionIndex int) {
	if err := g.polls.Vote(ctx, p.eventID, p.userID, optionIndex); err != nil {
		sendError(client, pollErrMessage(err))
	}
}

func (g *Gateway) handlePollClose(ctx context.Context, client *hub.Client, p *principal) {
	if p.role != envelope.RoleModerator && p.role != envelope.RoleSpeaker {
		sendError(client, "Operación no permitida.")
		return
	}
	if err := g.polls.Close(ctx, p.eventID); err != nil {
		sendError(client, pollErrMessage(err))
	}
}

// pollErrMessage forwards user-facing poll errors verbatim and masks
// infrastructure failures behind a generic message.
func pollErrMessage(err error) string {
	for _, known := range []error{
		polls.ErrPollLive, polls.ErrNoLivePoll, polls.ErrPollNotFound,
		polls.ErrPollClosed, polls.ErrAlreadyVoted, polls.ErrInvalidOption,
		polls.ErrNotLaunchable,
	} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	logging.Err(err).Msg("poll operation failed")
	return "No se pudo procesar la encuesta."
}
