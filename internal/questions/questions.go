// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Package questions runs the Q&A moderation pipeline. Audience
// questions land pending and visible only to moderators; approval
// forwards them to speakers; speakers mark them read or send them back.
// Every transition is durable first, then broadcast.
package questions

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/livehall/internal/database"
	"github.com/tomtom215/livehall/internal/envelope"
	"github.com/tomtom215/livehall/internal/logging"
	"github.com/tomtom215/livehall/internal/metrics"
	"github.com/tomtom215/livehall/internal/models"
)

// Repo is the slice of the durable store the pipeline needs.
type Repo interface {
	InsertQuestion(ctx context.Context, eventID, authorID int64, text, manualName string) (*database.QuestionView, error)
	ApproveQuestion(ctx context.Context, id, eventID int64) (*database.QuestionView, bool, error)
	RejectQuestion(ctx context.Context, id, eventID int64) (bool, error)
	MarkQuestionRead(ctx context.Context, id, eventID int64) (bool, error)
	ReturnQuestion(ctx context.Context, id, eventID int64) (*database.QuestionView, bool, error)
	ListQuestions(ctx context.Context, eventID int64, status models.QuestionStatus) ([]*database.QuestionView, error)
}

// Service wires the pipeline to the hub.
type Service struct {
	repo Repo
	hub  envelope.Broadcaster
}

// New builds the pipeline service.
func New(repo Repo, hub envelope.Broadcaster) *Service {
	return &Service{repo: repo, hub: hub}
}

func frame(typ string, qv *database.QuestionView, loc *time.Location) envelope.QuestionFrame {
	if loc == nil {
		loc = time.UTC
	}
	return envelope.QuestionFrame{
		Type:      typ,
		ID:        qv.ID,
		User:      qv.DisplayName,
		Question:  qv.Text,
		Timestamp: qv.CreatedAt.In(loc).Format("15:04"),
	}
}

// Ask stores a new pending question and surfaces it to moderators only.
// The asking viewer gets no echo; their question is invisible until a
// moderator approves it. manualName optionally overrides the displayed
// author name.
func (s *Service) Ask(ctx context.Context, eventID, authorID int64, text, manualName string, loc *time.Location) error {
	qv, err := s.repo.InsertQuestion(ctx, eventID, authorID, text, manualName)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	metrics.QuestionTransitions.WithLabelValues("asked").Inc()
	s.hub.Broadcast(frame(envelope.TypePendingQuestion, qv, loc), []envelope.Role{envelope.RoleModerator}, eventID)
	return nil
}

// Approve moves pending to approved and surfaces the question to the
// whole room: speakers pick it up, moderators see it leave their
// pending list, and viewers (the asker included) finally see it.
// Approving an already approved question re-emits the frame and
// reports success, so racing moderators converge.
func (s *Service) Approve(ctx context.Context, id, eventID int64, loc *time.Location) error {
	qv, _, err := s.repo.ApproveQuestion(ctx, id, eventID)
	if err != nil {
		return fmt.Errorf("approve question %d: %w", id, err)
	}
	metrics.QuestionTransitions.WithLabelValues("approved").Inc()
	s.hub.Broadcast(frame(envelope.TypeApprovedQuestion, qv, loc),
		[]envelope.Role{envelope.RoleViewer, envelope.RoleSpeaker, envelope.RoleModerator}, eventID)
	return nil
}

// Reject deletes a pending question. Only moderator screens ever showed
// it, so only they hear about the removal.
func (s *Service) Reject(ctx context.Context, id, eventID int64) error {
	removed, err := s.repo.RejectQuestion(ctx, id, eventID)
	if err != nil {
		return fmt.Errorf("reject question %d: %w", id, err)
	}
	if !removed {
		logging.Debug().Int64("question_id", id).Msg("reject on non-pending question ignored")
		return nil
	}
	metrics.QuestionTransitions.WithLabelValues("rejected").Inc()
	s.hub.Broadcast(envelope.QuestionRef{Type: envelope.TypeRejectedQuestion, ID: id},
		[]envelope.Role{envelope.RoleModerator}, eventID)
	return nil
}

// MarkRead flags an approved question as answered on air.
func (s *Service) MarkRead(ctx context.Context, id, eventID int64) error {
	moved, err := s.repo.MarkQuestionRead(ctx, id, eventID)
	if err != nil {
		return fmt.Errorf("mark read question %d: %w", id, err)
	}
	if !moved {
		return nil
	}
	metrics.QuestionTransitions.WithLabelValues("read").Inc()
	s.hub.Broadcast(envelope.QuestionRef{Type: envelope.TypeQuestionRead, ID: id},
		[]envelope.Role{envelope.RoleViewer, envelope.RoleSpeaker, envelope.RoleModerator}, eventID)
	return nil
}

// Return sends an approved question back to the moderators' pending
// queue. The removal goes to the whole room so every approved-question
// view drops it; the fresh pending frame goes to moderators only.
func (s *Service) Return(ctx context.Context, id, eventID int64, loc *time.Location) error {
	qv, moved, err := s.repo.ReturnQuestion(ctx, id, eventID)
	if err != nil {
		return fmt.Errorf("return question %d: %w", id, err)
	}
	if !moved {
		return nil
	}
	metrics.QuestionTransitions.WithLabelValues("returned").Inc()
	s.hub.Broadcast(envelope.QuestionRef{Type: envelope.TypeQuestionRemoved, ID: id},
		[]envelope.Role{envelope.RoleViewer, envelope.RoleSpeaker, envelope.RoleModerator}, eventID)
	s.hub.Broadcast(frame(envelope.TypePendingQuestion, qv, loc),
		[]envelope.Role{envelope.RoleModerator}, eventID)
	return nil
}

// Listing is the staff-API view of the pipeline, grouped by status.
type Listing struct {
	Pending  []envelope.QuestionFrame `json:"pending"`
	Approved []envelope.QuestionFrame `json:"approved"`
	Read     []envelope.QuestionFrame `json:"read"`
}

// List returns the event's questions grouped by pipeline state.
// Rejected questions never appear anywhere.
func (s *Service) List(ctx context.Context, eventID int64, loc *time.Location) (*Listing, error) {
	out := &Listing{
		Pending:  []envelope.QuestionFrame{},
		Approved: []envelope.QuestionFrame{},
		Read:     []envelope.QuestionFrame{},
	}
	groups := []struct {
		status models.QuestionStatus
		typ    string
		dst    *[]envelope.QuestionFrame
	}{
		{models.QuestionPending, envelope.TypePendingQuestion, &out.Pending},
		{models.QuestionApproved, envelope.TypeApprovedQuestion, &out.Approved},
		{models.QuestionRead, envelope.TypeQuestionRead, &out.Read},
	}
	for _, g := range groups {
		views, err := s.repo.ListQuestions(ctx, eventID, g.status)
		if err != nil {
			return nil, fmt.Errorf("list %s questions: %w", g.status, err)
		}
		for _, qv := range views {
			*g.dst = append(*g.dst, frame(g.typ, qv, loc))
		}
	}
	return out, nil
}
