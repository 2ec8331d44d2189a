// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Package polls runs live polls: one live poll per event, tallies in
// the hot store while running, a durable snapshot at close. The vote
// path is a single hot-store script so two instances can never double
// count a user.
package polls

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/livehall/internal/database"
	"github.com/tomtom215/livehall/internal/envelope"
	"github.com/tomtom215/livehall/internal/logging"
	"github.com/tomtom215/livehall/internal/metrics"
	"github.com/tomtom215/livehall/internal/models"
)

// User-facing poll errors. The gateway forwards these verbatim in a
// sender-only error envelope.
var (
	ErrPollLive      = errors.New("Ya hay una encuesta en curso.")
	ErrNoLivePoll    = errors.New("No hay ninguna encuesta activa.")
	ErrPollNotFound  = errors.New("Encuesta no encontrada.")
	ErrPollClosed    = errors.New("La encuesta ya ha finalizado.")
	ErrAlreadyVoted  = errors.New("Ya has votado en esta encuesta.")
	ErrInvalidOption = errors.New("Opción inválida.")
	ErrNotLaunchable = errors.New("La encuesta no está publicada.")
)

// Repo is the durable slice the poll engine needs.
type Repo interface {
	GetPoll(ctx context.Context, pollID, eventID int64) (*models.Poll, error)
	CreatePoll(ctx context.Context, p *models.Poll) (int64, error)
	SetPollCloseAt(ctx context.Context, pollID, eventID int64, closeAt *time.Time) error
	InsertVoteAudit(ctx context.Context, pollID, eventID, userID int64, optionIndex int) error
	InsertPollResults(ctx context.Context, pollID, eventID int64, tallies map[int]int64) error
}

// Enqueuer accepts deferred durable writes.
type Enqueuer interface {
	Enqueue(job database.Job) error
}

// livePoll is the hot-store descriptor under poll:live:{event}.
type livePoll struct {
	PollID    int64     `json:"poll_id"`
	Question  string    `json:"question"`
	Options   []string  `json:"options"`
	CloseAt   time.Time `json:"close_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (lp *livePoll) descriptor() envelope.PollDescriptor {
	d := envelope.PollDescriptor{
		PollID:    lp.PollID,
		Question:  lp.Question,
		Options:   lp.Options,
		CreatedAt: lp.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !lp.CloseAt.IsZero() {
		d.CloseAt = lp.CloseAt.UTC().Format(time.RFC3339)
	}
	return d
}

// Service is the poll engine.
type Service struct {
	rdb  *redis.Client
	repo Repo
	hub  envelope.Broadcaster
	wb   Enqueuer

	timers *timerTable

	now func() time.Time
}

// New builds the engine over the caches logical database.
func New(rdb *redis.Client, repo Repo, hub envelope.Broadcaster, wb Enqueuer) *Service {
	s := &Service{rdb: rdb, repo: repo, hub: hub, wb: wb, now: time.Now}
	s.timers = newTimerTable(s.autoClose)
	return s
}

func liveKey(eventID int64) string  { return fmt.Sprintf("poll:live:%d", eventID) }
func countsKey(pollID int64) string { return fmt.Sprintf("poll:votes:%d:counts", pollID) }
func votedKey(pollID int64) string  { return fmt.Sprintf("poll:voted:%d", pollID) }

// voteScript claims the user's single vote and bumps the tally in one
// atomic step. Returns -1 when the user had already voted.
var voteScript = redis.NewScript(`
if redis.call('SADD', KEYS[1], ARGV[1]) == 0 then
	return -1
end
return redis.call('HINCRBY', KEYS[2], ARGV[2], 1)
`)

// Launch starts a catalog poll. Exactly one poll may be live per event;
// launching over a running poll fails instead of silently replacing it.
func (s *Service) Launch(ctx context.Context, eventID, pollID int64, durationMinutes int) error {
	poll, err := s.repo.GetPoll(ctx, pollID, eventID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrPollNotFound
		}
		return fmt.Errorf("launch poll %d: %w", pollID, err)
	}
	if poll.Status != models.PollPublished {
		return ErrNotLaunchable
	}
	return s.goLive(ctx, eventID, poll, durationMinutes)
}

// StartAdhoc creates and immediately launches a poll that never went
// through the catalog.
func (s *Service) StartAdhoc(ctx context.Context, eventID int64, question string, options []string, durationMinutes int) error {
	if len(options) < 2 {
		return ErrInvalidOption
	}
	poll := &models.Poll{
		EventID:  eventID,
		Question: question,
		Options:  options,
		Status:   models.PollPublished,
	}
	id, err := s.repo.CreatePoll(ctx, poll)
	if err != nil {
		return fmt.Errorf("create adhoc poll: %w", err)
	}
	poll.ID = id
	return s.goLive(ctx, eventID, poll, durationMinutes)
}

func (s *Service) goLive(ctx context.Context, eventID int64, poll *models.Poll, durationMinutes int) error {
	lp := livePoll{
		PollID:    poll.ID,
		Question:  poll.Question,
		Options:   poll.Options,
		CreatedAt: s.now(),
	}
	if durationMinutes > 0 {
		lp.CloseAt = lp.CreatedAt.Add(time.Duration(durationMinutes) * time.Minute)
	}

	payload, err := json.Marshal(&lp)
	if err != nil {
		return fmt.Errorf("marshal live poll: %w", err)
	}

	// SETNX guards the one-live-poll invariant across instances.
	ok, err := s.rdb.SetNX(ctx, liveKey(eventID), payload, 0).Result()
	if err != nil {
		metrics.HotStoreErrors.Inc()
		return fmt.Errorf("set live poll: %w", err)
	}
	if !ok {
		return ErrPollLive
	}

	// Fresh tallies even if a crashed run left keys behind.
	if err := s.rdb.Del(ctx, countsKey(poll.ID), votedKey(poll.ID)).Err(); err != nil {
		metrics.HotStoreErrors.Inc()
	}

	// Every option starts at zero so readers of the counts hash see the
	// full vector before the first vote lands.
	zeroes := make([]any, 0, len(poll.Options)*2)
	for i := range poll.Options {
		zeroes = append(zeroes, strconv.Itoa(i), 0)
	}
	if err := s.rdb.HSet(ctx, countsKey(poll.ID), zeroes...).Err(); err != nil {
		metrics.HotStoreErrors.Inc()
	}

	if !lp.CloseAt.IsZero() {
		closeAt := lp.CloseAt
		if err := s.repo.SetPollCloseAt(ctx, poll.ID, eventID, &closeAt); err != nil {
			logging.Err(err).Int64("poll_id", poll.ID).Msg("close_at persist failed")
		}
		s.timers.arm(eventID, poll.ID, time.Until(closeAt))
	}

	s.hub.Broadcast(envelope.PollStart{Type: envelope.TypePollStart, Poll: lp.descriptor()}, nil, eventID)
	logging.Info().Int64("event_id", eventID).Int64("poll_id", poll.ID).Msg("poll live")
	return nil
}

// Current returns the live poll descriptor, or nil when none is running.
// New sockets get this as their bootstrap poll_start.
func (s *Service) Current(ctx context.Context, eventID int64) *envelope.PollStart {
	lp := s.readLive(ctx, eventID)
	if lp == nil {
		return nil
	}
	return &envelope.PollStart{Type: envelope.TypePollStart, Poll: lp.descriptor()}
}

func (s *Service) readLive(ctx context.Context, eventID int64) *livePoll {
	payload, err := s.rdb.Get(ctx, liveKey(eventID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			metrics.HotStoreErrors.Inc()
		}
		return nil
	}
	var lp livePoll
	if err := json.Unmarshal(payload, &lp); err != nil {
		logging.Err(err).Int64("event_id", eventID).Msg("corrupt live poll payload")
		return nil
	}
	return &lp
}

// Vote records one vote. Votes that arrive at or before close_at are
// accepted even if processed a moment later; the timer, not the clock
// comparison, is what ends the poll.
func (s *Service) Vote(ctx context.Context, eventID, userID int64, optionIndex int) error {
	lp := s.readLive(ctx, eventID)
	if lp == nil {
		metrics.PollVotes.WithLabelValues("no_poll").Inc()
		return ErrNoLivePoll
	}
	if optionIndex < 0 || optionIndex >= len(lp.Options) {
		metrics.PollVotes.WithLabelValues("invalid").Inc()
		return ErrInvalidOption
	}
	if !lp.CloseAt.IsZero() && s.now().After(lp.CloseAt) {
		metrics.PollVotes.WithLabelValues("closed").Inc()
		return ErrPollClosed
	}

	n, err := voteScript.Run(ctx, s.rdb,
		[]string{votedKey(lp.PollID), countsKey(lp.PollID)},
		strconv.FormatInt(userID, 10), strconv.Itoa(optionIndex)).Int64()
	if err != nil {
		metrics.HotStoreErrors.Inc()
		return fmt.Errorf("vote script: %w", err)
	}
	if n < 0 {
		metrics.PollVotes.WithLabelValues("duplicate").Inc()
		return ErrAlreadyVoted
	}
	metrics.PollVotes.WithLabelValues("accepted").Inc()

	if s.wb != nil {
		pollID := lp.PollID
		_ = s.wb.Enqueue(database.Job{
			Name: "poll-vote-audit",
			Run: func(jctx context.Context) error {
				return s.repo.InsertVoteAudit(jctx, pollID, eventID, userID, optionIndex)
			},
		})
	}

	results, total, err := s.tallies(ctx, lp)
	if err != nil {
		return err
	}
	s.hub.Broadcast(envelope.PollUpdate{
		Type:       envelope.TypePollUpdate,
		PollID:     lp.PollID,
		Results:    results,
		TotalVotes: total,
	}, nil, eventID)
	return nil
}

func (s *Service) tallies(ctx context.Context, lp *livePoll) (map[string]int64, int64, error) {
	raw, err := s.rdb.HGetAll(ctx, countsKey(lp.PollID)).Result()
	if err != nil {
		metrics.HotStoreErrors.Inc()
		return nil, 0, fmt.Errorf("read tallies: %w", err)
	}
	results := make(map[string]int64, len(lp.Options))
	var total int64
	for i := range lp.Options {
		idx := strconv.Itoa(i)
		var votes int64
		if v, ok := raw[idx]; ok {
			votes, _ = strconv.ParseInt(v, 10, 64)
		}
		results[idx] = votes
		total += votes
	}
	return results, total, nil
}

// Close ends the live poll: final tallies broadcast to everyone, hot
// keys deleted, durable snapshot deferred to the write-behind queue.
// Closing with no live poll is an error for the caller but harmless.
func (s *Service) Close(ctx context.Context, eventID int64) error {
	lp := s.readLive(ctx, eventID)
	if lp == nil {
		return ErrNoLivePoll
	}

	results, total, err := s.tallies(ctx, lp)
	if err != nil {
		return err
	}

	s.timers.cancel(eventID, lp.PollID)
	if err := s.rdb.Del(ctx, liveKey(eventID), countsKey(lp.PollID), votedKey(lp.PollID)).Err(); err != nil {
		metrics.HotStoreErrors.Inc()
		return fmt.Errorf("clear live poll: %w", err)
	}

	var end envelope.PollEnd
	end.Type = envelope.TypePollEnd
	end.FinalResults.PollID = lp.PollID
	end.FinalResults.Question = lp.Question
	end.FinalResults.Options = lp.Options
	end.FinalResults.Results = results
	end.FinalResults.TotalVotes = total
	s.hub.Broadcast(end, nil, eventID)

	tallies := make(map[int]int64, len(results))
	for idx, votes := range results {
		if i, err := strconv.Atoi(idx); err == nil {
			tallies[i] = votes
		}
	}
	pollID := lp.PollID
	persist := database.Job{
		Name: "poll-results",
		Run: func(jctx context.Context) error {
			return s.repo.InsertPollResults(jctx, pollID, eventID, tallies)
		},
	}
	if s.wb != nil {
		_ = s.wb.Enqueue(persist)
	} else {
		_ = persist.Run(ctx)
	}

	logging.Info().Int64("event_id", eventID).Int64("poll_id", lp.PollID).
		Int64("total_votes", total).Msg("poll closed")
	return nil
}

// autoClose fires from the timer table. The timer verifies the live
// poll is still the one it was armed for; a manual close followed by a
// relaunch must not kill the new poll.
func (s *Service) autoClose(eventID, pollID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lp := s.readLive(ctx, eventID)
	if lp == nil || lp.PollID != pollID {
		return
	}
	if err := s.Close(ctx, eventID); err != nil {
		logging.Err(err).Int64("poll_id", pollID).Msg("auto close failed")
	}
}

// Stop cancels every armed timer, for shutdown.
func (s *Service) Stop() {
	s.timers.stopAll()
}
