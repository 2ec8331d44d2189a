// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Package events owns the event lifecycle and registration gate.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/livehall/internal/logging"
	"github.com/tomtom215/livehall/internal/metrics"
	"github.com/tomtom215/livehall/internal/models"
)

var (
	// ErrBadTransition rejects lifecycle moves outside the state machine.
	ErrBadTransition = errors.New("illegal event status transition")

	// ErrSlugTaken rejects a slug already owned by a non-deleted event.
	ErrSlugTaken = errors.New("slug already in use")

	// ErrRegistrationModeUnset means the event row predates the
	// registration mode column. Refusing is deliberate: guessing a mode
	// would silently open or close registration for legacy events.
	ErrRegistrationModeUnset = errors.New("event has no registration mode configured")

	// ErrRegistrationClosed covers every gate the registration window can
	// fail: mode, schedule and capacity.
	ErrRegistrationClosed = errors.New("registration is not open")

	// ErrRegistrationRestricted rejects registrants whose email falls
	// outside a restricted event's allowed domains or whitelist.
	ErrRegistrationRestricted = errors.New("registration restricted")
)

// Store is the durable slice the lifecycle service needs.
type Store interface {
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
	SlugInUse(ctx context.Context, slug string, excludeID int64) (bool, error)
	CreateEvent(ctx context.Context, ev *models.Event) (int64, error)
	UpdateEventStatus(ctx context.Context, id int64, status models.EventStatus) error
	CountRegistrations(ctx context.Context, eventID int64) (int64, error)
	IsEmailWhitelisted(ctx context.Context, eventID int64, email string) (bool, error)
}

// Kicker disconnects an event's sockets, with a farewell message.
type Kicker interface {
	KickAll(eventID int64, message string)
}

const closedMessage = "Esta transmisión ha finalizado."

// Service wraps the durable store with lifecycle rules.
type Service struct {
	store Store
	cache *redis.Client
	kick  Kicker

	now func() time.Time
}

// New builds the service. cache holds the watch-page cache; kick may be
// nil in tools that manage events without a socket tier.
func New(store Store, cache *redis.Client, kick Kicker) *Service {
	return &Service{store: store, cache: cache, kick: kick, now: time.Now}
}

// legalTransitions is the lifecycle graph: forward-only from draft, but
// a closed event may be republished to handle an accidental close.
var legalTransitions = map[models.EventStatus][]models.EventStatus{
	models.EventDraft:     {models.EventPublished},
	models.EventPublished: {models.EventClosed},
	models.EventClosed:    {models.EventPublished},
}

func transitionAllowed(from, to models.EventStatus) bool {
	for _, t := range legalTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Create validates slug uniqueness and inserts a draft event.
func (s *Service) Create(ctx context.Context, ev *models.Event) (int64, error) {
	taken, err := s.store.SlugInUse(ctx, ev.Slug, 0)
	if err != nil {
		return 0, fmt.Errorf("slug check: %w", err)
	}
	if taken {
		return 0, ErrSlugTaken
	}
	ev.Status = models.EventDraft
	return s.store.CreateEvent(ctx, ev)
}

// SetStatus applies one lifecycle transition. Closing an event kicks
// every socket after the status is durable, so a reconnecting client
// sees the closed state, not a race.
func (s *Service) SetStatus(ctx context.Context, eventID int64, to models.EventStatus) error {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.Status == to {
		return nil
	}
	if !transitionAllowed(ev.Status, to) {
		return fmt.Errorf("%w: %s to %s", ErrBadTransition, ev.Status, to)
	}
	if err := s.store.UpdateEventStatus(ctx, eventID, to); err != nil {
		return err
	}
	s.InvalidateWatchCache(ctx, eventID)

	if to == models.EventClosed && s.kick != nil {
		s.kick.KickAll(eventID, closedMessage)
	}
	logging.Info().Int64("event_id", eventID).
		Str("from", string(ev.Status)).Str("to", string(to)).
		Msg("event status changed")
	return nil
}

// CheckRegistration decides whether a registration with the given email
// is admissible right now. The zero return is success.
func (s *Service) CheckRegistration(ctx context.Context, eventID int64, email string) error {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	return s.checkRegistration(ctx, ev, email)
}

func (s *Service) checkRegistration(ctx context.Context, ev *models.Event, email string) error {
	if ev.RegistrationMode == "" {
		return ErrRegistrationModeUnset
	}
	if ev.Status != models.EventPublished {
		return fmt.Errorf("%w: event not published", ErrRegistrationClosed)
	}

	now := s.now()
	if ev.RegistrationOpenAt != nil && now.Before(*ev.RegistrationOpenAt) {
		return fmt.Errorf("%w: opens later", ErrRegistrationClosed)
	}
	if ev.RegistrationCloseAt != nil && now.After(*ev.RegistrationCloseAt) {
		return fmt.Errorf("%w: window passed", ErrRegistrationClosed)
	}

	if ev.Capacity != nil {
		count, err := s.store.CountRegistrations(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("capacity check: %w", err)
		}
		if count >= int64(*ev.Capacity) {
			return fmt.Errorf("%w: at capacity", ErrRegistrationClosed)
		}
	}

	if ev.RegistrationMode == models.RegistrationRestricted {
		return s.checkRestricted(ctx, ev, email)
	}
	return nil
}

// checkRestricted gates a restricted event's registrant by email
// domain, by the per-event whitelist, or by both.
func (s *Service) checkRestricted(ctx context.Context, ev *models.Event, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("%w: email required", ErrRegistrationRestricted)
	}

	rt := ev.RestrictedType
	if rt == "" {
		rt = models.RestrictedDomain
	}

	if rt == models.RestrictedDomain || rt == models.RestrictedBoth {
		domain := strings.ToLower(email[strings.LastIndex(email, "@")+1:])
		if !domainAllowed(ev.AllowedDomains, domain) {
			return fmt.Errorf("%w: domain %s not allowed", ErrRegistrationRestricted, domain)
		}
	}
	if rt == models.RestrictedWhitelist || rt == models.RestrictedBoth {
		ok, err := s.store.IsEmailWhitelisted(ctx, ev.ID, email)
		if err != nil {
			return fmt.Errorf("whitelist check: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: email not whitelisted", ErrRegistrationRestricted)
		}
	}
	return nil
}

// domainAllowed matches a registrant's email domain against the
// event's allowed list, which admins enter free-form: commas,
// semicolons or spaces between entries, with or without a leading @.
func domainAllowed(allowed, domain string) bool {
	allowed = strings.NewReplacer(";", ",", " ", ",").Replace(allowed)
	for _, d := range strings.Split(allowed, ",") {
		d = strings.TrimPrefix(strings.TrimSpace(d), "@")
		if d != "" && strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

func watchKey(eventID int64) string {
	return fmt.Sprintf("watch:event:%d", eventID)
}

// InvalidateWatchCache drops the cached watch-page payload after any
// event mutation. Best effort; an expired cache self-heals anyway.
func (s *Service) InvalidateWatchCache(ctx context.Context, eventID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, watchKey(eventID)).Err(); err != nil {
		metrics.HotStoreErrors.Inc()
		logging.Err(err).Int64("event_id", eventID).Msg("watch cache invalidation failed")
	}
}

// WatchCacheGet reads the cached watch-page payload, nil on miss.
func (s *Service) WatchCacheGet(ctx context.Context, eventID int64) []byte {
	if s.cache == nil {
		return nil
	}
	payload, err := s.cache.Get(ctx, watchKey(eventID)).Bytes()
	if err != nil {
		return nil
	}
	return payload
}

// WatchCacheSet stores the watch-page payload with a TTL backstop so a
// missed invalidation cannot serve stale content forever.
func (s *Service) WatchCacheSet(ctx context.Context, eventID int64, payload []byte, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, watchKey(eventID), payload, ttl).Err(); err != nil {
		metrics.HotStoreErrors.Inc()
	}
}
