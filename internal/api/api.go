// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Package api is the HTTP surface: the socket upgrade endpoint, the
// audience keepalive ping, and the staff management endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/livehall/internal/config"
	"github.com/tomtom215/livehall/internal/envelope"
	"github.com/tomtom215/livehall/internal/events"
	"github.com/tomtom215/livehall/internal/middleware"
	"github.com/tomtom215/livehall/internal/models"
	"github.com/tomtom215/livehall/internal/polls"
	"github.com/tomtom215/livehall/internal/presence"
	"github.com/tomtom215/livehall/internal/questions"
	"github.com/tomtom215/livehall/internal/session"
)

// Store is the durable slice the staff endpoints read and mutate.
// *database.DB satisfies it; tests substitute a fake.
type Store interface {
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
	GetStaffRole(ctx context.Context, userID, eventID int64) (envelope.StaffRole, bool, error)

	ListPolls(ctx context.Context, eventID int64) ([]*models.Poll, error)
	CreatePoll(ctx context.Context, p *models.Poll) (int64, error)
	UpdatePollContent(ctx context.Context, pollID, eventID int64, question string, options []string) error
	SetPollStatus(ctx context.Context, pollID, eventID int64, status models.PollStatus) error
	GetPollResults(ctx context.Context, pollID int64) ([]models.PollResult, error)

	AllParticipants(ctx context.Context, eventID int64) ([]models.SessionAnalytics, error)
	SetUserFlag(ctx context.Context, id int64, flag string, value bool) error
	ForceLastSeenBack(ctx context.Context, eventID, userID int64) error
}

// Trigger requests an out-of-cycle reporting snapshot.
type Trigger interface {
	Trigger(eventID int64)
}

// MetricsHistory reads the retained telemetry snapshots.
type MetricsHistory interface {
	History(ctx context.Context) ([]json.RawMessage, error)
}

// API wires the HTTP handlers to the domain services.
type API struct {
	cfg       *config.Config
	store     Store
	sessions  *session.Store
	presence  *presence.Tracker
	polls     *polls.Service
	questions *questions.Service
	events    *events.Service
	hub       envelope.Broadcaster
	snapshots Trigger
	telemetry MetricsHistory
	ws        http.HandlerFunc
}

// New builds the API. ws is the socket upgrade handler; snapshots and
// telemetry may be nil in tools without a reporting tier.
func New(cfg *config.Config, store Store, sessions *session.Store, tracker *presence.Tracker,
	pollSvc *polls.Service, questionSvc *questions.Service, eventSvc *events.Service,
	hub envelope.Broadcaster, snapshots Trigger, telem MetricsHistory, ws http.HandlerFunc) *API {
	return &API{
		cfg:       cfg,
		store:     store,
		sessions:  sessions,
		presence:  tracker,
		polls:     pollSvc,
		questions: questionSvc,
		events:    eventSvc,
		hub:       hub,
		snapshots: snapshots,
		telemetry: telem,
		ws:        ws,
	}
}

// Router assembles the route tree. The socket endpoint skips the
// metrics wrapper so long-lived upgrades do not distort the latency
// histogram.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", a.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", a.ws)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)

		r.With(httprate.LimitByIP(a.cfg.Server.PingRateLimit, time.Minute)).
			Post("/ping", a.handlePing)

		r.With(a.requireSuperadmin).Get("/telemetry/history", a.handleTelemetryHistory)

		r.Route("/staff", func(r chi.Router) {
			r.With(a.requireSuperadmin).Post("/events", a.handleCreateEvent)

			r.Route("/events/{eventID}", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(a.requireStaff(envelope.StaffModerator))

					r.Get("/questions", a.handleListQuestions)
					r.Get("/sessions", a.handleListSessions)

					r.Get("/polls", a.handleListPolls)
					r.Post("/polls", a.handleCreatePoll)
					r.Post("/polls/adhoc", a.handleAdhocPoll)
					r.Post("/polls/close", a.handleClosePoll)
					r.Put("/polls/{pollID}", a.handleUpdatePoll)
					r.Post("/polls/{pollID}/publish", a.handlePublishPoll)
					r.Post("/polls/{pollID}/launch", a.handleLaunchPoll)
					r.Get("/polls/{pollID}/results", a.handlePollResults)

					r.Post("/users/{userID}/flags", a.handleSetUserFlag)
				})

				r.Group(func(r chi.Router) {
					r.Use(a.requireStaff(envelope.StaffAdmin))

					r.Post("/status", a.handleSetEventStatus)
					r.Post("/users/{userID}/force_logout", a.handleForceLogout)
				})
			})
		})
	})

	return r
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTelemetryHistory serves the retained metric snapshots for the
// operator dashboard's history view.
func (a *API) handleTelemetryHistory(w http.ResponseWriter, r *http.Request) {
	if a.telemetry == nil {
		writeError(w, http.StatusNotFound, "telemetry disabled")
		return
	}
	history, err := a.telemetry.History(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, history)
}
