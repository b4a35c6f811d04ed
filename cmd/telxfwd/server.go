package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"telxfwd/internal/constants"
	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/metrics"
	"telxfwd/internal/middleware"
	"telxfwd/internal/models"
	"telxfwd/internal/queue"
	"telxfwd/internal/service"
	"telxfwd/internal/session"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const healthCheckTimeout = 5 * time.Second

type SessionHealth interface {
	Health(ctx context.Context) (session.HealthReport, error)
}

type JobLedger interface {
	Status(ctx context.Context, id string) (models.JobView, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

type PlanLookup interface {
	PlanLimitsFor(ctx context.Context, userID int64) (service.PlanUsage, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusDeps are the read-only views the status server exposes.
type StatusDeps struct {
	Sessions SessionHealth
	Jobs     JobLedger
	Plans    PlanLookup
	Checks   map[string]Pinger
	Metrics  *metrics.Metrics
}

type Server struct {
	router       *mux.Router
	deps         StatusDeps
	port         int
	logger       *logrus.Logger
	liveInterval time.Duration
	server       *http.Server
}

func NewServer(deps StatusDeps, port int, logger *logrus.Logger) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		deps:         deps,
		port:         port,
		logger:       logger,
		liveInterval: constants.DefaultLiveFeedIntervalSec * time.Second,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger, s.deps.Metrics))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/health", s.handleSessionHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/jobs/{id}", s.handleJobStatus()).Methods(http.MethodGet)
	s.router.HandleFunc("/queue/stats", s.handleQueueStats()).Methods(http.MethodGet)
	s.router.HandleFunc("/users/{id:[0-9]+}/limits", s.handlePlanLimits()).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/status", s.handleLiveStatus()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting status server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{Status: "healthy", Checks: make(map[string]string, len(s.deps.Checks))}
		for name, check := range s.deps.Checks {
			if err := check.Ping(ctx); err != nil {
				resp.Status = "unhealthy"
				resp.Checks[name] = err.Error()
				continue
			}
			resp.Checks[name] = "ok"
		}

		status := http.StatusOK
		if resp.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		s.writeJSON(w, status, resp)
	}
}

func (s *Server) handleSessionHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := s.deps.Sessions.Health(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleJobStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.deps.Jobs.Status(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleQueueStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.deps.Jobs.Stats(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, stats)
	}
}

func (s *Server) handlePlanLimits() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := mux.Vars(r)["id"]
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			s.writeError(w, r, appErrors.NewValidationError("user_id", raw, "must be a positive integer"))
			return
		}

		usage, err := s.deps.Plans.PlanLimitsFor(r.Context(), userID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, usage)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := appErrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"path":  r.URL.Path,
			"error": err.Error(),
		}).Error("Status request failed")
	}
	s.writeJSON(w, status, appErrors.ToHTTPResponse(err))
}
