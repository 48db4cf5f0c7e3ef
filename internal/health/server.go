// Package health exposes lightweight HTTP health and stats endpoints for
// container health checks and operators.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"tg_lottery_bot/internal/logging"
)

const (
	databasePingTimeout = 2 * time.Second
	statsTimeout        = 5 * time.Second
	readHeaderTimeout   = 2 * time.Second
	healthListenPrefix  = ":"
)

// DatabaseChecker defines the subset of database behavior required for health.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// StatsSource reports user counts for the /stats endpoint.
type StatsSource interface {
	CountUsers(ctx context.Context) (int64, error)
	CountLowBalanceUsers(ctx context.Context) (int64, error)
}

// Server hosts the health endpoints and owns the underlying HTTP server.
type Server struct {
	server   *http.Server
	logger   *logrus.Entry
	database DatabaseChecker
	stats    StatsSource
}

type response struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

type statsResponse struct {
	Users           int64 `json:"users"`
	LowBalanceUsers int64 `json:"low_balance_users"`
}

// NewServer constructs a server that exposes GET /healthz and GET /stats on
// the provided port. stats may be nil, in which case /stats answers 503.
func NewServer(port int, database DatabaseChecker, stats StatsSource, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger:   logger,
		database: database,
		stats:    stats,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/stats", srv.handleStats)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", healthListenPrefix, port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// ListenAndServe starts the health server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "health_listen",
		"addr":  s.server.Addr,
	}).Info("starting health server")

	if err := s.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("event", "health_stopped").Info("health server stopped")
			return nil
		}

		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: "ok"}

	if s.database == nil {
		resp.Status = "degraded"
		resp.Database = "error"
		s.logger.WithField("event", "health_database_missing").Warn("database checker is not configured for health endpoint")
	} else {
		pingCtx, cancel := context.WithTimeout(r.Context(), databasePingTimeout)
		err := s.database.Ping(pingCtx)
		cancel()

		if err != nil {
			resp.Status = "degraded"
			resp.Database = "error"
			s.logger.WithField("event", "health_database_error").WithError(err).Warn("database ping failed during health check")
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if s.stats == nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()

	users, err := s.stats.CountUsers(ctx)
	if err == nil {
		var low int64
		low, err = s.stats.CountLowBalanceUsers(ctx)
		if err == nil {
			s.writeJSON(w, http.StatusOK, statsResponse{Users: users, LowBalanceUsers: low})
			return
		}
	}

	s.logger.WithField("event", "stats_error").WithError(err).Warn("failed to collect stats")
	http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}
