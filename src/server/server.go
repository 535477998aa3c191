// Package server exposes the replication engine over HTTP: status and
// mapping snapshots, guard inspection and reset, and a websocket feed of
// engine log events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"grouptrade/src/engine"
	"grouptrade/src/journal"
	"grouptrade/src/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The engine runs next to its operator UI; no cross-origin policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the engine's HTTP API.
type Server struct {
	engine  *engine.Engine
	journal *journal.Repository
}

// NewServer wires the API around a running engine. The journal may be nil.
func NewServer(e *engine.Engine, j *journal.Repository) *Server {
	return &Server{engine: e, journal: j}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("healthcheck write failed")
		}
	})

	r.Get("/status", s.handleStatus)
	r.Get("/mappings", s.handleMappings)
	r.Get("/events", s.handleEvents)
	r.Get("/guard/{account}", s.handleGuardState)
	r.Post("/guard/{account}/reset", s.handleGuardReset)
	r.Get("/ws/logs", s.handleLogStream)

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.engine.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"is_running":        status.IsRunning,
		"total_copied":      status.TotalCopied,
		"successful_orders": status.SuccessfulOrders,
		"failed_orders":     status.FailedOrders,
		"active_mappings":   status.ActiveMappings,
		"guard_triggers":    status.GuardTriggers,
		"success_rate":      status.SuccessRate(),
		"last_copy_time":    status.LastCopyTime,
		"start_time":        status.StartTime,
	})
}

func (s *Server) handleMappings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ActiveMappings())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusOK, []model.CopyEvent{})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.journal.RecentEvents(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load copy events")
		return
	}
	if events == nil {
		events = []model.CopyEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleGuardState(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	state, ok := s.engine.Guard().GetState(account)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown follower account")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_name":           state.AccountName,
		"protected":              state.Protected,
		"protection_reason":      state.ProtectionReason,
		"protection_time":        state.ProtectionTime,
		"total_trades":           state.TotalTrades,
		"consecutive_losses":     state.ConsecutiveLosses,
		"consecutive_rejections": state.ConsecutiveRejections,
		"daily_loss":             state.DailyLoss,
		"starting_equity":        state.StartingEquity,
	})
}

func (s *Server) handleGuardReset(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	if _, ok := s.engine.Guard().GetState(account); !ok {
		writeError(w, http.StatusNotFound, "unknown follower account")
		return
	}
	s.engine.Guard().ResetProtection(account)
	writeJSON(w, http.StatusOK, map[string]string{"result": "protection reset"})
}

// handleLogStream upgrades to a websocket and pushes engine log entries
// until the client goes away.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Error("websocket upgrade failed")
		return
	}
	defer conn.Close()

	entries := make(chan model.LogEntry, 128)
	unsubscribe := s.engine.SubscribeLogs(func(entry model.LogEntry) {
		select {
		case entries <- entry:
		default:
			// A stalled client loses entries instead of stalling the engine.
		}
	})
	defer unsubscribe()

	// Reader goroutine detects the client closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case entry := <-entries:
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// StartServer runs the API until SIGINT or SIGTERM, then shuts down
// gracefully.
func StartServer(port string, e *engine.Engine, j *journal.Repository) {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: NewServer(e, j).Router(),
	}

	go func() {
		logger.Infof("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
