// Package api implements the orchestrator's gateway: a live event feed over
// WebSocket tapping the MailBus, and a GET /api/status snapshot — the side of
// the text-dashboard boundary this module owns (spec.md's Non-goals keep
// the dashboard itself out of scope; the feed it would consume is not a
// dashboard).
//
// Grounded on pkg/api/server.go's http.Server + mux wiring and
// pkg/api/ws.go's hub/register/unregister/broadcast pattern.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sipeed/agentclaw/internal/logger"
	"github.com/sipeed/agentclaw/internal/mailbus"
)

// StatusFunc produces the JSON-serializable snapshot GET /api/status returns.
type StatusFunc func(ctx context.Context) interface{}

// Server is the gateway HTTP+WS server.
type Server struct {
	addr      string
	apiKey    string
	startTime time.Time
	status    StatusFunc
	hub       *WSHub
	httpSrv   *http.Server
}

// New constructs a Server that taps bus for its event feed and reports
// status via statusFn.
func New(addr, apiKey string, bus *mailbus.Bus, statusFn StatusFunc) *Server {
	s := &Server{addr: addr, apiKey: apiKey, startTime: time.Now(), status: statusFn}
	s.hub = newWSHub(s)

	for _, topic := range []string{
		mailbus.TopicTaskCreated, mailbus.TopicTaskUpdated, mailbus.TopicTaskAssigned,
		mailbus.TopicTaskClaimed, mailbus.TopicTaskProgress, mailbus.TopicTaskCompleted,
		mailbus.TopicTaskFailed, mailbus.TopicTaskRetryScheduled, mailbus.TopicTaskAvailable,
		mailbus.TopicAgentStarted, mailbus.TopicAgentStopped, mailbus.TopicAgentStatus,
		mailbus.TopicFileLock, mailbus.TopicFileUnlock,
	} {
		t := topic
		bus.Subscribe(t, func(msg mailbus.Message) {
			s.hub.Broadcast(t, msg.Payload)
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/ws", s.hub.HandleWebSocket)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      authMiddleware(apiKey, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the hub loop and the HTTP server. Blocks until ctx is
// cancelled or ListenAndServe returns.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("api", "gateway listening", map[string]interface{}{"addr": s.addr})
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status(r.Context()))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
