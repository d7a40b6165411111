// Package server wires the daemon's local HTTP surface: a small JSON API
// over the replica, a health endpoint, and the WebSocket fanout for UIs.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/bywater/internal/handler"
	"github.com/dukerupert/bywater/internal/middleware"
	"github.com/dukerupert/bywater/internal/store"
	replsync "github.com/dukerupert/bywater/internal/sync"
	ws "github.com/dukerupert/bywater/internal/websocket"
)

type Server struct {
	hub     *ws.Hub
	choreH  *handler.ChoreHandler
	memberH *handler.MemberHandler
	rewardH *handler.RewardHandler
	statusH *handler.StatusHandler
	logger  *slog.Logger
}

// New builds the server and connects the sync manager's callbacks to the
// WebSocket hub, so replica changes and status transitions reach every
// connected UI.
func New(reg *store.Registry, manager *replsync.Manager, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger)

	manager.OnStatus(func(st replsync.Status) {
		hub.Broadcast(ws.StatusMessage(st))
	})
	manager.OnChange(func(collection, action, id string) {
		hub.Broadcast(ws.ChangeMessage(collection, action, id))
	})

	return &Server{
		hub:     hub,
		choreH:  handler.NewChoreHandler(reg, hub),
		memberH: handler.NewMemberHandler(reg, hub),
		rewardH: handler.NewRewardHandler(reg, hub),
		statusH: handler.NewStatusHandler(reg, manager, hub),
		logger:  logger.With("component", "server"),
	}
}

// Hub exposes the fanout for other components that broadcast, like the
// backup manager.
func (s *Server) Hub() *ws.Hub { return s.hub }

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.HandleFunc("GET /api/status", s.statusH.Status)
	mux.HandleFunc("POST /api/sync", s.statusH.Sync)

	mux.HandleFunc("GET /api/chores", s.choreH.List)
	mux.HandleFunc("GET /api/chores/today", s.choreH.Today)
	mux.HandleFunc("POST /api/chores", s.choreH.Create)
	mux.HandleFunc("PUT /api/chores/{id}", s.choreH.Update)
	mux.HandleFunc("DELETE /api/chores/{id}", s.choreH.Delete)
	mux.HandleFunc("POST /api/chores/{id}/complete", s.choreH.Complete)
	mux.HandleFunc("GET /api/completions", s.choreH.History)
	mux.HandleFunc("DELETE /api/completions/{completion_id}", s.choreH.UndoComplete)

	mux.HandleFunc("GET /api/members", s.memberH.List)
	mux.HandleFunc("POST /api/members", s.memberH.Create)
	mux.HandleFunc("PUT /api/members/{id}", s.memberH.Update)
	mux.HandleFunc("DELETE /api/members/{id}", s.memberH.Delete)
	mux.HandleFunc("GET /api/points", s.memberH.Points)

	mux.HandleFunc("GET /api/rewards", s.rewardH.List)
	mux.HandleFunc("POST /api/rewards/{id}/redeem", s.rewardH.Redeem)

	mux.Handle("GET /ws", ws.Handler(s.hub))

	return middleware.RequestLogger(s.logger)(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
