package handler

import (
	"errors"
	"net/http"

	"github.com/dukerupert/bywater/internal/store"
	replsync "github.com/dukerupert/bywater/internal/sync"
	"github.com/dukerupert/bywater/internal/websocket"
)

type StatusHandler struct {
	reg     *store.Registry
	manager *replsync.Manager
	hub     *websocket.Hub
}

func NewStatusHandler(reg *store.Registry, manager *replsync.Manager, hub *websocket.Hub) *StatusHandler {
	return &StatusHandler{reg: reg, manager: manager, hub: hub}
}

type collectionStatus struct {
	Records  int   `json:"records"`
	LastPull int64 `json:"last_pull"`
	LastPush int64 `json:"last_push"`
}

type statusResponse struct {
	Sync        replsync.Status             `json:"sync"`
	Clients     int                         `json:"clients"`
	Collections map[string]collectionStatus `json:"collections"`
}

// Status reports the sync state plus per-collection record counts and
// watermarks.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := statusResponse{
		Sync:        h.manager.Status(),
		Collections: make(map[string]collectionStatus),
	}
	if h.hub != nil {
		resp.Clients = h.hub.ClientCount()
	}

	for _, col := range h.reg.Synced() {
		n, err := col.Count(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to count "+col.Name())
			return
		}
		wm, err := h.reg.Meta.Get(ctx, col.Name())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read watermarks")
			return
		}
		resp.Collections[col.Name()] = collectionStatus{
			Records:  n,
			LastPull: wm.LastPull,
			LastPush: wm.LastPush,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Sync triggers a full cycle immediately instead of waiting for the next
// probe.
func (h *StatusHandler) Sync(w http.ResponseWriter, r *http.Request) {
	err := h.manager.Sync(r.Context())
	if errors.Is(err, replsync.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "sync failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.manager.Status())
}
