package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/bywater/internal/chore"
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/store"
	"github.com/dukerupert/bywater/internal/websocket"
)

type ChoreHandler struct {
	reg *store.Registry
	hub *websocket.Hub
}

func NewChoreHandler(reg *store.Registry, hub *websocket.Hub) *ChoreHandler {
	return &ChoreHandler{reg: reg, hub: hub}
}

func (h *ChoreHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

// board loads everything needed to compute chore statuses.
func (h *ChoreHandler) board(r *http.Request) ([]chore.WithStatus, error) {
	ctx := r.Context()
	chores, err := h.reg.Chores.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	completions, err := h.reg.Completions.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	members, err := h.reg.Members.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	cs := make([]model.Chore, len(chores))
	for i, c := range chores {
		cs[i] = *c
	}
	comps := make([]model.ChoreCompletion, len(completions))
	for i, c := range completions {
		comps[i] = *c
	}
	ms := make([]model.Member, len(members))
	for i, m := range members {
		ms[i] = *m
	}
	return chore.BuildToday(cs, comps, ms, time.Now()), nil
}

func (h *ChoreHandler) List(w http.ResponseWriter, r *http.Request) {
	board, err := h.board(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load chores")
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *ChoreHandler) Today(w http.ResponseWriter, r *http.Request) {
	board, err := h.board(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load chores")
		return
	}
	writeJSON(w, http.StatusOK, chore.DueToday(board))
}

type choreRequest struct {
	HouseholdID string  `json:"household_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Points      int     `json:"points"`
	Schedule    string  `json:"schedule"`
	AssignedTo  *string `json:"assigned_to"`
	SortOrder   int     `json:"sort_order"`
}

func (h *ChoreHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req choreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.AssignedTo != nil {
		member, err := h.reg.Members.GetByID(r.Context(), *req.AssignedTo)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check member")
			return
		}
		if member == nil {
			writeError(w, http.StatusBadRequest, "member not found")
			return
		}
	}

	c := &model.Chore{
		HouseholdID: req.HouseholdID,
		Title:       req.Title,
		Description: req.Description,
		Points:      req.Points,
		Schedule:    req.Schedule,
		AssignedTo:  req.AssignedTo,
		SortOrder:   req.SortOrder,
	}
	if err := h.reg.Chores.Insert(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create chore")
		return
	}

	h.broadcast(websocket.ChangeMessage(store.Chores, "insert", c.ID))
	writeJSON(w, http.StatusCreated, c)
}

func (h *ChoreHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.reg.Chores.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get chore")
		return
	}
	if existing == nil || existing.Lifecycle() != model.Active {
		writeError(w, http.StatusNotFound, "chore not found")
		return
	}

	var req choreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	existing.Title = req.Title
	existing.Description = req.Description
	existing.Points = req.Points
	existing.Schedule = req.Schedule
	existing.AssignedTo = req.AssignedTo
	existing.SortOrder = req.SortOrder
	if err := h.reg.Chores.Upsert(r.Context(), existing); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update chore")
		return
	}

	h.broadcast(websocket.ChangeMessage(store.Chores, "update", id))
	writeJSON(w, http.StatusOK, existing)
}

func (h *ChoreHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.reg.Chores.Remove(r.Context(), id, false); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete chore")
		return
	}
	h.broadcast(websocket.ChangeMessage(store.Chores, "delete", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChoreHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.reg.Chores.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get chore")
		return
	}
	if existing == nil || existing.Lifecycle() != model.Active {
		writeError(w, http.StatusNotFound, "chore not found")
		return
	}

	// The body is optional: an empty body is an unattributed completion,
	// but a malformed one is still the client's error.
	var req struct {
		MemberID *string `json:"member_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	comp := &model.ChoreCompletion{
		HouseholdID: existing.HouseholdID,
		ChoreID:     existing.ID,
		MemberID:    req.MemberID,
		Points:      existing.Points,
		CompletedAt: model.NowMillis(),
	}
	if err := h.reg.Completions.Insert(r.Context(), comp); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record completion")
		return
	}

	h.broadcast(websocket.ChangeMessage(store.ChoreCompletions, "insert", comp.ID))
	writeJSON(w, http.StatusCreated, comp)
}

// History lists completions from the last N days (default 7), newest
// first. The window query rides the completed_at index.
func (h *ChoreHandler) History(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 365")
			return
		}
		days = n
	}

	now := model.NowMillis()
	lo := now - int64(days)*24*time.Hour.Milliseconds()
	completions, err := h.reg.Completions.FindByIndexRange(r.Context(), "completed_at", lo, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load completions")
		return
	}
	for i, j := 0, len(completions)-1; i < j; i, j = i+1, j-1 {
		completions[i], completions[j] = completions[j], completions[i]
	}
	writeJSON(w, http.StatusOK, completions)
}

func (h *ChoreHandler) UndoComplete(w http.ResponseWriter, r *http.Request) {
	completionID := r.PathValue("completion_id")
	if err := h.reg.Completions.Remove(r.Context(), completionID, false); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to undo completion")
		return
	}
	h.broadcast(websocket.ChangeMessage(store.ChoreCompletions, "delete", completionID))
	w.WriteHeader(http.StatusNoContent)
}
