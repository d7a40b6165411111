package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/bywater/internal/chore"
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/store"
	"github.com/dukerupert/bywater/internal/websocket"
)

type MemberHandler struct {
	reg *store.Registry
	hub *websocket.Hub
}

func NewMemberHandler(reg *store.Registry, hub *websocket.Hub) *MemberHandler {
	return &MemberHandler{reg: reg, hub: hub}
}

func (h *MemberHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	members, err := h.reg.Members.GetAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load members")
		return
	}
	writeJSON(w, http.StatusOK, members)
}

type memberRequest struct {
	HouseholdID string `json:"household_id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Color       string `json:"color"`
	AvatarEmoji string `json:"avatar_emoji"`
	SortOrder   int    `json:"sort_order"`
}

func (h *MemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	m := &model.Member{
		HouseholdID: req.HouseholdID,
		Name:        req.Name,
		Role:        req.Role,
		Color:       req.Color,
		AvatarEmoji: req.AvatarEmoji,
		SortOrder:   req.SortOrder,
	}
	if err := h.reg.Members.Insert(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create member")
		return
	}

	h.broadcast(websocket.ChangeMessage(store.Members, "insert", m.ID))
	writeJSON(w, http.StatusCreated, m)
}

func (h *MemberHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.reg.Members.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get member")
		return
	}
	if existing == nil || existing.Lifecycle() != model.Active {
		writeError(w, http.StatusNotFound, "member not found")
		return
	}

	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	existing.Name = req.Name
	existing.Role = req.Role
	existing.Color = req.Color
	existing.AvatarEmoji = req.AvatarEmoji
	existing.SortOrder = req.SortOrder
	if err := h.reg.Members.Upsert(r.Context(), existing); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update member")
		return
	}

	h.broadcast(websocket.ChangeMessage(store.Members, "update", id))
	writeJSON(w, http.StatusOK, existing)
}

func (h *MemberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.reg.Members.Remove(r.Context(), id, false); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete member")
		return
	}
	h.broadcast(websocket.ChangeMessage(store.Members, "delete", id))
	w.WriteHeader(http.StatusNoContent)
}

// Points returns every member's earned, spent, and current balance.
func (h *MemberHandler) Points(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	members, err := h.reg.Members.GetAll(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load members")
		return
	}
	completions, err := h.reg.Completions.GetAll(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load completions")
		return
	}
	redemptions, err := h.reg.Redemptions.GetAll(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load redemptions")
		return
	}
	adjustments, err := h.reg.Adjustments.GetAll(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load adjustments")
		return
	}

	ms := make([]model.Member, len(members))
	for i, m := range members {
		ms[i] = *m
	}
	comps := make([]model.ChoreCompletion, len(completions))
	for i, c := range completions {
		comps[i] = *c
	}
	reds := make([]model.RewardRedemption, len(redemptions))
	for i, rd := range redemptions {
		reds[i] = *rd
	}
	adjs := make([]model.PointAdjustment, len(adjustments))
	for i, a := range adjustments {
		adjs[i] = *a
	}

	writeJSON(w, http.StatusOK, chore.Balances(ms, comps, reds, adjs))
}
