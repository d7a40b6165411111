package handler

import (
	"encoding/json"
	"net/http"

	"github.com/dukerupert/bywater/internal/chore"
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/store"
	"github.com/dukerupert/bywater/internal/websocket"
)

type RewardHandler struct {
	reg *store.Registry
	hub *websocket.Hub
}

func NewRewardHandler(reg *store.Registry, hub *websocket.Hub) *RewardHandler {
	return &RewardHandler{reg: reg, hub: hub}
}

func (h *RewardHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

func (h *RewardHandler) List(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.reg.Rewards.GetAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load rewards")
		return
	}
	writeJSON(w, http.StatusOK, rewards)
}

// Redeem spends a member's points on a reward. The balance check runs
// against the local replica only; in the worst case a double redemption
// from two devices briefly goes negative, which the household resolves
// socially rather than transactionally.
func (h *RewardHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reward, err := h.reg.Rewards.GetByID(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get reward")
		return
	}
	if reward == nil || reward.Lifecycle() != model.Active {
		writeError(w, http.StatusNotFound, "reward not found")
		return
	}

	var req struct {
		MemberID string `json:"member_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MemberID == "" {
		writeError(w, http.StatusBadRequest, "member_id is required")
		return
	}
	member, err := h.reg.Members.GetByID(ctx, req.MemberID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get member")
		return
	}
	if member == nil {
		writeError(w, http.StatusBadRequest, "member not found")
		return
	}

	balance, err := h.memberBalance(r, *member)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute balance")
		return
	}
	if balance < reward.PointCost {
		writeError(w, http.StatusConflict, "not enough points")
		return
	}

	red := &model.RewardRedemption{
		HouseholdID: reward.HouseholdID,
		RewardID:    reward.ID,
		MemberID:    member.ID,
		PointsSpent: reward.PointCost,
		RedeemedAt:  model.NowMillis(),
	}
	if err := h.reg.Redemptions.Insert(ctx, red); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record redemption")
		return
	}

	h.broadcast(websocket.ChangeMessage(store.RewardRedemptions, "insert", red.ID))
	writeJSON(w, http.StatusCreated, red)
}

func (h *RewardHandler) memberBalance(r *http.Request, member model.Member) (int, error) {
	ctx := r.Context()
	completions, err := h.reg.Completions.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	redemptions, err := h.reg.Redemptions.FindByIndex(ctx, "member_id", member.ID)
	if err != nil {
		return 0, err
	}
	adjustments, err := h.reg.Adjustments.FindByIndex(ctx, "member_id", member.ID)
	if err != nil {
		return 0, err
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

	balances := chore.Balances([]model.Member{member}, comps, reds, adjs)
	if len(balances) == 0 {
		return 0, nil
	}
	return balances[0].Balance, nil
}
