package chore

import (
	"sort"

	"github.com/dukerupert/bywater/internal/model"
)

// Balances computes per-member point totals from the replica's history.
// Earned points come from completions (which snapshot the chore's point
// value at completion time) plus positive adjustments; spent points come
// from redemptions plus negative adjustments.
func Balances(members []model.Member, completions []model.ChoreCompletion, redemptions []model.RewardRedemption, adjustments []model.PointAdjustment) []model.PointBalance {
	earned := make(map[string]int)
	spent := make(map[string]int)

	for _, comp := range completions {
		if comp.MemberID != nil {
			earned[*comp.MemberID] += comp.Points
		}
	}
	for _, red := range redemptions {
		spent[red.MemberID] += red.PointsSpent
	}
	for _, adj := range adjustments {
		if adj.Delta >= 0 {
			earned[adj.MemberID] += adj.Delta
		} else {
			spent[adj.MemberID] += -adj.Delta
		}
	}

	out := make([]model.PointBalance, 0, len(members))
	for _, m := range members {
		e, s := earned[m.ID], spent[m.ID]
		out = append(out, model.PointBalance{
			MemberID:    m.ID,
			MemberName:  m.Name,
			TotalEarned: e,
			TotalSpent:  s,
			Balance:     e - s,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberName < out[j].MemberName })
	return out
}
