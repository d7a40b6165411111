package model

type Reward struct {
	Syncable
	HouseholdID string `json:"household_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	PointCost   int    `json:"point_cost"`
	Active      bool   `json:"active"`
	Quantity    *int   `json:"quantity,omitempty"`
}

type RewardRedemption struct {
	Syncable
	HouseholdID string `json:"household_id"`
	RewardID    string `json:"reward_id"`
	MemberID    string `json:"member_id"`
	PointsSpent int    `json:"points_spent"`
	RedeemedAt  int64  `json:"redeemed_at"`
}

// PointAdjustment is a manual credit or debit applied by a household admin,
// e.g. a bonus or a correction. Delta may be negative.
type PointAdjustment struct {
	Syncable
	HouseholdID string `json:"household_id"`
	MemberID    string `json:"member_id"`
	Delta       int    `json:"delta"`
	Reason      string `json:"reason,omitempty"`
}

// PointBalance is a computed view, never stored or synced.
type PointBalance struct {
	MemberID    string `json:"member_id"`
	MemberName  string `json:"member_name"`
	TotalEarned int    `json:"total_earned"`
	TotalSpent  int    `json:"total_spent"`
	Balance     int    `json:"balance"`
}
